package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"workdesk/internal/domain"
)

// HashAPIKey digests a plaintext key for storage and lookup. Only the
// digest ever touches the database.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return fmt.Sprintf("%x", sum)
}

// InsertAPIKey stores an already-hashed machine key bound to one user in
// one tenant.
func (r Repo) InsertAPIKey(ctx context.Context, key domain.APIKey) error {
	switch {
	case key.ID == "":
		return errors.New("api key: id required")
	case key.UserID == "" || key.TenantID == "":
		return errors.New("api key: user_id and tenant_id required")
	case key.KeyHash == "":
		return errors.New("api key: key_hash required")
	}
	createdAt := key.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO api_keys(id,user_id,tenant_id,name,key_hash,created_at) VALUES (?,?,?,?,?,?)`,
		key.ID, key.UserID, key.TenantID, nullable(key.Name), key.KeyHash, createdAt)
	return err
}

// GetAPIKeyByHash resolves the principal behind a presented key. The
// caller hashes the plaintext first; ErrNotFound covers unknown keys.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var key domain.APIKey
	err := r.DB.QueryRowContext(ctx,
		`SELECT id,user_id,tenant_id,COALESCE(name,''),key_hash,created_at FROM api_keys WHERE key_hash=? LIMIT 1`,
		hash).Scan(&key.ID, &key.UserID, &key.TenantID, &key.Name, &key.KeyHash, &key.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, ErrNotFound
	}
	return key, err
}
