package repo

import (
	"context"
	"database/sql"
	"strings"
)

// GetIdempotentResult returns the stored result JSON for a caller token.
func (r Repo) GetIdempotentResult(ctx context.Context, tenantID, key string) (string, error) {
	var result string
	err := r.DB.QueryRowContext(ctx,
		`SELECT result_json FROM idempotency_keys WHERE tenant_id=? AND key=?`, tenantID, key).Scan(&result)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return result, err
}

// InsertIdempotencyKey records a token with its result inside the mutation
// transaction, so the write and the dedup marker commit atomically.
func (r Repo) InsertIdempotencyKey(ctx context.Context, tx *sql.Tx, tenantID, key, resultJSON, createdAt string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO idempotency_keys(tenant_id,key,result_json,created_at) VALUES (?,?,?,?)`,
		tenantID, key, resultJSON, createdAt)
	return err
}

// IsDuplicateKey reports whether err is the sqlite unique-constraint
// violation raised by a concurrent insert of the same token.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}
