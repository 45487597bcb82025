// Package audit appends entries to the activity log. Append errors are the
// caller's to report, never to propagate into a command result.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"workdesk/internal/domain"
)

type Logger struct {
	DB  *sql.DB
	Now func() time.Time
}

// LogError wraps a failed append so callers can recognize it as non-fatal.
type LogError struct {
	Err error
}

func (e LogError) Error() string { return fmt.Sprintf("activity log append: %v", e.Err) }
func (e LogError) Unwrap() error { return e.Err }

func (l Logger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Append writes exactly one activity entry.
func (l Logger) Append(ctx context.Context, e domain.ActivityEntry) error {
	if e.CreatedAt == "" {
		e.CreatedAt = l.now().UTC().Format(time.RFC3339)
	}
	_, err := l.DB.ExecContext(ctx,
		`INSERT INTO activity_log(tenant_id,user_id,entity,entity_id,action,description,meta_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		e.TenantID, e.UserID, e.Entity, nullable(e.EntityID), e.Action, e.Description, nullable(e.MetaJSON), e.CreatedAt)
	if err != nil {
		return LogError{Err: err}
	}
	return nil
}

// List returns the most recent entries for a tenant, newest first.
func (l Logger) List(ctx context.Context, tenantID string, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := l.DB.QueryContext(ctx,
		`SELECT id,tenant_id,user_id,entity,COALESCE(entity_id,''),action,description,COALESCE(meta_json,''),created_at
		 FROM activity_log WHERE tenant_id=? ORDER BY id DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.Entity, &e.EntityID, &e.Action, &e.Description, &e.MetaJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the total number of entries for a tenant.
func (l Logger) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := l.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_log WHERE tenant_id=?`, tenantID).Scan(&n)
	return n, err
}

// MarshalMeta encodes command parameters for the meta column.
func MarshalMeta(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(b)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
