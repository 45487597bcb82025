// Package prefs stores per-user automation preferences. The rule that an
// absent row reads as ask lives here and nowhere else, so no caller can
// accidentally default to always.
package prefs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"workdesk/internal/domain"
)

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

// InvalidPreferenceError reports a value outside always/ask/never.
type InvalidPreferenceError struct {
	AutomationType string
	Value          string
}

func (e InvalidPreferenceError) Error() string {
	return fmt.Sprintf("invalid preference %q for %s", e.Value, e.AutomationType)
}

func valid(pref string) bool {
	switch pref {
	case domain.PrefAlways, domain.PrefAsk, domain.PrefNever:
		return true
	}
	return false
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Get returns the preference for one automation type. A missing row reads
// as ask.
func (s Store) Get(ctx context.Context, userID, tenantID, automationType string) (string, error) {
	var pref string
	err := s.DB.QueryRowContext(ctx,
		`SELECT preference FROM automation_preferences WHERE user_id=? AND tenant_id=? AND automation_type=?`,
		userID, tenantID, automationType).Scan(&pref)
	if err == sql.ErrNoRows {
		return domain.PrefAsk, nil
	}
	if err != nil {
		return "", err
	}
	if !valid(pref) {
		// A corrupted row never opens the always path.
		return domain.PrefAsk, nil
	}
	return pref, nil
}

// List returns every stored preference for a user within a tenant.
func (s Store) List(ctx context.Context, userID, tenantID string) ([]domain.AutomationPreference, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT user_id,tenant_id,automation_type,preference,updated_at
		 FROM automation_preferences WHERE user_id=? AND tenant_id=? ORDER BY automation_type`,
		userID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var prefs []domain.AutomationPreference
	for rows.Next() {
		var p domain.AutomationPreference
		if err := rows.Scan(&p.UserID, &p.TenantID, &p.AutomationType, &p.Preference, &p.UpdatedAt); err != nil {
			return nil, err
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// Set validates and upserts a batch of preference updates for the acting
// user. Rows are created lazily on first write.
func (s Store) Set(ctx context.Context, userID, tenantID string, updates map[string]string) ([]domain.AutomationPreference, error) {
	for automationType, pref := range updates {
		if !valid(pref) {
			return nil, InvalidPreferenceError{AutomationType: automationType, Value: pref}
		}
	}
	now := s.now().UTC().Format(time.RFC3339)
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for automationType, pref := range updates {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO automation_preferences(user_id,tenant_id,automation_type,preference,updated_at)
			 VALUES (?,?,?,?,?)
			 ON CONFLICT(user_id,tenant_id,automation_type) DO UPDATE SET preference=excluded.preference, updated_at=excluded.updated_at`,
			userID, tenantID, automationType, pref, now); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.List(ctx, userID, tenantID)
}
