package prefs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"workdesk/internal/db"
	"workdesk/internal/domain"
	"workdesk/internal/migrate"
	"workdesk/internal/prefs"
)

func newStore(t *testing.T) prefs.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return prefs.Store{
		DB:  conn,
		Now: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestAbsentRowReadsAsAsk(t *testing.T) {
	s := newStore(t)
	got, err := s.Get(context.Background(), "u-1", "t-1", "deal.create")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != domain.PrefAsk {
		t.Fatalf("absent row = %q, want ask", got)
	}
}

func TestSetAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	out, err := s.Set(ctx, "u-1", "t-1", map[string]string{
		"deal.create": domain.PrefAlways,
		"deal.delete": domain.PrefNever,
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(out))
	}
	got, _ := s.Get(ctx, "u-1", "t-1", "deal.create")
	if got != domain.PrefAlways {
		t.Fatalf("deal.create = %q", got)
	}
	got, _ = s.Get(ctx, "u-1", "t-1", "deal.delete")
	if got != domain.PrefNever {
		t.Fatalf("deal.delete = %q", got)
	}
	// other users unaffected
	got, _ = s.Get(ctx, "u-2", "t-1", "deal.create")
	if got != domain.PrefAsk {
		t.Fatalf("other user = %q, want ask", got)
	}
	// other tenants unaffected
	got, _ = s.Get(ctx, "u-1", "t-2", "deal.create")
	if got != domain.PrefAsk {
		t.Fatalf("other tenant = %q, want ask", got)
	}
}

func TestSetRejectsInvalidValue(t *testing.T) {
	s := newStore(t)
	_, err := s.Set(context.Background(), "u-1", "t-1", map[string]string{"deal.create": "sometimes"})
	var ip prefs.InvalidPreferenceError
	if !errors.As(err, &ip) {
		t.Fatalf("expected InvalidPreferenceError, got %v", err)
	}
	// nothing was written
	got, _ := s.Get(context.Background(), "u-1", "t-1", "deal.create")
	if got != domain.PrefAsk {
		t.Fatalf("partial write: %q", got)
	}
}

func TestUpsertOverwrites(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if _, err := s.Set(ctx, "u-1", "t-1", map[string]string{"quote.accept": domain.PrefNever}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Set(ctx, "u-1", "t-1", map[string]string{"quote.accept": domain.PrefAlways}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, "u-1", "t-1", "quote.accept")
	if got != domain.PrefAlways {
		t.Fatalf("after overwrite = %q", got)
	}
}
