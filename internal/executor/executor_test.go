package executor_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"workdesk/internal/audit"
	"workdesk/internal/db"
	"workdesk/internal/domain"
	"workdesk/internal/executor"
	"workdesk/internal/migrate"
	"workdesk/internal/prefs"
	"workdesk/internal/preview"
	"workdesk/internal/repo"
)

const (
	testTenant = "t-1"
	testUser   = "u-1"
)

type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (c *callRecorder) record(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
}

type recordingStates struct {
	inner executor.StateReader
	rec   *callRecorder
}

func (r recordingStates) GetLifecycleState(ctx context.Context, tenantID string, kind domain.EntityKind, id string) (string, error) {
	r.rec.record("stage_guard")
	return r.inner.GetLifecycleState(ctx, tenantID, kind, id)
}

type recordingPrefs struct {
	inner executor.PreferenceReader
	rec   *callRecorder
}

func (r recordingPrefs) Get(ctx context.Context, userID, tenantID, automationType string) (string, error) {
	r.rec.record("preference")
	return r.inner.Get(ctx, userID, tenantID, automationType)
}

type failingAudit struct{}

func (failingAudit) Append(ctx context.Context, e domain.ActivityEntry) error {
	return audit.LogError{Err: errors.New("sink unavailable")}
}

type testEnv struct {
	DB    *sql.DB
	Repo  repo.Repo
	Prefs prefs.Store
	Audit audit.Logger
	Exec  executor.Executor
	Rec   *callRecorder
	Ctx   context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetMaxOpenConns(1)
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	now := func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	ps := prefs.Store{DB: conn, Now: now}
	al := audit.Logger{DB: conn, Now: now}
	rec := &callRecorder{}
	exec := executor.Executor{
		DB:            conn,
		Repo:          r,
		States:        recordingStates{inner: r, rec: rec},
		Prefs:         recordingPrefs{inner: ps, rec: rec},
		Previews:      preview.Generator{Repo: r},
		Audit:         al,
		ConfirmSecret: "test-secret",
		Now:           now,
		Logger:        log.New(&strings.Builder{}, "", 0),
	}
	return &testEnv{DB: conn, Repo: r, Prefs: ps, Audit: al, Exec: exec, Rec: rec, Ctx: context.Background()}
}

func (env *testEnv) seedDeal(t *testing.T, id, stage string) {
	t.Helper()
	tx, err := env.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	now := "2026-01-15T00:00:00Z"
	if err := env.Repo.InsertDeal(env.Ctx, tx, domain.Deal{
		ID: id, TenantID: testTenant, Title: "Acme expansion", Value: 50000, Stage: stage,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed deal: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func (env *testEnv) setPref(t *testing.T, automationType, value string) {
	t.Helper()
	if _, err := env.Prefs.Set(env.Ctx, testUser, testTenant, map[string]string{automationType: value}); err != nil {
		t.Fatalf("set pref: %v", err)
	}
}

func allCaps() []string { return []string{"*"} }

func request(cmd domain.Command) executor.Request {
	return executor.Request{
		Command:      cmd,
		UserID:       testUser,
		TenantID:     testTenant,
		Capabilities: allCaps(),
	}
}

func dealCreate() domain.Command {
	return domain.Command{
		Entity: domain.EntityDeal,
		Action: domain.ActionCreate,
		Params: map[string]any{"title": "Acme", "value": float64(50000)},
		Locale: "tr",
	}
}

func TestCreateDealExecutesAndLogs(t *testing.T) {
	env := newTestEnv(t)
	env.setPref(t, "deal.create", domain.PrefAlways)

	res := env.Exec.Execute(env.Ctx, request(dealCreate()))
	if !res.Success || res.Status != domain.StatusExecuted {
		t.Fatalf("result: %+v", res)
	}
	if res.AffectedEntityID == "" {
		t.Fatalf("missing affected id")
	}
	d, err := env.Repo.GetDeal(env.Ctx, testTenant, res.AffectedEntityID)
	if err != nil {
		t.Fatalf("deal not stored: %v", err)
	}
	if d.Stage != "lead" {
		t.Fatalf("initial stage = %q, want lead", d.Stage)
	}
	entries, err := env.Audit.List(env.Ctx, testTenant, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("activity entries = %d, want 1", len(entries))
	}
	if entries[0].Action != "create" || entries[0].Entity != "deal" {
		t.Fatalf("entry: %+v", entries[0])
	}
}

func TestCheckOrderGuardBeforePreference(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, "d-1", "lead")
	env.setPref(t, "deal.update", domain.PrefAlways)

	cmd := domain.Command{
		Entity: domain.EntityDeal,
		Action: domain.ActionUpdate,
		Params: map[string]any{"id": "d-1", "value": float64(60000)},
		Locale: "en",
	}
	res := env.Exec.Execute(env.Ctx, request(cmd))
	if !res.Success {
		t.Fatalf("result: %+v", res)
	}
	if len(env.Rec.calls) != 2 || env.Rec.calls[0] != "stage_guard" || env.Rec.calls[1] != "preference" {
		t.Fatalf("call order: %v", env.Rec.calls)
	}
}

func TestSchemaFailureShortCircuits(t *testing.T) {
	env := newTestEnv(t)
	cmd := domain.Command{Entity: domain.EntityDeal, Action: "merge", Locale: "en"}
	res := env.Exec.Execute(env.Ctx, request(cmd))
	if res.Status != domain.StatusRejected || res.Code != executor.CodeUnsupportedCommand {
		t.Fatalf("result: %+v", res)
	}
	if len(env.Rec.calls) != 0 {
		t.Fatalf("no collaborator should be consulted, got %v", env.Rec.calls)
	}
}

func TestUpdateIgnoresUndeclaredParams(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, "d-1", "lead")
	env.setPref(t, "deal.update", domain.PrefAlways)

	cmd := domain.Command{
		Entity: domain.EntityDeal,
		Action: domain.ActionUpdate,
		Params: map[string]any{"id": "d-1", "value": float64(60000), "junk": "x"},
		Locale: "en",
	}
	res := env.Exec.Execute(env.Ctx, request(cmd))
	if !res.Success || res.Status != domain.StatusExecuted {
		t.Fatalf("result: %+v", res)
	}
	d, err := env.Repo.GetDeal(env.Ctx, testTenant, "d-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Value != 60000 {
		t.Fatalf("value = %v, want 60000", d.Value)
	}
	entries, err := env.Audit.List(env.Ctx, testTenant, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || strings.Contains(entries[0].MetaJSON, "junk") {
		t.Fatalf("entries: %+v", entries)
	}
}

func TestUpdateWithNoFieldsRejectedBeforeWrite(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, "d-1", "lead")
	env.setPref(t, "deal.update", domain.PrefAlways)

	for _, params := range []map[string]any{
		{"id": "d-1"},
		{"id": "d-1", "junk": "x"},
	} {
		cmd := domain.Command{
			Entity: domain.EntityDeal,
			Action: domain.ActionUpdate,
			Params: params,
			Locale: "en",
		}
		res := env.Exec.Execute(env.Ctx, request(cmd))
		if res.Status != domain.StatusRejected || res.Code != executor.CodeEmptyUpdate {
			t.Fatalf("params %v: result %+v", params, res)
		}
	}
	if len(env.Rec.calls) != 0 {
		t.Fatalf("schema rejection must precede guard and preference, got %v", env.Rec.calls)
	}
	entries, err := env.Audit.List(env.Ctx, testTenant, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("no-op update logged: %+v", entries)
	}
}

func TestPermissionDenied(t *testing.T) {
	env := newTestEnv(t)
	req := request(dealCreate())
	req.Capabilities = []string{"quote.create"}
	res := env.Exec.Execute(env.Ctx, req)
	if res.Code != executor.CodePermissionDenied {
		t.Fatalf("result: %+v", res)
	}
	if len(env.Rec.calls) != 0 {
		t.Fatalf("guard/preference consulted after auth failure: %v", env.Rec.calls)
	}
}

func TestDeleteWonDealRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, "d-won", "won")
	env.setPref(t, "deal.delete", domain.PrefAlways)

	cmd := domain.Command{
		Entity: domain.EntityDeal,
		Action: domain.ActionDelete,
		Params: map[string]any{"id": "d-won"},
		Locale: "en",
	}
	res := env.Exec.Execute(env.Ctx, request(cmd))
	if res.Status != domain.StatusRejected || res.Code != executor.CodeImmutableState {
		t.Fatalf("result: %+v", res)
	}
	if _, err := env.Repo.GetDeal(env.Ctx, testTenant, "d-won"); err != nil {
		t.Fatalf("deal deleted despite terminal state: %v", err)
	}
	if n, _ := env.Audit.Count(env.Ctx, testTenant); n != 0 {
		t.Fatalf("activity entries = %d, want 0", n)
	}
}

func TestUpdateWonDealRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, "d-won", "won")
	cmd := domain.Command{
		Entity: domain.EntityDeal,
		Action: domain.ActionUpdate,
		Params: map[string]any{"id": "d-won", "value": float64(1)},
		Locale: "en",
	}
	res := env.Exec.Execute(env.Ctx, request(cmd))
	if res.Code != executor.CodeImmutableState {
		t.Fatalf("result: %+v", res)
	}
	d, _ := env.Repo.GetDeal(env.Ctx, testTenant, "d-won")
	if d.Value != 50000 {
		t.Fatalf("deal mutated: %+v", d)
	}
}

func TestPreferenceNeverBlocksEverything(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, "d-1", "lead")
	env.setPref(t, "deal.update", domain.PrefNever)

	cmd := domain.Command{
		Entity: domain.EntityDeal,
		Action: domain.ActionUpdate,
		Params: map[string]any{"id": "d-1", "value": float64(1)},
		Locale: "en",
	}
	res := env.Exec.Execute(env.Ctx, request(cmd))
	if res.Status != domain.StatusRejected || res.Code != executor.CodePreferenceDenied {
		t.Fatalf("result: %+v", res)
	}
	d, _ := env.Repo.GetDeal(env.Ctx, testTenant, "d-1")
	if d.Value != 50000 {
		t.Fatalf("deal mutated despite never preference")
	}
}

func TestAskPausesThenTokenExecutes(t *testing.T) {
	env := newTestEnv(t)
	// no preference row: defaults to ask

	res := env.Exec.Execute(env.Ctx, request(dealCreate()))
	if res.Status != domain.StatusNeedsConfirmation {
		t.Fatalf("result: %+v", res)
	}
	if res.Preview == nil || res.ConfirmationToken == "" {
		t.Fatalf("confirmation pause missing payload: %+v", res)
	}
	if !strings.Contains(res.Preview.Summary, "Acme") {
		t.Fatalf("preview summary: %q", res.Preview.Summary)
	}
	if n, _ := env.Repo.CountEntities(env.Ctx, testTenant, domain.EntityDeal); n != 0 {
		t.Fatalf("confirmation pause wrote %d deals", n)
	}
	if n, _ := env.Audit.Count(env.Ctx, testTenant); n != 0 {
		t.Fatalf("confirmation pause logged activity")
	}

	req := request(dealCreate())
	req.ConfirmationToken = res.ConfirmationToken
	res2 := env.Exec.Execute(env.Ctx, req)
	if !res2.Success || res2.Status != domain.StatusExecuted {
		t.Fatalf("confirmed execute: %+v", res2)
	}
	if n, _ := env.Repo.CountEntities(env.Ctx, testTenant, domain.EntityDeal); n != 1 {
		t.Fatalf("deals = %d, want 1", n)
	}
	if n, _ := env.Audit.Count(env.Ctx, testTenant); n != 1 {
		t.Fatalf("activity entries = %d, want 1", n)
	}
}

func TestConfirmationTokenBoundToCommand(t *testing.T) {
	env := newTestEnv(t)
	res := env.Exec.Execute(env.Ctx, request(dealCreate()))
	if res.Status != domain.StatusNeedsConfirmation {
		t.Fatalf("result: %+v", res)
	}
	// change the command: the old token must not unlock it
	altered := dealCreate()
	altered.Params["value"] = float64(99999)
	req := request(altered)
	req.ConfirmationToken = res.ConfirmationToken
	res2 := env.Exec.Execute(env.Ctx, req)
	if res2.Status != domain.StatusNeedsConfirmation {
		t.Fatalf("altered command accepted stale token: %+v", res2)
	}
}

func TestReferenceNotFound(t *testing.T) {
	env := newTestEnv(t)
	cmd := domain.Command{
		Entity: domain.EntityDeal,
		Action: domain.ActionDelete,
		Params: map[string]any{"id": "nope"},
		Locale: "en",
	}
	res := env.Exec.Execute(env.Ctx, request(cmd))
	if res.Code != executor.CodeReferenceNotFound {
		t.Fatalf("result: %+v", res)
	}
}

func TestTenantScoping(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, "d-1", "lead")
	cmd := domain.Command{
		Entity: domain.EntityDeal,
		Action: domain.ActionDelete,
		Params: map[string]any{"id": "d-1"},
		Locale: "en",
	}
	req := request(cmd)
	req.TenantID = "t-other"
	res := env.Exec.Execute(env.Ctx, req)
	if res.Code != executor.CodeReferenceNotFound {
		t.Fatalf("cross-tenant access: %+v", res)
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, "d-1", "lead")
	env.setPref(t, "deal.advance_stage", domain.PrefAlways)
	cmd := domain.Command{
		Entity: domain.EntityDeal,
		Action: domain.ActionAdvanceStage,
		Params: map[string]any{"id": "d-1", "stage": "won"},
		Locale: "en",
	}
	res := env.Exec.Execute(env.Ctx, request(cmd))
	if res.Code != executor.CodeInvalidTransition {
		t.Fatalf("result: %+v", res)
	}
	d, _ := env.Repo.GetDeal(env.Ctx, testTenant, "d-1")
	if d.Stage != "lead" {
		t.Fatalf("stage mutated: %s", d.Stage)
	}
}

func TestAdvanceStageLegal(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, "d-1", "negotiation")
	env.setPref(t, "deal.advance_stage", domain.PrefAlways)
	cmd := domain.Command{
		Entity: domain.EntityDeal,
		Action: domain.ActionAdvanceStage,
		Params: map[string]any{"id": "d-1", "stage": "won"},
		Locale: "en",
	}
	res := env.Exec.Execute(env.Ctx, request(cmd))
	if !res.Success {
		t.Fatalf("result: %+v", res)
	}
	d, _ := env.Repo.GetDeal(env.Ctx, testTenant, "d-1")
	if d.Stage != "won" {
		t.Fatalf("stage = %s, want won", d.Stage)
	}
}

func TestAuditFailureDoesNotDowngradeResult(t *testing.T) {
	env := newTestEnv(t)
	env.setPref(t, "deal.create", domain.PrefAlways)
	var logged strings.Builder
	exec := env.Exec
	exec.Audit = failingAudit{}
	exec.Logger = log.New(&logged, "", 0)

	res := exec.Execute(env.Ctx, request(dealCreate()))
	if !res.Success || res.Status != domain.StatusExecuted {
		t.Fatalf("audit failure downgraded result: %+v", res)
	}
	if !strings.Contains(logged.String(), "activity log write failed") {
		t.Fatalf("audit failure not reported: %q", logged.String())
	}
	// the mutation stands
	if n, _ := env.Repo.CountEntities(env.Ctx, testTenant, domain.EntityDeal); n != 1 {
		t.Fatalf("mutation missing after audit failure")
	}
}

func TestIdempotencyToken(t *testing.T) {
	env := newTestEnv(t)
	env.setPref(t, "deal.create", domain.PrefAlways)

	req := request(dealCreate())
	req.IdempotencyKey = "client-123"
	res1 := env.Exec.Execute(env.Ctx, req)
	if !res1.Success {
		t.Fatalf("first: %+v", res1)
	}
	res2 := env.Exec.Execute(env.Ctx, req)
	if !res2.Success {
		t.Fatalf("second: %+v", res2)
	}
	if res2.AffectedEntityID != res1.AffectedEntityID {
		t.Fatalf("replay created a new entity: %s vs %s", res1.AffectedEntityID, res2.AffectedEntityID)
	}
	if n, _ := env.Repo.CountEntities(env.Ctx, testTenant, domain.EntityDeal); n != 1 {
		t.Fatalf("deals = %d, want 1", n)
	}
	if n, _ := env.Audit.Count(env.Ctx, testTenant); n != 1 {
		t.Fatalf("activity entries = %d, want 1", n)
	}
}

func TestIdempotencyUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	env.setPref(t, "deal.create", domain.PrefAlways)

	const workers = 4
	results := make([]domain.CommandResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := request(dealCreate())
			req.IdempotencyKey = "race-1"
			results[i] = env.Exec.Execute(env.Ctx, req)
		}(i)
	}
	wg.Wait()
	for i, res := range results {
		if !res.Success {
			t.Fatalf("worker %d: %+v", i, res)
		}
	}
	if n, _ := env.Repo.CountEntities(env.Ctx, testTenant, domain.EntityDeal); n != 1 {
		t.Fatalf("deals = %d, want exactly 1", n)
	}
	if n, _ := env.Audit.Count(env.Ctx, testTenant); n != 1 {
		t.Fatalf("activity entries = %d, want exactly 1", n)
	}
}

func TestLocalizedRejectionMessages(t *testing.T) {
	env := newTestEnv(t)
	env.seedDeal(t, "d-won", "won")
	for _, tc := range []struct {
		loc  string
		want string
	}{
		{"en", "can no longer be changed"},
		{"tr", "değiştirilemez"},
	} {
		cmd := domain.Command{
			Entity: domain.EntityDeal,
			Action: domain.ActionUpdate,
			Params: map[string]any{"id": "d-won", "value": float64(1)},
			Locale: tc.loc,
		}
		res := env.Exec.Execute(env.Ctx, request(cmd))
		if !strings.Contains(res.Message, tc.want) {
			t.Errorf("%s message: %q", tc.loc, res.Message)
		}
	}
}

func ExampleConfirmToken() {
	cmd := domain.Command{
		Entity: domain.EntityDeal,
		Action: domain.ActionCreate,
		Params: map[string]any{"title": "Acme", "value": float64(50000)},
	}
	a := executor.ConfirmToken("secret", "t-1", "u-1", cmd)
	b := executor.ConfirmToken("secret", "t-1", "u-1", cmd)
	fmt.Println(a == b)
	// Output: true
}
