package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"testing"

	"workdesk/internal/app"
	"workdesk/internal/config"
	"workdesk/internal/db"
	"workdesk/internal/domain"
	"workdesk/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

// stubParser maps known phrases onto commands so server tests run without
// network access.
type stubParser struct{}

func (stubParser) Parse(ctx context.Context, rawText, loc string) (domain.Command, error) {
	if strings.Contains(rawText, "Acme") {
		return domain.Command{
			Entity:  domain.EntityDeal,
			Action:  domain.ActionCreate,
			Params:  map[string]any{"title": "Acme", "value": float64(50000)},
			Locale:  loc,
			RawText: rawText,
		}, nil
	}
	return domain.Command{}, context.Canceled
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-jwt-secret"
	cfg.Auth.ConfirmSecret = "test-confirm-secret"
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	a := app.New(conn, cfg, stubParser{}, log.New(io.Discard, "", 0))
	handler, err := New(Config{
		App:      a,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret: cfg.Auth.JWTSecret,
			Logger:    log.New(io.Discard, "", 0),
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func login(t *testing.T, srv *testServer, userID, tenantID string, roles []string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"user_id":   userID,
		"tenant_id": tenantID,
		"roles":     roles,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var out DevLoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func TestHealthNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/activity", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
}

func TestCommandConfirmationFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "u-1", "t-1", []string{"owner"})

	body := map[string]any{
		"command": map[string]any{
			"entity":     "deal",
			"action":     "create",
			"parameters": map[string]any{"title": "Acme", "value": 50000},
			"locale":     "en",
		},
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/commands", body, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("execute: %d %s", res.StatusCode, string(data))
	}
	var first CommandResponse
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Result.Status != domain.StatusNeedsConfirmation {
		t.Fatalf("status = %q, want needs_confirmation: %s", first.Result.Status, string(data))
	}
	if first.Result.Preview == nil || first.Result.ConfirmationToken == "" {
		t.Fatalf("missing preview or token: %s", string(data))
	}

	body["confirmation_token"] = first.Result.ConfirmationToken
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/commands", body, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm: %d %s", res.StatusCode, string(data))
	}
	var second CommandResponse
	if err := json.Unmarshal(data, &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if second.Result.Status != domain.StatusExecuted || second.Result.AffectedEntityID == "" {
		t.Fatalf("confirmed result: %s", string(data))
	}

	actRes, actData := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/activity", nil, headers)
	if actRes.StatusCode != http.StatusOK {
		t.Fatalf("activity: %d %s", actRes.StatusCode, string(actData))
	}
	var act ActivityResponse
	if err := json.Unmarshal(actData, &act); err != nil {
		t.Fatalf("unmarshal activity: %v", err)
	}
	if len(act.Entries) != 1 || act.Entries[0].Action != "create" {
		t.Fatalf("activity entries: %s", string(actData))
	}
}

func TestCommandFromText(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "u-1", "t-1", []string{"owner"})

	prefRes, prefData := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/preferences", map[string]any{
		"preferences": map[string]string{"deal.create": "always"},
	}, headers)
	if prefRes.StatusCode != http.StatusOK {
		t.Fatalf("set preferences: %d %s", prefRes.StatusCode, string(prefData))
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/commands", map[string]any{
		"text":   "yeni fırsat oluştur: Acme için 50000 TL",
		"locale": "tr",
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("execute text: %d %s", res.StatusCode, string(data))
	}
	var out CommandResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Result.Status != domain.StatusExecuted {
		t.Fatalf("result: %s", string(data))
	}
	if out.Command == nil || out.Command.Entity != domain.EntityDeal {
		t.Fatalf("parsed command missing: %s", string(data))
	}
}

func TestPreviewEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "u-1", "t-1", []string{"owner"})

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/commands/preview", map[string]any{
		"command": map[string]any{
			"entity":     "deal",
			"action":     "create",
			"parameters": map[string]any{"title": "Acme", "value": 50000},
			"locale":     "en",
		},
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preview: %d %s", res.StatusCode, string(data))
	}
	var out PreviewResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(out.Preview.Summary, "Acme") {
		t.Fatalf("summary: %q", out.Preview.Summary)
	}
	if len(out.Preview.Changes) == 0 {
		t.Fatalf("no changes in preview: %s", string(data))
	}
}

func TestExamplesLocalized(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "u-1", "t-1", []string{"viewer"})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/commands/examples?locale=tr", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("examples: %d %s", res.StatusCode, string(data))
	}
	var out ExamplesResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Locale != "tr" || len(out.Examples) == 0 {
		t.Fatalf("examples: %s", string(data))
	}
}

func TestRoleCapabilityEnforced(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "u-viewer", "t-1", []string{"viewer"})

	// viewer lacks preference.write
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/preferences", map[string]any{
		"preferences": map[string]string{"deal.create": "always"},
	}, headers)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}

	// viewer also lacks deal.create; the pipeline rejects inside the result
	cmdRes, cmdData := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/commands", map[string]any{
		"command": map[string]any{
			"entity":     "deal",
			"action":     "create",
			"parameters": map[string]any{"title": "Acme", "value": 50000},
			"locale":     "en",
		},
	}, headers)
	if cmdRes.StatusCode != http.StatusOK {
		t.Fatalf("execute: %d %s", cmdRes.StatusCode, string(cmdData))
	}
	var out CommandResponse
	if err := json.Unmarshal(cmdData, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Result.Status != domain.StatusRejected || out.Result.Code != "permission_denied" {
		t.Fatalf("result: %s", string(cmdData))
	}
}

func TestInvalidPreferenceLocalized(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "u-1", "t-1", []string{"owner"})

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/preferences?locale=tr", map[string]any{
		"preferences": map[string]string{"deal.create": "sometimes"},
	}, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope.Error.Code != "invalid_preference" {
		t.Fatalf("code = %q: %s", envelope.Error.Code, string(data))
	}
	if !strings.Contains(envelope.Error.Message, "geçerli bir tercih değil") {
		t.Fatalf("message not localized: %q", envelope.Error.Message)
	}
}

func TestInvalidPreferenceValue(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "u-1", "t-1", []string{"owner"})

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/preferences", map[string]any{
		"preferences": map[string]string{"deal.create": "sometimes"},
	}, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope.Error.Code != "invalid_preference" {
		t.Fatalf("code = %q: %s", envelope.Error.Code, string(data))
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "u-1", "t-1", []string{"owner"})

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/keys", map[string]any{
		"name": "ci",
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", res.StatusCode, string(data))
	}
	var created CreateAPIKeyResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Key == "" {
		t.Fatalf("no plaintext key returned: %s", string(data))
	}

	meRes, meData := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"X-Api-Key": created.Key,
	})
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me with api key: %d %s", meRes.StatusCode, string(meData))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(meData, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.UserID != "u-1" || me.TenantID != "t-1" || me.Source != "api_key" {
		t.Fatalf("principal: %s", string(meData))
	}
}
