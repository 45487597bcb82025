package workdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Workdesk HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	Locale      string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Locale:  "en",
		Timeout: 30 * time.Second,
	}
}

// Command mirrors the API's parsed command shape.
type Command struct {
	Entity  string         `json:"entity"`
	Action  string         `json:"action"`
	Params  map[string]any `json:"parameters"`
	Locale  string         `json:"locale,omitempty"`
	RawText string         `json:"raw_text,omitempty"`
}

// FieldChange is one line of a preview diff.
type FieldChange struct {
	Field  string `json:"field"`
	Before any    `json:"before,omitempty"`
	After  any    `json:"after,omitempty"`
}

// Preview describes a command's intended effect.
type Preview struct {
	Summary string        `json:"summary"`
	Changes []FieldChange `json:"changes,omitempty"`
}

// Result is the outcome of a command submission.
type Result struct {
	Success           bool     `json:"success"`
	Status            string   `json:"status"`
	Code              string   `json:"code,omitempty"`
	Message           string   `json:"message"`
	Preview           *Preview `json:"preview,omitempty"`
	ConfirmationToken string   `json:"confirmation_token,omitempty"`
	AffectedEntityID  string   `json:"affected_entity_id,omitempty"`
}

// CommandOutcome pairs the parsed command with its result so a paused
// command can be resubmitted verbatim.
type CommandOutcome struct {
	Command *Command `json:"command,omitempty"`
	Result  Result   `json:"result"`
}

// PreviewOutcome pairs the parsed command with its preview.
type PreviewOutcome struct {
	Command *Command `json:"command,omitempty"`
	Preview Preview  `json:"preview"`
}

// ActivityEntry is one audit record.
type ActivityEntry struct {
	ID          int64  `json:"id"`
	UserID      string `json:"user_id"`
	Entity      string `json:"entity"`
	EntityID    string `json:"entity_id,omitempty"`
	Action      string `json:"action"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

// AutomationPreference is one always/ask/never switch.
type AutomationPreference struct {
	AutomationType string `json:"automation_type"`
	Preference     string `json:"preference"`
	UpdatedAt      string `json:"updated_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Ask submits a natural-language instruction.
func (c *Client) Ask(ctx context.Context, text string) (CommandOutcome, error) {
	body := map[string]any{
		"text":   text,
		"locale": c.Locale,
	}
	var resp CommandOutcome
	err := c.do(ctx, http.MethodPost, "v1/commands", body, &resp)
	return resp, err
}

// Execute submits a structured command, optionally with a confirmation
// token from an earlier pause and an idempotency key.
func (c *Client) Execute(ctx context.Context, cmd Command, confirmationToken, idempotencyKey string) (CommandOutcome, error) {
	body := map[string]any{
		"command": cmd,
		"locale":  c.Locale,
	}
	if confirmationToken != "" {
		body["confirmation_token"] = confirmationToken
	}
	if idempotencyKey != "" {
		body["idempotency_key"] = idempotencyKey
	}
	var resp CommandOutcome
	err := c.do(ctx, http.MethodPost, "v1/commands", body, &resp)
	return resp, err
}

// Confirm resubmits a paused command with its confirmation token.
func (c *Client) Confirm(ctx context.Context, outcome CommandOutcome) (CommandOutcome, error) {
	if outcome.Command == nil || outcome.Result.ConfirmationToken == "" {
		return CommandOutcome{}, fmt.Errorf("outcome has no pending confirmation")
	}
	return c.Execute(ctx, *outcome.Command, outcome.Result.ConfirmationToken, "")
}

// PreviewText previews a natural-language instruction without executing it.
func (c *Client) PreviewText(ctx context.Context, text string) (PreviewOutcome, error) {
	body := map[string]any{
		"text":   text,
		"locale": c.Locale,
	}
	var resp PreviewOutcome
	err := c.do(ctx, http.MethodPost, "v1/commands/preview", body, &resp)
	return resp, err
}

// PreviewCommand previews a structured command.
func (c *Client) PreviewCommand(ctx context.Context, cmd Command) (PreviewOutcome, error) {
	body := map[string]any{
		"command": cmd,
		"locale":  c.Locale,
	}
	var resp PreviewOutcome
	err := c.do(ctx, http.MethodPost, "v1/commands/preview", body, &resp)
	return resp, err
}

// Examples lists sample instructions for the client's locale.
func (c *Client) Examples(ctx context.Context) ([]string, error) {
	var resp struct {
		Examples []string `json:"examples"`
	}
	err := c.do(ctx, http.MethodGet, "v1/commands/examples?locale="+c.Locale, nil, &resp)
	return resp.Examples, err
}

// Activity returns recent audit entries, newest first.
func (c *Client) Activity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	endpoint := "v1/activity"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Entries []ActivityEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Entries, err
}

// Preferences lists the caller's automation preferences.
func (c *Client) Preferences(ctx context.Context) ([]AutomationPreference, error) {
	var resp struct {
		Preferences []AutomationPreference `json:"preferences"`
	}
	err := c.do(ctx, http.MethodGet, "v1/preferences", nil, &resp)
	return resp.Preferences, err
}

// SetPreferences updates automation preferences and returns the full set.
func (c *Client) SetPreferences(ctx context.Context, prefs map[string]string) ([]AutomationPreference, error) {
	body := map[string]any{"preferences": prefs}
	var resp struct {
		Preferences []AutomationPreference `json:"preferences"`
	}
	err := c.do(ctx, http.MethodPut, "v1/preferences", body, &resp)
	return resp.Preferences, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
