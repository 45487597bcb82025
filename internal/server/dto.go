package server

import (
	"workdesk/internal/domain"
)

// Request payloads

// CommandRequest carries either free text or an already-parsed command.
// Text goes through the language model; a structured command skips it.
type CommandRequest struct {
	Text              string          `json:"text,omitempty"`
	Command           *domain.Command `json:"command,omitempty"`
	Locale            string          `json:"locale,omitempty" enum:"en,tr"`
	ConfirmationToken string          `json:"confirmation_token,omitempty"`
	IdempotencyKey    string          `json:"idempotency_key,omitempty"`
}

type PreviewRequest struct {
	Text    string          `json:"text,omitempty"`
	Command *domain.Command `json:"command,omitempty"`
	Locale  string          `json:"locale,omitempty" enum:"en,tr"`
}

type SetPreferencesRequest struct {
	Preferences map[string]string `json:"preferences" jsonschema:"type=object,additionalProperties=true"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	UserID   string   `json:"user_id"`
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles,omitempty"`
}

// Response payloads

type CommandResponse struct {
	Command *domain.Command      `json:"command,omitempty"`
	Result  domain.CommandResult `json:"result"`
}

type PreviewResponse struct {
	Command *domain.Command       `json:"command,omitempty"`
	Preview domain.PreviewPayload `json:"preview"`
}

type ExamplesResponse struct {
	Locale   string   `json:"locale" enum:"en,tr"`
	Examples []string `json:"examples"`
}

type PreferencesResponse struct {
	Preferences []domain.AutomationPreference `json:"preferences"`
}

type ActivityResponse struct {
	Entries []domain.ActivityEntry `json:"entries"`
}

type CreateAPIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key" doc:"Plaintext key, shown only once"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type WhoAmIResponse struct {
	UserID       string   `json:"user_id"`
	TenantID     string   `json:"tenant_id"`
	Roles        []string `json:"roles"`
	Capabilities []string `json:"capabilities"`
	Source       string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
