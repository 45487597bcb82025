// Package executor is the only component allowed to mutate records as a
// result of a parsed command. Checks run in a fixed order before any write:
// schema, capability, stage guard, preference, confirmation.
package executor

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"workdesk/internal/audit"
	"workdesk/internal/domain"
	"workdesk/internal/locale"
	"workdesk/internal/preview"
	"workdesk/internal/repo"
	"workdesk/internal/schema"
	"workdesk/internal/stageguard"
)

// Result codes for rejected commands.
const (
	CodeUnsupportedCommand = "unsupported_command"
	CodeMissingParameter   = "missing_parameter"
	CodeTypeMismatch       = "type_mismatch"
	CodeEmptyUpdate        = "empty_update"
	CodeReferenceNotFound  = "reference_not_found"
	CodePermissionDenied   = "permission_denied"
	CodeImmutableState     = "immutable_state"
	CodeInvalidTransition  = "invalid_transition"
	CodePreferenceDenied   = "preference_denied"
	CodeExecutionFailed    = "execution_failed"
)

// PermissionDeniedError means the acting user lacks the capability for the
// command's {entity, action} pair.
type PermissionDeniedError struct {
	Capability string
}

func (e PermissionDeniedError) Error() string {
	return fmt.Sprintf("capability %s required", e.Capability)
}

// ImmutableStateError means the target record's lifecycle state forbids
// the mutation or deletion.
type ImmutableStateError struct {
	Entity domain.EntityKind
	State  string
}

func (e ImmutableStateError) Error() string {
	return fmt.Sprintf("%s in state %s cannot be changed", e.Entity, e.State)
}

// PreferenceDeniedError means the automation type is disabled for the user.
type PreferenceDeniedError struct {
	AutomationType string
}

func (e PreferenceDeniedError) Error() string {
	return fmt.Sprintf("automation %s disabled by preference", e.AutomationType)
}

// ExecutionError wraps a downstream persistence failure.
type ExecutionError struct {
	Err error
}

func (e ExecutionError) Error() string { return fmt.Sprintf("execute command: %v", e.Err) }
func (e ExecutionError) Unwrap() error { return e.Err }

// StateReader reads a record's current lifecycle state.
type StateReader interface {
	GetLifecycleState(ctx context.Context, tenantID string, kind domain.EntityKind, id string) (string, error)
}

// PreferenceReader resolves one automation preference.
type PreferenceReader interface {
	Get(ctx context.Context, userID, tenantID, automationType string) (string, error)
}

// Previewer produces the payload attached to a confirmation pause.
type Previewer interface {
	Preview(ctx context.Context, tenantID string, cmd domain.Command) (domain.PreviewPayload, error)
}

// Appender is the activity log sink. Its failures never reach the result.
type Appender interface {
	Append(ctx context.Context, e domain.ActivityEntry) error
}

// Request is one execution attempt of a validated command.
type Request struct {
	Command           domain.Command
	UserID            string
	TenantID          string
	Capabilities      []string
	ConfirmationToken string
	IdempotencyKey    string
}

type Executor struct {
	DB            *sql.DB
	Repo          repo.Repo
	States        StateReader
	Prefs         PreferenceReader
	Previews      Previewer
	Audit         Appender
	ConfirmSecret string
	Now           func() time.Time
	Logger        *log.Logger
}

func (e Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Executor) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// ConfirmToken derives the stateless confirmation token for a command. A
// token returned with a confirmation pause is valid for the identical
// command from the same user and tenant, and nothing else.
func ConfirmToken(secret, tenantID, userID string, cmd domain.Command) string {
	canonical, _ := json.Marshal(struct {
		Entity domain.EntityKind `json:"entity"`
		Action domain.ActionKind `json:"action"`
		Params map[string]any    `json:"params"`
	}{cmd.Entity, cmd.Action, cmd.Params})
	sum := sha256.Sum256([]byte(secret + "|" + tenantID + "|" + userID + "|" + string(canonical)))
	return hex.EncodeToString(sum[:])
}

// Execute runs the command pipeline. Every outcome is a CommandResult;
// rejections carry a code and a localized message rather than an error.
func (e Executor) Execute(ctx context.Context, req Request) domain.CommandResult {
	loc := locale.Normalize(req.Command.Locale)

	// 1. Schema, again. Never trust the caller to have validated. The
	// filtered command replaces the submitted one so undeclared parameters
	// never reach the token digest, the preview, or the write.
	cmd, err := schema.ValidateCommand(req.Command)
	if err != nil {
		return rejectSchema(loc, err)
	}
	req.Command = cmd

	// 2. Capability.
	capability := schema.AutomationType(cmd)
	if !hasCapability(req.Capabilities, capability) {
		return reject(loc, CodePermissionDenied,
			locale.T(loc, "err.permission_denied", capability))
	}

	// 3. Stage guard, for anything touching an existing record.
	entityName := locale.EntityName(loc, string(cmd.Entity))
	if schema.MutatesExisting(cmd.Action) {
		id, _ := cmd.Params["id"].(string)
		state, err := e.States.GetLifecycleState(ctx, req.TenantID, cmd.Entity, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return reject(loc, CodeReferenceNotFound,
					locale.T(loc, "err.reference_not_found", entityName, id))
			}
			return reject(loc, CodeExecutionFailed,
				locale.T(loc, "err.execution_failed", err.Error()))
		}
		if guard, governed := stageguard.For(cmd.Entity); governed {
			if schema.IsDelete(cmd.Action) {
				if !guard.CanDelete(state) {
					return reject(loc, CodeImmutableState,
						locale.T(loc, "err.cannot_delete", entityName, state))
				}
			} else if target, isTransition := schema.TransitionTarget(cmd); isTransition {
				if !guard.CanTransition(state, target) {
					if guard.IsImmutable(state) {
						return reject(loc, CodeImmutableState,
							locale.T(loc, "err.immutable_state", entityName, state))
					}
					return reject(loc, CodeInvalidTransition,
						locale.T(loc, "err.invalid_transition", entityName, state, target))
				}
			} else if guard.IsImmutable(state) {
				return reject(loc, CodeImmutableState,
					locale.T(loc, "err.immutable_state", entityName, state))
			}
		}
	}

	// 4. Automation preference.
	pref, err := e.Prefs.Get(ctx, req.UserID, req.TenantID, capability)
	if err != nil {
		return reject(loc, CodeExecutionFailed,
			locale.T(loc, "err.execution_failed", err.Error()))
	}
	switch pref {
	case domain.PrefNever:
		return reject(loc, CodePreferenceDenied,
			locale.T(loc, "err.preference_denied", capability))
	case domain.PrefAsk:
		expected := ConfirmToken(e.ConfirmSecret, req.TenantID, req.UserID, cmd)
		if req.ConfirmationToken != expected {
			payload, err := e.Previews.Preview(ctx, req.TenantID, cmd)
			if err != nil {
				return rejectPreviewErr(loc, err)
			}
			msg := locale.T(loc, "cmd.needs_confirmation")
			if req.ConfirmationToken != "" {
				// A stale token means the command changed since the preview.
				msg = locale.T(loc, "err.invalid_confirmation")
			}
			return domain.CommandResult{
				Success:           false,
				Status:            domain.StatusNeedsConfirmation,
				Message:           msg,
				Preview:           &payload,
				ConfirmationToken: expected,
			}
		}
	}

	// 5. Idempotency short-circuit, then the mutation.
	if req.IdempotencyKey != "" {
		if prior, err := e.Repo.GetIdempotentResult(ctx, req.TenantID, req.IdempotencyKey); err == nil {
			return decodeStoredResult(prior, loc)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return reject(loc, CodeExecutionFailed,
				locale.T(loc, "err.execution_failed", err.Error()))
		}
	}
	result, entry, err := e.mutate(ctx, req)
	if err != nil {
		if req.IdempotencyKey != "" && repo.IsDuplicateKey(err) {
			// Lost the race to a concurrent identical submission.
			if prior, perr := e.Repo.GetIdempotentResult(ctx, req.TenantID, req.IdempotencyKey); perr == nil {
				return decodeStoredResult(prior, loc)
			}
		}
		return reject(loc, CodeExecutionFailed,
			locale.T(loc, "err.execution_failed", err.Error()))
	}

	// 6. Audit, isolated: a log failure never downgrades the result.
	if err := e.Audit.Append(ctx, entry); err != nil {
		e.logger().Printf("WARNING: activity log write failed for %s.%s (entity_id=%s): %v",
			cmd.Entity, cmd.Action, result.AffectedEntityID, err)
	}
	return result
}

// mutate applies the command inside one transaction, recording the
// idempotency key with the result before commit.
func (e Executor) mutate(ctx context.Context, req Request) (domain.CommandResult, domain.ActivityEntry, error) {
	cmd := req.Command
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CommandResult{}, domain.ActivityEntry{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	affectedID, message, err := e.apply(ctx, tx, req, now)
	if err != nil {
		return domain.CommandResult{}, domain.ActivityEntry{}, err
	}

	result := domain.CommandResult{
		Success:          true,
		Status:           domain.StatusExecuted,
		Message:          message,
		AffectedEntityID: affectedID,
	}
	if req.IdempotencyKey != "" {
		stored, merr := json.Marshal(result)
		if merr != nil {
			return domain.CommandResult{}, domain.ActivityEntry{}, merr
		}
		if err := e.Repo.InsertIdempotencyKey(ctx, tx, req.TenantID, req.IdempotencyKey, string(stored), now); err != nil {
			return domain.CommandResult{}, domain.ActivityEntry{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.CommandResult{}, domain.ActivityEntry{}, err
	}
	entry := domain.ActivityEntry{
		TenantID:    req.TenantID,
		UserID:      req.UserID,
		Entity:      string(cmd.Entity),
		EntityID:    affectedID,
		Action:      string(cmd.Action),
		Description: message,
		MetaJSON:    audit.MarshalMeta(cmd.Params),
		CreatedAt:   now,
	}
	return result, entry, nil
}

// apply performs the entity-specific write and returns the affected id and
// the localized success message.
func (e Executor) apply(ctx context.Context, tx *sql.Tx, req Request, now string) (string, string, error) {
	cmd := req.Command
	loc := locale.Normalize(cmd.Locale)
	entityName := locale.EntityName(loc, string(cmd.Entity))

	if !schema.MutatesExisting(cmd.Action) {
		id := uuid.New().String()
		if err := e.insertNew(ctx, tx, req, id, now); err != nil {
			return "", "", err
		}
		label := id
		for _, key := range []string{"title", "name"} {
			if s, ok := cmd.Params[key].(string); ok {
				label = s
				break
			}
		}
		return id, locale.T(loc, "cmd.created", entityName, label), nil
	}

	id, _ := cmd.Params["id"].(string)
	if schema.IsDelete(cmd.Action) {
		if err := e.Repo.DeleteEntity(ctx, tx, req.TenantID, cmd.Entity, id); err != nil {
			return "", "", err
		}
		return id, locale.T(loc, "cmd.deleted", entityName, id), nil
	}
	if target, ok := schema.TransitionTarget(cmd); ok {
		if err := e.Repo.SetLifecycleState(ctx, tx, req.TenantID, cmd.Entity, id, target, now); err != nil {
			return "", "", err
		}
		return id, locale.T(loc, "cmd.transitioned", entityName, id, target), nil
	}
	fields := make(map[string]any, len(cmd.Params))
	for name, v := range cmd.Params {
		if name != "id" {
			fields[name] = v
		}
	}
	if err := e.Repo.UpdateEntityFields(ctx, tx, req.TenantID, cmd.Entity, id, now, fields); err != nil {
		return "", "", err
	}
	return id, locale.T(loc, "cmd.updated", entityName, id), nil
}

func (e Executor) insertNew(ctx context.Context, tx *sql.Tx, req Request, id, now string) error {
	cmd := req.Command
	p := cmd.Params
	optID := func(key string) *string {
		if s, ok := p[key].(string); ok && s != "" {
			return &s
		}
		return nil
	}
	str := func(key string) string { s, _ := p[key].(string); return s }
	num := func(key string) float64 { f, _ := p[key].(float64); return f }
	initial := ""
	if g, ok := stageguard.For(cmd.Entity); ok {
		initial = g.Initial()
	}
	switch cmd.Entity {
	case domain.EntityCustomer:
		return e.Repo.InsertCustomer(ctx, tx, domain.Customer{
			ID: id, TenantID: req.TenantID, Name: str("name"), Email: str("email"), Phone: str("phone"),
			CreatedAt: now, UpdatedAt: now,
		})
	case domain.EntityDeal:
		return e.Repo.InsertDeal(ctx, tx, domain.Deal{
			ID: id, TenantID: req.TenantID, CustomerID: optID("customer_id"),
			Title: str("title"), Value: num("value"), Currency: str("currency"),
			Stage: initial, CreatedAt: now, UpdatedAt: now,
		})
	case domain.EntityQuote:
		return e.Repo.InsertQuote(ctx, tx, domain.Quote{
			ID: id, TenantID: req.TenantID, DealID: optID("deal_id"),
			Title: str("title"), Amount: num("amount"), Currency: str("currency"),
			Status: initial, CreatedAt: now, UpdatedAt: now,
		})
	case domain.EntityInvoice:
		return e.Repo.InsertInvoice(ctx, tx, domain.Invoice{
			ID: id, TenantID: req.TenantID, CustomerID: optID("customer_id"),
			Amount: num("amount"), Currency: str("currency"), DueDate: optID("due_date"),
			Status: initial, CreatedAt: now, UpdatedAt: now,
		})
	case domain.EntityContract:
		return e.Repo.InsertContract(ctx, tx, domain.Contract{
			ID: id, TenantID: req.TenantID, CustomerID: optID("customer_id"),
			Title: str("title"), StartDate: optID("start_date"), EndDate: optID("end_date"),
			Status: initial, CreatedAt: now, UpdatedAt: now,
		})
	case domain.EntityMeeting:
		return e.Repo.InsertMeeting(ctx, tx, domain.Meeting{
			ID: id, TenantID: req.TenantID, CustomerID: optID("customer_id"),
			Title: str("title"), StartsAt: optID("starts_at"),
			Status: initial, CreatedAt: now, UpdatedAt: now,
		})
	}
	return fmt.Errorf("unknown entity kind %s", cmd.Entity)
}

func hasCapability(caps []string, capability string) bool {
	for _, c := range caps {
		if c == capability || c == "*" {
			return true
		}
	}
	return false
}

func reject(loc, code, message string) domain.CommandResult {
	return domain.CommandResult{
		Success: false,
		Status:  domain.StatusRejected,
		Code:    code,
		Message: message,
	}
}

func rejectSchema(loc string, err error) domain.CommandResult {
	var (
		uc schema.UnsupportedCommandError
		mp schema.MissingParameterError
		tm schema.TypeMismatchError
		eu schema.EmptyUpdateError
	)
	switch {
	case errors.As(err, &uc):
		return reject(loc, CodeUnsupportedCommand,
			locale.T(loc, "err.unsupported_command", uc.Entity, uc.Action))
	case errors.As(err, &mp):
		return reject(loc, CodeMissingParameter,
			locale.T(loc, "err.missing_parameter", mp.Param))
	case errors.As(err, &tm):
		return reject(loc, CodeTypeMismatch,
			locale.T(loc, "err.type_mismatch", tm.Param, string(tm.Want)))
	case errors.As(err, &eu):
		return reject(loc, CodeEmptyUpdate,
			locale.T(loc, "err.empty_update", locale.EntityName(loc, eu.Entity)))
	}
	return reject(loc, CodeExecutionFailed, locale.T(loc, "err.execution_failed", err.Error()))
}

func rejectPreviewErr(loc string, err error) domain.CommandResult {
	var ref preview.ReferenceNotFoundError
	if errors.As(err, &ref) {
		return reject(loc, CodeReferenceNotFound,
			locale.T(loc, "err.reference_not_found", locale.EntityName(loc, string(ref.Entity)), ref.ID))
	}
	return reject(loc, CodeExecutionFailed, locale.T(loc, "err.execution_failed", err.Error()))
}

func decodeStoredResult(stored, loc string) domain.CommandResult {
	var result domain.CommandResult
	if err := json.Unmarshal([]byte(stored), &result); err != nil {
		return reject(loc, CodeExecutionFailed, locale.T(loc, "err.execution_failed", err.Error()))
	}
	return result
}
