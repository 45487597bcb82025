// Package app wires the command pipeline together: parser, executor,
// preferences, activity log and API keys behind one facade shared by the
// HTTP server and the CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"workdesk/internal/audit"
	"workdesk/internal/config"
	"workdesk/internal/domain"
	"workdesk/internal/executor"
	"workdesk/internal/intent"
	"workdesk/internal/locale"
	"workdesk/internal/prefs"
	"workdesk/internal/preview"
	"workdesk/internal/repo"
)

// CommandParser turns free text into a validated command.
type CommandParser interface {
	Parse(ctx context.Context, rawText, loc string) (domain.Command, error)
}

// Actor is the authenticated caller of a pipeline operation.
type Actor struct {
	UserID   string
	TenantID string
	Roles    []string
}

type App struct {
	DB       *sql.DB
	Repo     repo.Repo
	Config   *config.Config
	Parser   CommandParser
	Prefs    prefs.Store
	Previews preview.Generator
	Audit    audit.Logger
	Exec     executor.Executor
	Now      func() time.Time
	Logger   *log.Logger
}

// New builds an App over an open, migrated database. The parser is
// injected so the server can run without credentials for the
// structured-command endpoints.
func New(db *sql.DB, cfg *config.Config, parser CommandParser, logger *log.Logger) App {
	r := repo.Repo{DB: db}
	ps := prefs.Store{DB: db}
	pg := preview.Generator{Repo: r}
	al := audit.Logger{DB: db}
	return App{
		DB:       db,
		Repo:     r,
		Config:   cfg,
		Parser:   parser,
		Prefs:    ps,
		Previews: pg,
		Audit:    al,
		Exec: executor.Executor{
			DB:            db,
			Repo:          r,
			States:        r,
			Prefs:         ps,
			Previews:      pg,
			Audit:         al,
			ConfirmSecret: cfg.Auth.ConfirmSecret,
			Logger:        logger,
		},
		Now:    time.Now,
		Logger: logger,
	}
}

func (a App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Capabilities resolves an actor's roles through the configured role map.
func (a App) Capabilities(actor Actor) []string {
	return a.Config.CapabilitiesFor(actor.Roles)
}

// Execute runs one already-structured command through the pipeline.
func (a App) Execute(ctx context.Context, actor Actor, cmd domain.Command, confirmationToken, idempotencyKey string) domain.CommandResult {
	return a.Exec.Execute(ctx, executor.Request{
		Command:           cmd,
		UserID:            actor.UserID,
		TenantID:          actor.TenantID,
		Capabilities:      a.Capabilities(actor),
		ConfirmationToken: confirmationToken,
		IdempotencyKey:    idempotencyKey,
	})
}

// HandleText parses free text into a command and executes it. The parsed
// command is returned alongside the result so callers can resubmit it
// verbatim with a confirmation token.
func (a App) HandleText(ctx context.Context, actor Actor, rawText, loc, confirmationToken, idempotencyKey string) (domain.Command, domain.CommandResult, error) {
	if a.Parser == nil {
		return domain.Command{}, domain.CommandResult{}, fmt.Errorf("no command parser configured: set ANTHROPIC_API_KEY")
	}
	cmd, err := a.Parser.Parse(ctx, rawText, loc)
	if err != nil {
		return domain.Command{}, domain.CommandResult{}, err
	}
	return cmd, a.Execute(ctx, actor, cmd, confirmationToken, idempotencyKey), nil
}

// Preview describes a command's effect without executing it.
func (a App) Preview(ctx context.Context, actor Actor, cmd domain.Command) (domain.PreviewPayload, error) {
	return a.Previews.Preview(ctx, actor.TenantID, cmd)
}

// Examples lists localized sample instructions.
func (a App) Examples(loc string) []string {
	return intent.Examples(locale.Normalize(loc))
}

// Activity lists the tenant's newest audit entries.
func (a App) Activity(ctx context.Context, actor Actor, limit int) ([]domain.ActivityEntry, error) {
	return a.Audit.List(ctx, actor.TenantID, limit)
}

// CreateAPIKey mints a key for the actor and stores only its hash. The
// plaintext is returned once and never again.
func (a App) CreateAPIKey(ctx context.Context, actor Actor, name string) (string, domain.APIKey, error) {
	plaintext := "ddk_" + uuid.New().String()
	key := domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    actor.UserID,
		TenantID:  actor.TenantID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: a.now().UTC().Format(time.RFC3339),
	}
	if err := a.Repo.InsertAPIKey(ctx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	return plaintext, key, nil
}
