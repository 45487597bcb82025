package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"workdesk/internal/app"
	"workdesk/internal/config"
	"workdesk/internal/db"
	"workdesk/internal/domain"
	"workdesk/internal/intent"
	"workdesk/internal/migrate"
	"workdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ddk",
	Short: "Workdesk CLI",
	Long: `Workdesk turns natural-language instructions into governed commands over
business records: customers, deals, quotes, invoices, contracts and meetings.
Every instruction becomes a typed {entity, action} command that passes schema,
role, lifecycle and preference checks before anything is written. Commands
that need a human decision pause with a preview and a confirmation token.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("WORKDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	rootCmd.PersistentFlags().String("tenant-id", "local", "tenant identifier")
	rootCmd.PersistentFlags().StringSlice("roles", []string{"owner"}, "roles for capability resolution")
	rootCmd.PersistentFlags().String("locale", "en", "locale (en or tr)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("tenant-id", rootCmd.PersistentFlags().Lookup("tenant-id"))
	_ = viper.BindPFlag("roles", rootCmd.PersistentFlags().Lookup("roles"))
	_ = viper.BindPFlag("locale", rootCmd.PersistentFlags().Lookup("locale"))
}

func registerCommands() {
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(execCmd())
	rootCmd.AddCommand(previewCmd())
	rootCmd.AddCommand(examplesCmd())
	rootCmd.AddCommand(prefsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
}

func actor() app.Actor {
	return app.Actor{
		UserID:   viper.GetString("user-id"),
		TenantID: viper.GetString("tenant-id"),
		Roles:    viper.GetStringSlice("roles"),
	}
}

// withApp opens the workspace database, migrates it and hands the caller a
// wired App. The language-model parser is only attached when an API key is
// configured; structured commands work without one.
func withApp(ctx context.Context, fn func(context.Context, app.App) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	if cfg.Auth.ConfirmSecret == "" {
		cfg.Auth.ConfirmSecret = os.Getenv("WORKDESK_CONFIRM_SECRET")
	}
	if cfg.Auth.ConfirmSecret == "" {
		// Local single-user workspaces still need a stable token secret.
		cfg.Auth.ConfirmSecret = "workdesk-local"
	}
	var parser app.CommandParser
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		gen, err := intent.NewAnthropicGenerator(apiKey, cfg.Assistant.Model, cfg.Assistant.MaxTokens, cfg.Assistant.Temperature)
		if err != nil {
			return err
		}
		parser = intent.Parser{Gen: gen, Timeout: time.Duration(cfg.Assistant.TimeoutSecs) * time.Second}
	}
	a := app.New(conn, cfg, parser, nil)
	return fn(ctx, a)
}

func askCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "ask <instruction>",
		Short: "Run a natural-language instruction",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				parsed, result, err := a.HandleText(ctx, actor(), text, viper.GetString("locale"), "", "")
				if err != nil {
					return err
				}
				return resolveResult(ctx, a, parsed, result, yes)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm without prompting")
	return cmd
}

func execCmd() *cobra.Command {
	var entity, action, params string
	var yes bool
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run a structured command, skipping the language model",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := buildCommand(entity, action, params)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				result := a.Execute(ctx, actor(), parsed, "", "")
				return resolveResult(ctx, a, parsed, result, yes)
			})
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "entity kind")
	cmd.Flags().StringVar(&action, "action", "", "action")
	cmd.Flags().StringVar(&params, "params", "{}", "parameters as JSON object")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func previewCmd() *cobra.Command {
	var entity, action, params string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview a command without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := buildCommand(entity, action, params)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				payload, err := a.Preview(ctx, actor(), parsed)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(payload)
				}
				fmt.Println(payload.Summary)
				renderChanges(payload.Changes)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entity, "entity", "", "entity kind")
	cmd.Flags().StringVar(&action, "action", "", "action")
	cmd.Flags().StringVar(&params, "params", "{}", "parameters as JSON object")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func examplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "Show sample instructions for the active locale",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				examples := a.Examples(viper.GetString("locale"))
				if viper.GetBool("json") {
					return printJSON(examples)
				}
				for _, e := range examples {
					fmt.Println("  -", e)
				}
				return nil
			})
		},
	}
}

func prefsCmd() *cobra.Command {
	prefs := &cobra.Command{
		Use:   "prefs",
		Short: "Automation preferences",
		Long:  "Per-user switches deciding whether a command type executes immediately (always), pauses for confirmation (ask) or is blocked (never). Unset types default to ask.",
	}
	prefs.AddCommand(prefsListCmd())
	prefs.AddCommand(prefsSetCmd())
	return prefs
}

func prefsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				ac := actor()
				items, err := a.Prefs.List(ctx, ac.UserID, ac.TenantID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Automation Type", "Preference", "Updated"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.AutomationType, p.Preference, p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func prefsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <automation-type> <always|ask|never>",
		Short: "Set one preference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				ac := actor()
				items, err := a.Prefs.Set(ctx, ac.UserID, ac.TenantID, map[string]string{args[0]: args[1]})
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
}

func logCmd() *cobra.Command {
	logRoot := &cobra.Command{
		Use:   "log",
		Short: "Activity log",
	}
	logRoot.AddCommand(logTailCmd())
	return logRoot
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent activity, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				entries, err := a.Activity(ctx, actor(), n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "User", "Entity", "Action", "Description"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.CreatedAt, e.UserID, e.Entity, e.Action, e.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "API keys",
	}
	key.AddCommand(keyCreateCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a app.App) error {
				plaintext, key, err := a.CreateAPIKey(ctx, actor(), name)
				if err != nil {
					return err
				}
				fmt.Printf("API key created (id=%s). Store it now; it is not shown again:\n%s\n", key.ID, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				cfg.Auth.JWTSecret = os.Getenv("WORKDESK_JWT_SECRET")
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("WORKDESK_JWT_SECRET is required for bearer auth")
			}
			if cfg.Auth.ConfirmSecret == "" {
				cfg.Auth.ConfirmSecret = os.Getenv("WORKDESK_CONFIRM_SECRET")
			}
			if cfg.Auth.ConfirmSecret == "" {
				cfg.Auth.ConfirmSecret = cfg.Auth.JWTSecret
			}
			var parser app.CommandParser
			if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
				gen, err := intent.NewAnthropicGenerator(apiKey, cfg.Assistant.Model, cfg.Assistant.MaxTokens, cfg.Assistant.Temperature)
				if err != nil {
					return err
				}
				parser = intent.Parser{Gen: gen, Timeout: time.Duration(cfg.Assistant.TimeoutSecs) * time.Second}
			} else {
				fmt.Println("ANTHROPIC_API_KEY not set; natural-language commands are disabled, structured commands still work")
			}
			a := app.New(conn, cfg, parser, nil)
			handler, err := server.New(server.Config{
				App:      a,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              cfg.Auth.JWTSecret,
					AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Workdesk API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func buildCommand(entity, action, params string) (domain.Command, error) {
	var p map[string]any
	if err := json.Unmarshal([]byte(params), &p); err != nil {
		return domain.Command{}, fmt.Errorf("invalid --params: %w", err)
	}
	return domain.Command{
		Entity: domain.EntityKind(entity),
		Action: domain.ActionKind(action),
		Params: p,
		Locale: viper.GetString("locale"),
	}, nil
}

// resolveResult prints the outcome and, for a confirmation pause, shows
// the preview and asks before resubmitting with the returned token.
func resolveResult(ctx context.Context, a app.App, cmd domain.Command, result domain.CommandResult, yes bool) error {
	if result.Status != domain.StatusNeedsConfirmation {
		return printResult(result)
	}
	fmt.Println(result.Message)
	if result.Preview != nil {
		fmt.Println(result.Preview.Summary)
		renderChanges(result.Preview.Changes)
	}
	if !yes {
		fmt.Print("Proceed? [y/N] ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
	}
	confirmed := a.Execute(ctx, actor(), cmd, result.ConfirmationToken, "")
	return printResult(confirmed)
}

func printResult(result domain.CommandResult) error {
	if viper.GetBool("json") {
		return printJSON(result)
	}
	fmt.Println(result.Message)
	if result.Status == domain.StatusRejected && result.Code != "" {
		fmt.Println("code:", result.Code)
	}
	if result.AffectedEntityID != "" {
		fmt.Println("id:", result.AffectedEntityID)
	}
	return nil
}

func renderChanges(changes []domain.FieldChange) {
	if len(changes) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Field", "Before", "After"})
	for _, c := range changes {
		tw.AppendRow(table.Row{c.Field, renderValue(c.Before), renderValue(c.After)})
	}
	tw.Render()
}

func renderValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
