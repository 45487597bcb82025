package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models workdesk.yml.
type Config struct {
	Assistant struct {
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
		TimeoutSecs int     `yaml:"timeout_seconds"`
	} `yaml:"assistant"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		ConfirmSecret          string `yaml:"confirm_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Roles map[string]Role `yaml:"roles"`
}

// Role maps a role name to the capabilities it grants. A capability is
// "<entity>.<action>" or one of the surface capabilities (activity.read,
// preference.write).
type Role struct {
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	c.Assistant.Model = "claude-haiku-4-5"
	c.Assistant.MaxTokens = 1024
	c.Assistant.Temperature = 0
	c.Assistant.TimeoutSecs = 30
	c.Roles = map[string]Role{
		"owner": {
			Description:  "Full access to every command",
			Capabilities: []string{"*"},
		},
		"sales": {
			Description: "Customer, deal, quote and meeting commands",
			Capabilities: []string{
				"customer.create", "customer.update",
				"deal.create", "deal.update", "deal.delete", "deal.advance_stage",
				"quote.create", "quote.update", "quote.delete", "quote.accept",
				"meeting.schedule", "meeting.cancel",
				"activity.read", "preference.write",
			},
		},
		"finance": {
			Description: "Invoice and contract commands",
			Capabilities: []string{
				"invoice.create", "invoice.update", "invoice.delete", "invoice.mark_paid",
				"contract.create", "contract.update", "contract.delete", "contract.terminate",
				"activity.read", "preference.write",
			},
		},
		"viewer": {
			Description:  "Read-only access",
			Capabilities: []string{"activity.read"},
		},
	}
	return c
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".workdesk", "workdesk.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates raw config bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets the required structure.
func (c *Config) Validate() error {
	if c.Assistant.Model == "" {
		return fmt.Errorf("config.assistant.model is required")
	}
	if c.Assistant.MaxTokens <= 0 {
		return fmt.Errorf("config.assistant.max_tokens must be positive")
	}
	if c.Assistant.Temperature < 0 || c.Assistant.Temperature > 1 {
		return fmt.Errorf("config.assistant.temperature must be in [0,1]")
	}
	if len(c.Roles) == 0 {
		return fmt.Errorf("config.roles is required")
	}
	for name, role := range c.Roles {
		for _, cap := range role.Capabilities {
			if cap == "" {
				return fmt.Errorf("role %s has an empty capability", name)
			}
		}
	}
	return nil
}

// CapabilitiesFor expands a set of role names into the union of their
// capabilities. Unknown roles grant nothing.
func (c *Config) CapabilitiesFor(roles []string) []string {
	seen := map[string]bool{}
	var caps []string
	for _, r := range roles {
		role, ok := c.Roles[r]
		if !ok {
			continue
		}
		for _, cap := range role.Capabilities {
			if !seen[cap] {
				seen[cap] = true
				caps = append(caps, cap)
			}
		}
	}
	return caps
}
