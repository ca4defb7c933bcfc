package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Capability identifiers understood by the engine.
const (
	CapStartCase    = "case.start"
	CapReopenBlocks = "case.block.reopen"
	CapEditForms    = "form.edit"
	CapPublishForms = "form.publish"
)

var knownCapabilities = map[string]bool{
	CapStartCase:    true,
	CapReopenBlocks: true,
	CapEditForms:    true,
	CapPublishForms: true,
}

// Config models caseflow.yml.
type Config struct {
	Engine struct {
		DueSoonHours int `yaml:"due_soon_hours"`
	} `yaml:"engine"`
	Capabilities struct {
		Roles map[string]Role `yaml:"roles"`
	} `yaml:"capabilities"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type Role struct {
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Engine.DueSoonHours < 0 {
		return fmt.Errorf("config.engine.due_soon_hours must not be negative")
	}
	for roleID, role := range c.Capabilities.Roles {
		if roleID == "" {
			return fmt.Errorf("config.capabilities.roles contains empty role id")
		}
		for _, cap := range role.Capabilities {
			if cap == "" {
				return fmt.Errorf("role %s has empty capability id", roleID)
			}
			if !knownCapabilities[cap] {
				return fmt.Errorf("role %s references unknown capability %s", roleID, cap)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseflow.yml")
}

// Load reads and validates config from the workspace, falling back to
// defaults when the file does not exist.
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

// Default returns the built-in config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `engine:
  due_soon_hours: 24

capabilities:
  roles:
    supervisor:
      description: "Can reopen locked blocks and publish form versions"
      capabilities: [case.start, case.block.reopen, form.edit, form.publish]
    caseworker:
      description: "Can start cases and work blocks"
      capabilities: [case.start]
    author:
      description: "Can edit and publish form definitions"
      capabilities: [form.edit, form.publish]
`
