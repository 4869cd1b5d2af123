package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models agencyops.yml.
type Config struct {
	Org struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"org" json:"org"`
	Roles struct {
		Catalog    []string `yaml:"catalog" json:"catalog"`
		Approver   string   `yaml:"approver" json:"approver"`
		Management []string `yaml:"management" json:"management"`
		Default    string   `yaml:"default" json:"default"`
	} `yaml:"roles" json:"roles"`
	Workflow struct {
		AcceptanceWindowHours int    `yaml:"acceptance_window_hours" json:"acceptance_window_hours"`
		RevisionMessage       string `yaml:"revision_message" json:"revision_message"`
		SweepSchedule         string `yaml:"sweep_schedule" json:"sweep_schedule"`
	} `yaml:"workflow" json:"workflow"`
	Notify struct {
		Webhooks []Webhook `yaml:"webhooks" json:"webhooks"`
	} `yaml:"notify" json:"notify"`
	Log struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	} `yaml:"log" json:"log"`
}

// Webhook is an outbound notification target.
type Webhook struct {
	URL    string `yaml:"url" json:"url"`
	Secret string `yaml:"secret" json:"secret,omitempty"`
}

// AcceptanceWindow is the time a teammate has to accept a project assignment.
func (c *Config) AcceptanceWindow() time.Duration {
	if c == nil || c.Workflow.AcceptanceWindowHours <= 0 {
		return 8 * time.Hour
	}
	return time.Duration(c.Workflow.AcceptanceWindowHours) * time.Hour
}

// ApproverRole returns the role that resolves pending updates.
func (c *Config) ApproverRole() string {
	if c == nil || c.Roles.Approver == "" {
		return "CEO"
	}
	return c.Roles.Approver
}

// ManagementRoles returns the roles allowed to create projects and post announcements.
func (c *Config) ManagementRoles() []string {
	if c == nil {
		return nil
	}
	return c.Roles.Management
}

// HasRole reports whether role is in the catalog.
func (c *Config) HasRole(role string) bool {
	for _, r := range c.Roles.Catalog {
		if r == role {
			return true
		}
	}
	return false
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with aops config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Org.ID == "" {
		return fmt.Errorf("config.org.id is required")
	}
	if len(c.Roles.Catalog) == 0 {
		return fmt.Errorf("config.roles.catalog is required")
	}
	seen := map[string]bool{}
	for _, r := range c.Roles.Catalog {
		if r == "" {
			return fmt.Errorf("config.roles.catalog contains empty role")
		}
		if seen[r] {
			return fmt.Errorf("config.roles.catalog lists %s twice", r)
		}
		seen[r] = true
	}
	if !seen["CEO"] {
		return fmt.Errorf("config.roles.catalog must include CEO")
	}
	if c.Roles.Approver != "" && !seen[c.Roles.Approver] {
		return fmt.Errorf("config.roles.approver references unknown role %s", c.Roles.Approver)
	}
	if c.Roles.Default != "" && !seen[c.Roles.Default] {
		return fmt.Errorf("config.roles.default references unknown role %s", c.Roles.Default)
	}
	for _, r := range c.Roles.Management {
		if !seen[r] {
			return fmt.Errorf("config.roles.management references unknown role %s", r)
		}
	}
	if c.Workflow.AcceptanceWindowHours < 0 {
		return fmt.Errorf("config.workflow.acceptance_window_hours must not be negative")
	}
	for i, wh := range c.Notify.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is required", i)
		}
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config.log.level %q is not supported", c.Log.Level)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "agencyops.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an org.
func Default(orgID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, orgID))).Decode(&cfg)
	return &cfg
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

// YAML renders the config back to YAML.
func (c *Config) YAML() (string, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

const defaultTemplate = `org:
  id: %s
  name: "Agency"

roles:
  catalog: [CEO, Manager, HR, Sales, Designer, Developer, Staff]
  approver: CEO
  management: [CEO, Manager]
  default: Staff

workflow:
  acceptance_window_hours: 8
  revision_message: "Please revise and resubmit."
  sweep_schedule: "@every 5m"

notify:
  webhooks: []

log:
  level: info
  file: ""
  max_size_mb: 20
  max_backups: 3
`
