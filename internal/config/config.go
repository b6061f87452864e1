package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models compliancehub.yml.
type Config struct {
	Lifecycle struct {
		TaskDefaultStatusID    int64 `yaml:"task_default_status_id"`
		TaskCompletedStatusID  int64 `yaml:"task_completed_status_id"`
		SubtaskDefaultStatusID int64 `yaml:"subtask_default_status_id"`
	} `yaml:"lifecycle"`
	Compliance struct {
		CompletedStatusID int64 `yaml:"completed_status_id"`
		// ListoCompletes moves a compliance to CompletedStatusID when listo is set.
		ListoCompletes bool `yaml:"listo_completes"`
	} `yaml:"compliance"`
	Storage struct {
		Driver string `yaml:"driver"`
	} `yaml:"storage"`
	Jobs struct {
		Enabled             bool   `yaml:"enabled"`
		Timezone            string `yaml:"timezone"`
		TaskExpiry          string `yaml:"task_expiry"`
		ComplianceExpiry    string `yaml:"compliance_expiry"`
		NotificationCleanup string `yaml:"notification_cleanup"`
	} `yaml:"jobs"`
	Notifications struct {
		RetentionDays int      `yaml:"retention_days"`
		NotifyRoles   []string `yaml:"notify_roles"`
	} `yaml:"notifications"`
	Auth struct {
		TokenTTL    string   `yaml:"token_ttl"`
		ResetTTL    string   `yaml:"reset_ttl"`
		VerifyTTL   string   `yaml:"verify_ttl"`
		DefaultRole string   `yaml:"default_role"`
		WriteRoles  []string `yaml:"write_roles"`
		AdminRoles  []string `yaml:"admin_roles"`
	} `yaml:"auth"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Lifecycle.TaskDefaultStatusID <= 0 {
		return fmt.Errorf("config.lifecycle.task_default_status_id is required")
	}
	if c.Lifecycle.TaskCompletedStatusID <= 0 {
		return fmt.Errorf("config.lifecycle.task_completed_status_id is required")
	}
	if c.Lifecycle.TaskCompletedStatusID == c.Lifecycle.TaskDefaultStatusID {
		return fmt.Errorf("config.lifecycle: default and completed task status must differ")
	}
	if c.Lifecycle.SubtaskDefaultStatusID <= 0 {
		return fmt.Errorf("config.lifecycle.subtask_default_status_id is required")
	}
	if c.Compliance.CompletedStatusID <= 0 {
		return fmt.Errorf("config.compliance.completed_status_id is required")
	}
	switch c.Storage.Driver {
	case "azure", "memory":
	default:
		return fmt.Errorf("config.storage.driver must be 'azure' or 'memory', got %q", c.Storage.Driver)
	}
	if c.Jobs.Timezone != "" {
		if _, err := time.LoadLocation(c.Jobs.Timezone); err != nil {
			return fmt.Errorf("config.jobs.timezone: %w", err)
		}
	}
	for name, spec := range map[string]string{
		"task_expiry":          c.Jobs.TaskExpiry,
		"compliance_expiry":    c.Jobs.ComplianceExpiry,
		"notification_cleanup": c.Jobs.NotificationCleanup,
	} {
		if spec == "" {
			return fmt.Errorf("config.jobs.%s is required", name)
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("config.jobs.%s: %w", name, err)
		}
	}
	if c.Notifications.RetentionDays <= 0 {
		return fmt.Errorf("config.notifications.retention_days must be positive")
	}
	for name, v := range map[string]string{"token_ttl": c.Auth.TokenTTL, "reset_ttl": c.Auth.ResetTTL, "verify_ttl": c.Auth.VerifyTTL} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config.auth.%s: %w", name, err)
		}
	}
	if c.Auth.DefaultRole == "" {
		return fmt.Errorf("config.auth.default_role is required")
	}
	if len(c.Auth.AdminRoles) == 0 {
		return fmt.Errorf("config.auth.admin_roles is required")
	}
	for _, role := range append(append([]string{}, c.Auth.WriteRoles...), c.Auth.AdminRoles...) {
		if role == "" {
			return fmt.Errorf("config.auth contains empty role name")
		}
	}
	return nil
}

func (c *Config) TokenTTL() time.Duration  { return mustDuration(c.Auth.TokenTTL) }
func (c *Config) ResetTTL() time.Duration  { return mustDuration(c.Auth.ResetTTL) }
func (c *Config) VerifyTTL() time.Duration { return mustDuration(c.Auth.VerifyTTL) }

// Location returns the timezone jobs run in, UTC when unset.
func (c *Config) Location() *time.Location {
	if c.Jobs.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Jobs.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func mustDuration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}

// Roles returns every role named by the config, admin roles first.
func (c *Config) Roles() []string {
	seen := map[string]bool{}
	var out []string
	add := func(roles ...string) {
		for _, r := range roles {
			if r != "" && !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	add(c.Auth.AdminRoles...)
	add(c.Auth.WriteRoles...)
	add(c.Notifications.NotifyRoles...)
	add(c.Auth.DefaultRole)
	return out
}

// Path returns the config file path inside dir.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "compliancehub.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with chub config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys left out
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `lifecycle:
  task_default_status_id: 1
  task_completed_status_id: 3
  subtask_default_status_id: 1

compliance:
  completed_status_id: 6
  listo_completes: false

storage:
  driver: memory

jobs:
  enabled: true
  timezone: America/Santiago
  task_expiry: "0 8 * * *"
  compliance_expiry: "30 8 * * *"
  notification_cleanup: "0 2 * * *"

notifications:
  retention_days: 30
  notify_roles: [admin, editor]

auth:
  token_ttl: 24h
  reset_ttl: 1h
  verify_ttl: 72h
  default_role: viewer
  write_roles: [editor]
  admin_roles: [admin]
`
