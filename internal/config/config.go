package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models burnline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"project" json:"project"`
	Burndown BurndownConfig `yaml:"burndown" json:"burndown"`
	Statuses []string       `yaml:"statuses" json:"statuses"`
}

// BurndownConfig tunes the projection engine.
type BurndownConfig struct {
	// HorizonDays is added to today when a scope has no due date.
	HorizonDays    int    `yaml:"horizon_days" json:"horizon_days"`
	DoneStatus     string `yaml:"done_status" json:"done_status"`
	BaselineStatus string `yaml:"baseline_status" json:"baseline_status"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bl project create", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err != nil {
		if _, statErr := os.Stat(Path(workspace)); os.IsNotExist(statErr) {
			return nil, nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Burndown.HorizonDays < 0 {
		return fmt.Errorf("config.burndown.horizon_days must not be negative")
	}
	if c.Burndown.DoneStatus == "" {
		return fmt.Errorf("config.burndown.done_status is required")
	}
	if c.Burndown.BaselineStatus == "" {
		return fmt.Errorf("config.burndown.baseline_status is required")
	}
	if len(c.Statuses) == 0 {
		return fmt.Errorf("config.statuses is required")
	}
	seen := map[string]bool{}
	for _, s := range c.Statuses {
		if s == "" {
			return fmt.Errorf("config.statuses contains an empty status")
		}
		if seen[s] {
			return fmt.Errorf("config.statuses contains duplicate status %s", s)
		}
		seen[s] = true
	}
	if !seen[c.Burndown.DoneStatus] {
		return fmt.Errorf("done status %s is not listed in config.statuses", c.Burndown.DoneStatus)
	}
	if !seen[c.Burndown.BaselineStatus] {
		return fmt.Errorf("baseline status %s is not listed in config.statuses", c.Burndown.BaselineStatus)
	}
	return nil
}

// AllowsStatus reports whether status is one of the configured task statuses.
func (c *Config) AllowsStatus(status string) bool {
	for _, s := range c.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "burnline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing burndown
// settings fall back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
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

func (c *Config) applyDefaults() {
	def := Default(c.Project.ID)
	if c.Project.Name == "" {
		c.Project.Name = c.Project.ID
	}
	if c.Burndown.HorizonDays == 0 {
		c.Burndown.HorizonDays = def.Burndown.HorizonDays
	}
	if c.Burndown.DoneStatus == "" {
		c.Burndown.DoneStatus = def.Burndown.DoneStatus
	}
	if c.Burndown.BaselineStatus == "" {
		c.Burndown.BaselineStatus = def.Burndown.BaselineStatus
	}
	if len(c.Statuses) == 0 {
		c.Statuses = def.Statuses
	}
}

const defaultTemplate = `project:
  id: %s
  name: %s

burndown:
  horizon_days: 14
  done_status: done
  baseline_status: backlog

statuses:
  - backlog
  - todo
  - in_progress
  - in_review
  - done
`
