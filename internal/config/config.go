// Package config loads the taskforge YAML configuration and converts it to
// the configuration of each component.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/exec"
	"github.com/felixgeelhaar/taskforge/internal/files"
	"github.com/felixgeelhaar/taskforge/internal/hooks"
	"github.com/felixgeelhaar/taskforge/internal/journal"
	"github.com/felixgeelhaar/taskforge/internal/log"
	"github.com/felixgeelhaar/taskforge/internal/plan"
	"github.com/felixgeelhaar/taskforge/internal/verify"
)

// DefaultPath is the configuration file looked up in the working directory
const DefaultPath = ".taskforge.yaml"

// Config is the root of the configuration file
type Config struct {
	Planner      plan.Config         `yaml:"planner"`
	Verification VerificationConfig  `yaml:"verification"`
	Tracker      files.Config        `yaml:"tracker"`
	Watcher      files.WatcherConfig `yaml:"watcher"`
	Executor     exec.Config         `yaml:"executor"`
	Hooks        []hooks.Config      `yaml:"hooks,omitempty"`
	Journal      journal.Config      `yaml:"journal"`
	Log          LogConfig           `yaml:"log"`
	Metrics      MetricsConfig       `yaml:"metrics"`
}

// VerificationConfig extends the engine configuration with declared rules
type VerificationConfig struct {
	verify.Config `yaml:",inline"`

	// ConsistencyRule registers the import consistency rule
	ConsistencyRule bool `yaml:"consistency_rule"`

	// Rules are shell-command rules registered after the baseline rules
	Rules []CommandRule `yaml:"rules"`
}

// CommandRule declares a verification rule backed by a shell command
type CommandRule struct {
	ID       string        `yaml:"id"`
	Type     string        `yaml:"type"`
	Command  string        `yaml:"command"`
	Critical bool          `yaml:"critical"`
	Disabled bool          `yaml:"disabled"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  int           `yaml:"retries"`
	Patterns []string      `yaml:"patterns,omitempty"`
}

// Rule converts the declaration into a verify.Rule
func (c CommandRule) Rule() verify.Rule {
	ruleType := verify.RuleType(c.Type)
	if ruleType == "" {
		ruleType = verify.RuleTypeCustom
	}
	r := verify.NewCommandRule(c.ID, ruleType, c.Command, c.Critical, c.Timeout, c.Patterns...)
	r.Retries = c.Retries
	r.Enabled = !c.Disabled
	return r
}

// LogConfig configures the process logger
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// Logger builds a logger writing to w (stderr when nil)
func (c LogConfig) Logger(w io.Writer) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(c.Level)
	if c.Format != "" {
		cfg.Format = log.ParseFormat(c.Format)
	}
	cfg.AddSource = c.AddSource
	if w != nil {
		cfg.Output = w
	}
	return log.New(cfg)
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Planner: plan.DefaultConfig(),
		Verification: VerificationConfig{
			Config:          verify.DefaultConfig(),
			ConsistencyRule: true,
		},
		Tracker:  files.DefaultConfig(),
		Watcher:  files.DefaultWatcherConfig(),
		Executor: exec.DefaultConfig(),
		Journal:  journal.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
	}
}

// Load reads path on top of the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeConfigNotFound, fmt.Sprintf("config file not found: %s", path)).
				WithSuggestion("Run 'taskforge config show' to print a starting configuration")
		}
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to read config", err)
	}
	return Parse(data)
}

// LoadOrDefault loads path when it exists and returns the defaults otherwise
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.HasCode(err, errors.ErrCodeConfigNotFound) {
		return Default(), nil
	}
	return cfg, err
}

// Parse decodes YAML on top of the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to parse config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and references across sections
func (c *Config) Validate() error {
	var problems []string

	p := c.Planner
	if p.MaxTasks <= 0 {
		problems = append(problems, "planner.max_tasks must be positive")
	}
	if p.MaxDepth <= 0 {
		problems = append(problems, "planner.max_depth must be positive")
	}
	if p.MaxRetries < 0 {
		problems = append(problems, "planner.max_retries must not be negative")
	}
	if p.MaxConcurrency < 0 || c.Verification.MaxConcurrency < 0 {
		problems = append(problems, "max_concurrency must not be negative (0 is unbounded)")
	}
	if p.RetryDelay < 0 || c.Verification.RetryDelay < 0 {
		problems = append(problems, "retry_delay must not be negative")
	}

	if err := c.Verification.Strategy.Validate(); err != nil {
		problems = append(problems, "verification."+err.Error())
	}
	seen := map[string]bool{}
	for i, r := range c.Verification.Rules {
		switch {
		case r.ID == "":
			problems = append(problems, fmt.Sprintf("verification.rules[%d] needs an id", i))
		case seen[r.ID]:
			problems = append(problems, fmt.Sprintf("verification.rules[%d]: duplicate id %q", i, r.ID))
		}
		seen[r.ID] = true
		if strings.TrimSpace(r.Command) == "" {
			problems = append(problems, fmt.Sprintf("verification.rules[%d] needs a command", i))
		}
		if r.Type != "" {
			if err := verify.RuleType(r.Type).Validate(); err != nil {
				problems = append(problems, fmt.Sprintf("verification.rules[%d]: %v", i, err))
			}
		}
	}

	if c.Executor.Timeout < 0 {
		problems = append(problems, "executor.timeout must not be negative")
	}

	names := map[string]bool{}
	for i, h := range c.Hooks {
		if err := h.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("hooks[%d]: %v", i, err))
		}
		switch h.Type {
		case hooks.TypeScript, hooks.TypeWebhook:
		default:
			problems = append(problems, fmt.Sprintf("hooks[%d]: type must be %s or %s", i, hooks.TypeScript, hooks.TypeWebhook))
		}
		if names[h.Name] {
			problems = append(problems, fmt.Sprintf("hooks[%d]: duplicate name %q", i, h.Name))
		}
		names[h.Name] = true
	}

	if c.Journal.MaxFileSize < 0 || c.Journal.MaxFiles < 0 {
		problems = append(problems, "journal.max_file_size and journal.max_files must not be negative")
	}

	if c.Tracker.MaxRelatedDepth < 0 {
		problems = append(problems, "tracker.max_related_depth must not be negative")
	}

	if len(problems) > 0 {
		return errors.NewConfigInvalidError(strings.Join(problems, "; "))
	}
	return nil
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
