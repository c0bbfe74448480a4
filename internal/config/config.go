package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all autoforge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// ProjectRoot is where project state, artifacts, and the learning
	// database live.
	ProjectRoot string `yaml:"project_root"`

	// Requirement is an optional inline requirement text; the CLI flag
	// takes precedence when both are set.
	Requirement string `yaml:"requirement"`

	// Gear selects which agents the orchestrator registers (1, 2, or 3).
	Gear int `yaml:"gear"`

	// MaxIterations bounds the PR feedback loop per task.
	MaxIterations int `yaml:"max_iterations"`

	// Git configures the git driver.
	Git GitConfig `yaml:"git"`

	// Backend configures the code-generation backend.
	Backend BackendConfig `yaml:"backend"`

	// Review configures the PR reviewer.
	Review ReviewConfig `yaml:"review"`

	// Gear3 holds the gear-3 subsystems (ever-thinker, monitoring).
	Gear3 Gear3Config `yaml:"gear3"`

	// Logging mirrors internal/logging's view of the same section.
	Logging LoggingConfig `yaml:"logging"`

	// Path records where this config was loaded from; empty when it came
	// from defaults alone. Hot reload needs a file to watch.
	Path string `yaml:"-"`
}

// GitConfig configures the git driver.
type GitConfig struct {
	Remote     string `yaml:"remote"`
	BaseBranch string `yaml:"base_branch"`
	WorkDir    string `yaml:"work_dir"`
}

// BackendConfig configures the code-generation backend.
type BackendConfig struct {
	// Command is an external generator invocation. Empty selects the
	// built-in scaffold backend.
	Command string `yaml:"command"`
	Timeout string `yaml:"timeout"`
}

// ReviewConfig configures the PR reviewer.
type ReviewConfig struct {
	ApprovalThreshold int `yaml:"approval_threshold"`

	// CriteriaDefaults pins per-criterion scores for the baseline
	// reviewer. Keys are criterion names; absent criteria fall back to
	// the built-in heuristics.
	CriteriaDefaults map[string]int `yaml:"criteria_defaults"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Enabled    bool            `yaml:"enabled"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// ValidationError reports a construction-time configuration failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// criterionNames are the reviewer criteria the config may pin defaults for.
var criterionNames = map[string]bool{
	"code_quality":        true,
	"test_coverage":       true,
	"security":            true,
	"documentation":       true,
	"acceptance_criteria": true,
}

// metricNames mirrors the monitor's metric type enum to avoid a circular
// import with internal/monitoring.
var metricNames = map[string]bool{
	"task_success_rate":      true,
	"task_error_rate":        true,
	"average_execution_time": true,
	"pr_approval_rate":       true,
	"qa_score_average":       true,
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "autoforge",
		Version: "0.3.0",

		ProjectRoot:   ".forge",
		Gear:          2,
		MaxIterations: 3,

		Git: GitConfig{
			Remote:     "origin",
			BaseBranch: "main",
			WorkDir:    ".",
		},

		Backend: BackendConfig{
			Command: "",
			Timeout: "120s",
		},

		Review: ReviewConfig{
			ApprovalThreshold: 80,
		},

		Gear3: DefaultGear3Config(),

		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
		},
	}
}

// Load loads configuration from a YAML file, overlays it on the defaults,
// applies environment overrides, and validates the result. A missing file
// yields the validated defaults. Unknown keys are ignored.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			if verr := cfg.Validate(); verr != nil {
				return nil, verr
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Path = path

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if gear := os.Getenv("FORGE_GEAR"); gear != "" {
		if g, err := strconv.Atoi(gear); err == nil {
			c.Gear = g
		}
	}
	if root := os.Getenv("FORGE_PROJECT_ROOT"); root != "" {
		c.ProjectRoot = root
	}
	if req := os.Getenv("FORGE_REQUIREMENT"); req != "" {
		c.Requirement = req
	}
	if cmd := os.Getenv("FORGE_BACKEND_COMMAND"); cmd != "" {
		c.Backend.Command = cmd
	}
	if remote := os.Getenv("FORGE_GIT_REMOTE"); remote != "" {
		c.Git.Remote = remote
	}
}

// Validate checks the configuration for construction-time errors. Invalid
// weights, thresholds, or gear values are fatal at orchestrator startup.
func (c *Config) Validate() error {
	if c.Gear < 1 || c.Gear > 3 {
		return &ValidationError{Field: "gear", Reason: fmt.Sprintf("must be 1, 2, or 3 (got %d)", c.Gear)}
	}
	if c.MaxIterations < 1 {
		return &ValidationError{Field: "max_iterations", Reason: fmt.Sprintf("must be >= 1 (got %d)", c.MaxIterations)}
	}
	if c.ProjectRoot == "" {
		return &ValidationError{Field: "project_root", Reason: "must not be empty"}
	}
	if c.Review.ApprovalThreshold < 0 || c.Review.ApprovalThreshold > 100 {
		return &ValidationError{Field: "review.approval_threshold", Reason: fmt.Sprintf("must be in [0,100] (got %d)", c.Review.ApprovalThreshold)}
	}
	for name, score := range c.Review.CriteriaDefaults {
		if !criterionNames[name] {
			return &ValidationError{Field: "review.criteria_defaults", Reason: fmt.Sprintf("unknown criterion %q", name)}
		}
		if score < 0 {
			return &ValidationError{Field: "review.criteria_defaults." + name, Reason: fmt.Sprintf("must be >= 0 (got %d)", score)}
		}
	}
	if _, err := time.ParseDuration(c.Backend.Timeout); c.Backend.Timeout != "" && err != nil {
		return &ValidationError{Field: "backend.timeout", Reason: err.Error()}
	}
	return c.Gear3.validate()
}

// BackendTimeout returns the backend timeout as a duration.
func (c *Config) BackendTimeout() time.Duration {
	d, err := time.ParseDuration(c.Backend.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}
