// Package config loads workflow configuration. Load order, later sources
// winning: built-in defaults, config file, FABER_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fractary/faber/internal/errors"
)

// Autonomy presets control which phases require human approval.
const (
	AutonomyAssisted   = "assisted"   // every phase gated
	AutonomyGuarded    = "guarded"    // architect and release gated
	AutonomyAutonomous = "autonomous" // no gates
)

// Phases lists pipeline phases in order.
var Phases = []string{"frame", "architect", "build", "evaluate", "release"}

// Default models per phase. Cheap models bookend the pipeline.
const (
	defaultFastModel    = "anthropic:claude-3-5-haiku-20241022"
	defaultCapableModel = "anthropic:claude-sonnet-4-20250514"
)

// PhaseConfig configures a single pipeline phase.
type PhaseConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Model          string `yaml:"model"`
	HumanApproval  bool   `yaml:"human_approval"`
	MaxIterations  int    `yaml:"max_iterations"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
}

// ApprovalConfig configures human-in-the-loop channels.
type ApprovalConfig struct {
	NotifyChannels   []string `yaml:"notify_channels"`
	ResponseChannels []string `yaml:"response_channels"`
	TimeoutMinutes   int      `yaml:"timeout_minutes"`
}

// CheckpointConfig configures state persistence.
type CheckpointConfig struct {
	Backend     string `yaml:"backend"` // memory | sqlite | postgres | redis
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresURL string `yaml:"postgres_url"`
	RedisURL    string `yaml:"redis_url"`
}

// CostConfig configures budget control.
type CostConfig struct {
	BudgetLimitUSD    float64 `yaml:"budget_limit_usd"`
	WarningThreshold  float64 `yaml:"warning_threshold"`
	RequireApprovalAt float64 `yaml:"require_approval_at"`
}

// ObservabilityConfig configures the worklog.
type ObservabilityConfig struct {
	LogsDir  string `yaml:"logs_dir"`
	LogLevel string `yaml:"log_level"`
}

// WorkConfig configures the work item and repository providers.
type WorkConfig struct {
	Provider string `yaml:"provider"` // github | jira | gitlab
	Owner    string `yaml:"owner"`
	Repo     string `yaml:"repo"`
	BaseURL  string `yaml:"base_url,omitempty"` // jira site or gitlab instance
	Project  string `yaml:"project,omitempty"`  // jira project key
}

// Config is the complete workflow configuration.
type Config struct {
	Autonomy   string `yaml:"autonomy"`
	MaxRetries int    `yaml:"max_retries"`

	Phases map[string]*PhaseConfig `yaml:"phases"`

	Approval      ApprovalConfig      `yaml:"approval"`
	Checkpointing CheckpointConfig    `yaml:"checkpointing"`
	Cost          CostConfig          `yaml:"cost"`
	Observability ObservabilityConfig `yaml:"observability"`
	Work          WorkConfig          `yaml:"work"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Autonomy:   AutonomyGuarded,
		MaxRetries: 3,
		Phases: map[string]*PhaseConfig{
			"frame":     {Enabled: true, Model: defaultFastModel, MaxIterations: 50},
			"architect": {Enabled: true, Model: defaultCapableModel, MaxIterations: 50, HumanApproval: true},
			"build":     {Enabled: true, Model: defaultCapableModel, MaxIterations: 100},
			"evaluate":  {Enabled: true, Model: defaultCapableModel, MaxIterations: 50},
			"release":   {Enabled: true, Model: defaultFastModel, MaxIterations: 50, HumanApproval: true},
		},
		Approval: ApprovalConfig{
			NotifyChannels:   []string{"cli"},
			ResponseChannels: []string{"cli"},
			TimeoutMinutes:   60,
		},
		Checkpointing: CheckpointConfig{
			Backend:    "sqlite",
			SQLitePath: ".faber/checkpoints.db",
		},
		Cost: CostConfig{
			BudgetLimitUSD:    10.0,
			WarningThreshold:  0.8,
			RequireApprovalAt: 0.9,
		},
		Observability: ObservabilityConfig{
			LogsDir:  ".faber/logs",
			LogLevel: "info",
		},
		Work: WorkConfig{
			Provider: "github",
		},
	}
}

// searchPaths are the default config file locations, in priority order.
var searchPaths = []string{
	filepath.Join(".faber", "config.yaml"),
	filepath.Join(".faber", "config.yml"),
	"faber.yaml",
	"faber.yml",
}

// Load builds the effective configuration. An empty path searches the
// standard locations; a missing explicit path is an error, a missing
// default location is not.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range searchPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	} else if _, err := os.Stat(path); err != nil {
		return nil, errors.ErrConfigMissing(path).WithCause(err)
	}

	if path != "" {
		if err := mergeFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	applyAutonomy(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// File schema. Pointer fields distinguish "absent" from zero so a partial
// file only overrides what it names.
type filePhase struct {
	Enabled        *bool   `yaml:"enabled"`
	Model          *string `yaml:"model"`
	HumanApproval  *bool   `yaml:"human_approval"`
	MaxIterations  *int    `yaml:"max_iterations"`
	TimeoutSeconds *int    `yaml:"timeout_seconds"`
}

type fileWorkflow struct {
	Autonomy      *string               `yaml:"autonomy"`
	MaxRetries    *int                  `yaml:"max_retries"`
	Models        map[string]string     `yaml:"models"`
	HumanApproval map[string]bool       `yaml:"human_approval"`
	Phases        map[string]*filePhase `yaml:"phases"`

	Approval *struct {
		NotifyChannels   []string `yaml:"notify_channels"`
		ResponseChannels []string `yaml:"response_channels"`
		TimeoutMinutes   *int     `yaml:"timeout_minutes"`
	} `yaml:"approval"`

	Checkpointing *struct {
		Backend *string `yaml:"backend"`
		SQLite *struct {
			Path *string `yaml:"path"`
		} `yaml:"sqlite"`
		Postgres *struct {
			ConnectionString *string `yaml:"connection_string"`
		} `yaml:"postgres"`
		Redis *struct {
			URL *string `yaml:"url"`
		} `yaml:"redis"`
	} `yaml:"checkpointing"`

	Cost *struct {
		BudgetLimitUSD    *float64 `yaml:"budget_limit_usd"`
		WarningThreshold  *float64 `yaml:"warning_threshold"`
		RequireApprovalAt *float64 `yaml:"require_approval_at"`
	} `yaml:"cost"`
}

type fileConfig struct {
	Workflow      fileWorkflow `yaml:"workflow"`
	Observability *struct {
		LogsDir  *string `yaml:"logs_dir"`
		LogLevel *string `yaml:"log_level"`
	} `yaml:"observability"`
	Work *struct {
		Provider *string `yaml:"provider"`
		Owner    *string `yaml:"owner"`
		Repo     *string `yaml:"repo"`
		BaseURL  *string `yaml:"base_url"`
		Project  *string `yaml:"project"`
	} `yaml:"work"`
}

func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.ErrConfigMissing(path).WithCause(err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return errors.ErrConfigInvalid(fmt.Sprintf("parse %s", path)).WithCause(err)
	}

	wf := fc.Workflow
	if wf.Autonomy != nil {
		cfg.Autonomy = *wf.Autonomy
	}
	if wf.MaxRetries != nil {
		cfg.MaxRetries = *wf.MaxRetries
	}
	// models: and human_approval: are the shorthand maps; phases: is the
	// full form. Shorthands apply first so phases: wins on conflict.
	for phase, model := range wf.Models {
		if pc, ok := cfg.Phases[phase]; ok {
			pc.Model = model
		}
	}
	for phase, gated := range wf.HumanApproval {
		if pc, ok := cfg.Phases[phase]; ok {
			pc.HumanApproval = gated
		}
	}
	for phase, fp := range wf.Phases {
		pc, ok := cfg.Phases[phase]
		if !ok {
			continue
		}
		if fp.Enabled != nil {
			pc.Enabled = *fp.Enabled
		}
		if fp.Model != nil {
			pc.Model = *fp.Model
		}
		if fp.HumanApproval != nil {
			pc.HumanApproval = *fp.HumanApproval
		}
		if fp.MaxIterations != nil {
			pc.MaxIterations = *fp.MaxIterations
		}
		if fp.TimeoutSeconds != nil {
			pc.TimeoutSeconds = *fp.TimeoutSeconds
		}
	}

	if ap := wf.Approval; ap != nil {
		if ap.NotifyChannels != nil {
			cfg.Approval.NotifyChannels = ap.NotifyChannels
		}
		if ap.ResponseChannels != nil {
			cfg.Approval.ResponseChannels = ap.ResponseChannels
		}
		if ap.TimeoutMinutes != nil {
			cfg.Approval.TimeoutMinutes = *ap.TimeoutMinutes
		}
	}
	if cp := wf.Checkpointing; cp != nil {
		if cp.Backend != nil {
			cfg.Checkpointing.Backend = *cp.Backend
		}
		if cp.SQLite != nil && cp.SQLite.Path != nil {
			cfg.Checkpointing.SQLitePath = *cp.SQLite.Path
		}
		if cp.Postgres != nil && cp.Postgres.ConnectionString != nil {
			cfg.Checkpointing.PostgresURL = *cp.Postgres.ConnectionString
		}
		if cp.Redis != nil && cp.Redis.URL != nil {
			cfg.Checkpointing.RedisURL = *cp.Redis.URL
		}
	}
	if co := wf.Cost; co != nil {
		if co.BudgetLimitUSD != nil {
			cfg.Cost.BudgetLimitUSD = *co.BudgetLimitUSD
		}
		if co.WarningThreshold != nil {
			cfg.Cost.WarningThreshold = *co.WarningThreshold
		}
		if co.RequireApprovalAt != nil {
			cfg.Cost.RequireApprovalAt = *co.RequireApprovalAt
		}
	}
	if ob := fc.Observability; ob != nil {
		if ob.LogsDir != nil {
			cfg.Observability.LogsDir = *ob.LogsDir
		}
		if ob.LogLevel != nil {
			cfg.Observability.LogLevel = *ob.LogLevel
		}
	}
	if w := fc.Work; w != nil {
		if w.Provider != nil {
			cfg.Work.Provider = *w.Provider
		}
		if w.Owner != nil {
			cfg.Work.Owner = *w.Owner
		}
		if w.Repo != nil {
			cfg.Work.Repo = *w.Repo
		}
		if w.BaseURL != nil {
			cfg.Work.BaseURL = *w.BaseURL
		}
		if w.Project != nil {
			cfg.Work.Project = *w.Project
		}
	}
	return nil
}

// applyEnv overlays FABER_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FABER_AUTONOMY"); v != "" {
		cfg.Autonomy = v
	}
	if v := os.Getenv("FABER_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("FABER_BUDGET_LIMIT_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cost.BudgetLimitUSD = f
		}
	}
	if v := os.Getenv("FABER_CHECKPOINT_BACKEND"); v != "" {
		cfg.Checkpointing.Backend = v
	}
	if v := os.Getenv("FABER_POSTGRES_URL"); v != "" {
		cfg.Checkpointing.PostgresURL = v
	}
	if v := os.Getenv("FABER_REDIS_URL"); v != "" {
		cfg.Checkpointing.RedisURL = v
	}
	if v := os.Getenv("FABER_LOGS_DIR"); v != "" {
		cfg.Observability.LogsDir = v
	}
	if v := os.Getenv("FABER_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("FABER_WORK_PROVIDER"); v != "" {
		cfg.Work.Provider = v
	}
}

// applyAutonomy rewrites per-phase gates from the autonomy preset. The
// guarded preset keeps whatever the phase entries say, which defaults to
// gating architect and release.
func applyAutonomy(cfg *Config) {
	switch cfg.Autonomy {
	case AutonomyAssisted:
		for _, pc := range cfg.Phases {
			pc.HumanApproval = true
		}
	case AutonomyAutonomous:
		for _, pc := range cfg.Phases {
			pc.HumanApproval = false
		}
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Autonomy {
	case AutonomyAssisted, AutonomyGuarded, AutonomyAutonomous:
	default:
		return errors.ErrConfigInvalid(fmt.Sprintf("autonomy must be assisted, guarded, or autonomous (got %q)", c.Autonomy))
	}
	if c.MaxRetries < 0 {
		return errors.ErrConfigInvalid(fmt.Sprintf("max_retries must be >= 0 (got %d)", c.MaxRetries))
	}
	for _, phase := range Phases {
		pc, ok := c.Phases[phase]
		if !ok {
			return errors.ErrConfigInvalid(fmt.Sprintf("phase %q is missing", phase))
		}
		if pc.MaxIterations <= 0 {
			return errors.ErrConfigInvalid(fmt.Sprintf("phase %q max_iterations must be positive", phase))
		}
		if pc.Model == "" {
			return errors.ErrConfigInvalid(fmt.Sprintf("phase %q has no model", phase))
		}
	}
	switch c.Checkpointing.Backend {
	case "memory", "sqlite", "postgres", "redis":
	default:
		return errors.ErrConfigInvalid(fmt.Sprintf("checkpointing backend %q is not supported", c.Checkpointing.Backend))
	}
	if c.Cost.WarningThreshold <= 0 || c.Cost.WarningThreshold > 1 {
		return errors.ErrConfigInvalid("cost warning_threshold must be in (0, 1]")
	}
	if c.Cost.RequireApprovalAt < c.Cost.WarningThreshold || c.Cost.RequireApprovalAt > 1 {
		return errors.ErrConfigInvalid("cost require_approval_at must be in [warning_threshold, 1]")
	}
	return nil
}

// Phase returns the configuration for one phase.
func (c *Config) Phase(name string) *PhaseConfig {
	return c.Phases[name]
}
