// Package config holds the typed configuration of a governance broker run.
//
// Every recognised option is an explicit field with a default; YAML files
// only override what they mention.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/hupe1980/govmesh/logging"
	"github.com/hupe1980/govmesh/skill"
	"gopkg.in/yaml.v3"
)

// Arbitration strategies selectable from configuration. Custom strategies are
// injected in code.
const (
	StrategyPassthrough   = "passthrough"
	StrategyConflictAware = "conflict_aware"
)

// Proposer providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Config is the root configuration.
type Config struct {
	Retry    Retry    `yaml:"retry"`
	Cache    Cache    `yaml:"cache"`
	Phase    Phase    `yaml:"phase"`
	Arbiter  Arbiter  `yaml:"arbiter"`
	Skills   Skills   `yaml:"skills"`
	Rules    []Rule   `yaml:"rules,omitempty"`
	Proposer Proposer `yaml:"proposer"`
	Logging  Logging  `yaml:"logging"`
	Audit    Audit    `yaml:"audit"`
}

// Retry bounds the two retry tiers.
type Retry struct {
	FormatRepairAttempts int `yaml:"format_repair_attempts"`
	MaxRetries           int `yaml:"max_retries"`
	MaxReports           int `yaml:"max_reports"`
}

// Cache configures the decision cache. An empty Path keeps entries in memory.
type Cache struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// Phase configures the worker pool.
type Phase struct {
	Workers       int   `yaml:"workers"`
	ShuffleAgents bool  `yaml:"shuffle_agents"`
	Seed          int64 `yaml:"seed"`
}

// Resource declares a capacity-limited resource for conflict detection.
type Resource struct {
	Name     string   `yaml:"name"`
	Skills   []string `yaml:"skills"`
	Limit    int      `yaml:"limit"`
	LimitKey string   `yaml:"limit_key,omitempty"`
}

// Arbiter configures phase-level conflict resolution.
type Arbiter struct {
	Strategy     string         `yaml:"strategy"`
	Precedence   map[string]int `yaml:"precedence,omitempty"`
	Resources    []Resource     `yaml:"resources,omitempty"`
	TieBreakSeed *int64         `yaml:"tie_break_seed,omitempty"`
	// NATSURL switches resolution broadcasts from the in-process bus to NATS.
	NATSURL string `yaml:"nats_url,omitempty"`
	// ArtifactPath persists round bundles to SQLite; empty keeps them in memory.
	ArtifactPath string `yaml:"artifact_path,omitempty"`
}

// Skills configures the skill catalogue and fallback policy.
type Skills struct {
	Default           string        `yaml:"default"`
	FallbackOnUnknown bool          `yaml:"fallback_on_unknown"`
	Definitions       []skill.Skill `yaml:"definitions,omitempty"`
}

// Rule is a CEL governance rule declared in configuration.
type Rule struct {
	ID            string   `yaml:"id"`
	Expr          string   `yaml:"expr"`
	Skills        []string `yaml:"skills,omitempty"`
	Deterministic bool     `yaml:"deterministic"`
	Message       string   `yaml:"message,omitempty"`
	Suggestion    string   `yaml:"suggestion,omitempty"`
}

// Proposer configures the LLM behind the adapter.
type Proposer struct {
	Provider          string   `yaml:"provider"`
	Model             string   `yaml:"model,omitempty"`
	Temperature       *float64 `yaml:"temperature,omitempty"`
	MaxTokens         int      `yaml:"max_tokens,omitempty"`
	RequestsPerSecond float64  `yaml:"requests_per_second,omitempty"`
	RequiredReasoning []string `yaml:"required_reasoning,omitempty"`
	System            string   `yaml:"system,omitempty"`
}

// Logging configures the BrokerLogger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Audit configures the trace sink. An empty Path keeps traces in memory.
type Audit struct {
	Path string `yaml:"path,omitempty"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Retry:    Retry{FormatRepairAttempts: 2, MaxRetries: 3, MaxReports: 3},
		Cache:    Cache{Enabled: true},
		Phase:    Phase{Workers: 1},
		Arbiter:  Arbiter{Strategy: StrategyPassthrough},
		Skills:   Skills{FallbackOnUnknown: true},
		Proposer: Proposer{Provider: ProviderOpenAI},
		Logging:  Logging{Level: "info", Format: "json"},
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("load config %q: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports every invalid option at once.
func (c Config) Validate() error {
	var errs []error

	if c.Retry.FormatRepairAttempts < 0 {
		errs = append(errs, errors.New("retry.format_repair_attempts must be >= 0"))
	}

	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must be >= 0"))
	}

	if c.Retry.MaxReports < 1 {
		errs = append(errs, errors.New("retry.max_reports must be >= 1"))
	}

	if c.Phase.Workers < 1 {
		errs = append(errs, errors.New("phase.workers must be >= 1"))
	}

	switch c.Arbiter.Strategy {
	case StrategyPassthrough:
	case StrategyConflictAware:
		if len(c.Arbiter.Resources) == 0 {
			errs = append(errs, errors.New("arbiter.resources required for conflict_aware"))
		}
	default:
		errs = append(errs, fmt.Errorf("arbiter.strategy %q is not supported", c.Arbiter.Strategy))
	}

	for i, r := range c.Arbiter.Resources {
		if r.Name == "" || len(r.Skills) == 0 {
			errs = append(errs, fmt.Errorf("arbiter.resources[%d] needs a name and skills", i))
		}

		if r.Limit < 0 {
			errs = append(errs, fmt.Errorf("arbiter.resources[%d].limit must be >= 0", i))
		}
	}

	seen := map[string]bool{}

	for i, r := range c.Rules {
		if r.ID == "" || r.Expr == "" {
			errs = append(errs, fmt.Errorf("rules[%d] needs an id and expr", i))
		}

		if seen[r.ID] {
			errs = append(errs, fmt.Errorf("rules[%d]: duplicate id %q", i, r.ID))
		}

		seen[r.ID] = true
	}

	if c.Skills.Default != "" && len(c.Skills.Definitions) > 0 &&
		!slices.ContainsFunc(c.Skills.Definitions, func(s skill.Skill) bool { return s.Name == c.Skills.Default }) {
		errs = append(errs, fmt.Errorf("skills.default %q is not defined", c.Skills.Default))
	}

	switch c.Proposer.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("proposer.provider %q is not supported", c.Proposer.Provider))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, fmt.Errorf("logging.format %q must be json or text", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// NewLogger builds the BrokerLogger described by the Logging section.
func (c Config) NewLogger() *logging.BrokerLogger {
	level, _ := logging.ParseLevel(c.Logging.Level)

	return logging.NewLogger(&logging.LoggerConfig{Level: level, Format: c.Logging.Format})
}
