// Package config provides configuration loading, validation, and defaults
// for the forge agent. Config files are YAML; API keys may be given inline,
// via ${ENV_VAR} substitution, or read from a key file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StateDirName is the per-repository state directory holding the index,
// history and session database.
const StateDirName = ".forge"

// Default retry and timeout values.
const (
	DefaultMaxTries          = 3
	DefaultGenerateTimeout   = 120 * time.Second
	DefaultVerifyTimeout     = 300 * time.Second
	DefaultBundleTokenBudget = 12000
	DefaultMaxPlanSteps      = 5
)

// ProviderAnthropic and ProviderOpenAI select the generation backend.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ModelConfig holds model selection and pricing for one provider.
type ModelConfig struct {
	Name         string  `yaml:"name"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float32 `yaml:"temperature"`
	APIKey       string  `yaml:"api_key"`       // inline or ${ENV_VAR}
	KeyFile      string  `yaml:"key_file"`      // fallback: read key from file
	CostInPerM   float64 `yaml:"cost_in_per_m"` // USD per 1M input tokens
	CostOutPerM  float64 `yaml:"cost_out_per_m"`
}

// IndexConfig controls repository indexing.
type IndexConfig struct {
	IgnorePatterns   []string `yaml:"ignore_patterns"` // doublestar globs on top of .gitignore
	MaxFileSizeBytes int64    `yaml:"max_file_size_bytes"`
	SummaryWorkers   int      `yaml:"summary_workers"`
}

// VerifyConfig controls the build/check tool invocation.
type VerifyConfig struct {
	Tool           string        `yaml:"tool"` // "auto", "go", "make", "node", "null"
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	timeout        time.Duration `yaml:"-"`
}

// Config is the top-level forge configuration.
type Config struct {
	Provider               string       `yaml:"provider"` // "anthropic" or "openai"
	Models                 map[string]ModelConfig `yaml:"models"`
	MaxTries               int          `yaml:"max_tries"`
	BundleTokenBudget      int          `yaml:"bundle_token_budget"`
	GenerateTimeoutSeconds int          `yaml:"generate_timeout_seconds"`
	PlanWithModel          bool         `yaml:"plan_with_model"` // decompose goals via the LLM planner
	MaxPlanSteps           int          `yaml:"max_plan_steps"`
	Index                  IndexConfig  `yaml:"index"`
	Verify                 VerifyConfig `yaml:"verify"`
}

// DefaultConfig returns a config populated with working defaults.
// The Anthropic key file default follows the conventional ~/.api/anthropic1
// location; the env var takes precedence when set.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Provider: ProviderAnthropic,
		Models: map[string]ModelConfig{
			ProviderAnthropic: {
				Name:        "claude-3-5-sonnet-20240620",
				MaxTokens:   4096,
				Temperature: 0.7,
				APIKey:      "${ANTHROPIC_API_KEY}",
				KeyFile:     filepath.Join(home, ".api", "anthropic1"),
				CostInPerM:  3.00,
				CostOutPerM: 15.00,
			},
			ProviderOpenAI: {
				Name:        "gpt-4o",
				MaxTokens:   4096,
				Temperature: 0.7,
				APIKey:      "${OPENAI_API_KEY}",
				CostInPerM:  2.50,
				CostOutPerM: 10.00,
			},
		},
		MaxTries:               DefaultMaxTries,
		BundleTokenBudget:      DefaultBundleTokenBudget,
		GenerateTimeoutSeconds: int(DefaultGenerateTimeout.Seconds()),
		MaxPlanSteps:           DefaultMaxPlanSteps,
		Index: IndexConfig{
			MaxFileSizeBytes: 1024 * 1024,
			SummaryWorkers:   4,
		},
		Verify: VerifyConfig{
			Tool:           "auto",
			TimeoutSeconds: int(DefaultVerifyTimeout.Seconds()),
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing file is
// not an error; defaults apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, cfg.Validate()
			}
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	return cfg, cfg.Validate()
}

var envVarPattern = regexp.MustCompile(`^\$\{([A-Z0-9_]+)\}$`)

// ResolveAPIKey resolves the API key for the active provider: inline value,
// ${ENV_VAR} substitution, then key file fallback.
func (c *Config) ResolveAPIKey() (string, error) {
	model, ok := c.Models[c.Provider]
	if !ok {
		return "", fmt.Errorf("no model configured for provider %q", c.Provider)
	}

	key := strings.TrimSpace(model.APIKey)
	if m := envVarPattern.FindStringSubmatch(key); m != nil {
		key = strings.TrimSpace(os.Getenv(m[1]))
	}
	if key != "" {
		return key, nil
	}

	if model.KeyFile != "" {
		data, err := os.ReadFile(model.KeyFile)
		if err != nil {
			return "", fmt.Errorf("failed to read API key from %s: %w", model.KeyFile, err)
		}
		key = strings.TrimSpace(string(data))
		if key != "" {
			return key, nil
		}
	}

	return "", fmt.Errorf("no API key for provider %q: set %s or a key_file", c.Provider, model.APIKey)
}

// ActiveModel returns the model config for the selected provider.
func (c *Config) ActiveModel() ModelConfig {
	return c.Models[c.Provider]
}

// GenerateTimeout returns the per-call generation timeout.
func (c *Config) GenerateTimeout() time.Duration {
	return time.Duration(c.GenerateTimeoutSeconds) * time.Second
}

// Timeout returns the per-call verification timeout.
func (v *VerifyConfig) Timeout() time.Duration {
	if v.timeout == 0 {
		v.timeout = time.Duration(v.TimeoutSeconds) * time.Second
	}
	return v.timeout
}

// Validate checks invariants and fills gaps left by a partial config file.
func (c *Config) Validate() error {
	if c.Provider != ProviderAnthropic && c.Provider != ProviderOpenAI {
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if _, ok := c.Models[c.Provider]; !ok {
		return fmt.Errorf("no model configured for provider %q", c.Provider)
	}
	if c.MaxTries <= 0 {
		c.MaxTries = DefaultMaxTries
	}
	if c.BundleTokenBudget <= 0 {
		c.BundleTokenBudget = DefaultBundleTokenBudget
	}
	if c.GenerateTimeoutSeconds <= 0 {
		c.GenerateTimeoutSeconds = int(DefaultGenerateTimeout.Seconds())
	}
	if c.MaxPlanSteps <= 0 {
		c.MaxPlanSteps = DefaultMaxPlanSteps
	}
	if c.Verify.TimeoutSeconds <= 0 {
		c.Verify.TimeoutSeconds = int(DefaultVerifyTimeout.Seconds())
	}
	if c.Index.MaxFileSizeBytes <= 0 {
		c.Index.MaxFileSizeBytes = 1024 * 1024
	}
	if c.Index.SummaryWorkers <= 0 {
		c.Index.SummaryWorkers = 4
	}
	return nil
}

// StateDir returns the state directory path inside a repository.
func StateDir(repoDir string) string {
	return filepath.Join(repoDir, StateDirName)
}

// EnsureStateDir creates the state directory if needed and returns its path.
func EnsureStateDir(repoDir string) (string, error) {
	dir := StateDir(repoDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	return dir, nil
}
