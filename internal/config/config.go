package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// StateDir is the per-workspace directory holding the ledger, config and
// progress files. It is always excluded from scans.
const StateDir = ".autoprog"

// Config holds coordinator settings for one workspace
type Config struct {
	// MaxConcurrency bounds the number of RUNNING tasks.
	// Default: 4, Range: 1-64
	MaxConcurrency int

	// ConfidenceThreshold discards mock matches scoring below it.
	// Default: 0.3, Range: 0-1
	ConfidenceThreshold float64

	// MaintainabilityThreshold flags files for review when maintainability is below it.
	// Default: 40
	MaintainabilityThreshold int

	// ComplexityThreshold flags files for analysis when complexity reaches it.
	// Default: 70
	ComplexityThreshold int

	// MaxFileSize skips files larger than this many bytes.
	// Default: 1 MiB
	MaxFileSize int64

	// Extensions lists the source file extensions that are scanned.
	Extensions []string

	// ExcludePaths are path patterns skipped by the scanner in addition to
	// the always-excluded external/, .git/ and state directories.
	ExcludePaths []string

	// MaxRetries is how many times a failed task is retried as a new task.
	// Default: 0
	MaxRetries int

	// RatePerSecond paces task admission. 0 disables pacing.
	RatePerSecond float64
	RateBurst     int

	// ReviewCacheSize bounds the reviewer's report cache.
	// Default: 256
	ReviewCacheSize int

	// MockPatterns are user-defined mock detectors appended to the builtin set.
	MockPatterns []PatternConfig

	// AI configures the optional model-backed synthesizer used by the Creator.
	AI AIConfig

	// WriteMetrics writes a Prometheus textfile to the state directory after each run.
	// Default: true
	WriteMetrics bool
}

// PatternConfig is a user-defined mock pattern.
type PatternConfig struct {
	ID     string  `yaml:"id"`
	Regex  string  `yaml:"regex"`
	Weight float64 `yaml:"weight"`
}

// AIConfig configures the Anthropic synthesizer.
type AIConfig struct {
	Enabled   bool
	Model     string
	MaxTokens int
	APIKey    string
}

// DefaultConfig returns the default coordinator configuration
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency:           4,
		ConfidenceThreshold:      0.3,
		MaintainabilityThreshold: 40,
		ComplexityThreshold:      70,
		MaxFileSize:              1 << 20,
		Extensions:               []string{".py", ".go", ".js", ".ts", ".java", ".rb", ".rs", ".c", ".cpp", ".h"},
		RateBurst:                1,
		ReviewCacheSize:          256,
		WriteMetrics:             true,
		AI: AIConfig{
			Model:     "claude-sonnet-4-5-20250929",
			MaxTokens: 4096,
		},
	}
}

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	if c.MaxConcurrency < 1 || c.MaxConcurrency > 64 {
		return fmt.Errorf("max_concurrency must be between 1 and 64 (got %d)", c.MaxConcurrency)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1 (got %f)", c.ConfidenceThreshold)
	}
	if c.MaintainabilityThreshold < 0 || c.MaintainabilityThreshold > 100 {
		return fmt.Errorf("maintainability_threshold must be between 0 and 100 (got %d)", c.MaintainabilityThreshold)
	}
	if c.ComplexityThreshold < 0 || c.ComplexityThreshold > 100 {
		return fmt.Errorf("complexity_threshold must be between 0 and 100 (got %d)", c.ComplexityThreshold)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive (got %d)", c.MaxFileSize)
	}
	if len(c.Extensions) == 0 {
		return fmt.Errorf("at least one extension is required")
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	if c.MaxRetries < 0 || c.MaxRetries > 5 {
		return fmt.Errorf("max_retries must be between 0 and 5 (got %d)", c.MaxRetries)
	}
	if c.RatePerSecond < 0 {
		return fmt.Errorf("rate_per_second cannot be negative (got %f)", c.RatePerSecond)
	}
	if c.RatePerSecond > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be at least 1 when pacing is enabled (got %d)", c.RateBurst)
	}
	if c.ReviewCacheSize < 1 {
		return fmt.Errorf("review_cache_size must be at least 1 (got %d)", c.ReviewCacheSize)
	}
	for _, p := range c.MockPatterns {
		if p.ID == "" {
			return fmt.Errorf("mock pattern id is required")
		}
		if p.Weight <= 0 || p.Weight > 1 {
			return fmt.Errorf("mock pattern %s weight must be in (0, 1] (got %f)", p.ID, p.Weight)
		}
		if _, err := regexp.Compile(p.Regex); err != nil {
			return fmt.Errorf("mock pattern %s: invalid regex: %w", p.ID, err)
		}
	}
	if c.AI.Enabled {
		if c.AI.APIKey == "" {
			return fmt.Errorf("ai enabled but ANTHROPIC_API_KEY is not set")
		}
		if c.AI.MaxTokens < 1 {
			return fmt.Errorf("ai max_tokens must be positive (got %d)", c.AI.MaxTokens)
		}
	}
	return nil
}

// ConfigFile represents the structure of .autoprog/config.yaml
type ConfigFile struct {
	MaxConcurrency           int             `yaml:"max_concurrency"`
	ConfidenceThreshold      *float64        `yaml:"confidence_threshold"`
	MaintainabilityThreshold int             `yaml:"maintainability_threshold"`
	ComplexityThreshold      int             `yaml:"complexity_threshold"`
	MaxFileSize              int64           `yaml:"max_file_size"`
	Extensions               []string        `yaml:"extensions"`
	ExcludePaths             []string        `yaml:"exclude_paths"`
	MaxRetries               int             `yaml:"max_retries"`
	RatePerSecond            float64         `yaml:"rate_per_second"`
	RateBurst                int             `yaml:"rate_burst"`
	ReviewCacheSize          int             `yaml:"review_cache_size"`
	MockPatterns             []PatternConfig `yaml:"mock_patterns"`
	WriteMetrics             *bool           `yaml:"write_metrics"`
	AI                       AIFileConfig    `yaml:"ai"`
}

// AIFileConfig defines synthesizer settings in the config file.
type AIFileConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// Path returns the config file location for a workspace.
func Path(root string) string {
	return filepath.Join(root, StateDir, "config.yaml")
}

// LoadFile loads configuration from .autoprog/config.yaml, falling back to
// defaults when the file does not exist.
func LoadFile(root string) (*Config, error) {
	configPath := Path(root)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var configFile ConfigFile
	if err := yaml.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return configFile.ToConfig(), nil
}

// Load reads the config file, applies environment overrides and validates.
func Load(root string) (*Config, error) {
	cfg, err := LoadFile(root)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ToConfig converts a ConfigFile to a Config, keeping defaults for unset fields.
func (cf *ConfigFile) ToConfig() *Config {
	config := DefaultConfig()

	if cf.MaxConcurrency > 0 {
		config.MaxConcurrency = cf.MaxConcurrency
	}
	if cf.ConfidenceThreshold != nil {
		config.ConfidenceThreshold = *cf.ConfidenceThreshold
	}
	if cf.MaintainabilityThreshold > 0 {
		config.MaintainabilityThreshold = cf.MaintainabilityThreshold
	}
	if cf.ComplexityThreshold > 0 {
		config.ComplexityThreshold = cf.ComplexityThreshold
	}
	if cf.MaxFileSize > 0 {
		config.MaxFileSize = cf.MaxFileSize
	}
	if len(cf.Extensions) > 0 {
		config.Extensions = cf.Extensions
	}
	if len(cf.ExcludePaths) > 0 {
		config.ExcludePaths = cf.ExcludePaths
	}
	config.MaxRetries = cf.MaxRetries
	config.RatePerSecond = cf.RatePerSecond
	if cf.RateBurst > 0 {
		config.RateBurst = cf.RateBurst
	}
	if cf.ReviewCacheSize > 0 {
		config.ReviewCacheSize = cf.ReviewCacheSize
	}
	config.MockPatterns = cf.MockPatterns
	if cf.WriteMetrics != nil {
		config.WriteMetrics = *cf.WriteMetrics
	}

	config.AI.Enabled = cf.AI.Enabled
	if cf.AI.Model != "" {
		config.AI.Model = cf.AI.Model
	}
	if cf.AI.MaxTokens > 0 {
		config.AI.MaxTokens = cf.AI.MaxTokens
	}

	return config
}

// SaveFile writes cfg to .autoprog/config.yaml.
func SaveFile(root string, cfg *Config) error {
	configPath := Path(root)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating %s directory: %w", StateDir, err)
	}

	threshold := cfg.ConfidenceThreshold
	writeMetrics := cfg.WriteMetrics
	configFile := ConfigFile{
		MaxConcurrency:           cfg.MaxConcurrency,
		ConfidenceThreshold:      &threshold,
		MaintainabilityThreshold: cfg.MaintainabilityThreshold,
		ComplexityThreshold:      cfg.ComplexityThreshold,
		MaxFileSize:              cfg.MaxFileSize,
		Extensions:               cfg.Extensions,
		ExcludePaths:             cfg.ExcludePaths,
		MaxRetries:               cfg.MaxRetries,
		RatePerSecond:            cfg.RatePerSecond,
		RateBurst:                cfg.RateBurst,
		ReviewCacheSize:          cfg.ReviewCacheSize,
		MockPatterns:             cfg.MockPatterns,
		WriteMetrics:             &writeMetrics,
		AI: AIFileConfig{
			Enabled:   cfg.AI.Enabled,
			Model:     cfg.AI.Model,
			MaxTokens: cfg.AI.MaxTokens,
		},
	}

	data, err := yaml.Marshal(&configFile)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
