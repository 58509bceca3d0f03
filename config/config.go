// Package config provides configuration loading and management for threadline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete threadline configuration. It is passed
// explicitly into the pipeline at construction time; there is no ambient
// process-wide state.
type Config struct {
	Model  ModelConfig  `yaml:"model"`
	Retry  RetryConfig  `yaml:"retry"`
	Refine RefineConfig `yaml:"refine"`
	Audit  AuditConfig  `yaml:"audit"`
	Cache  CacheConfig  `yaml:"cache"`
}

// ModelConfig configures the generation service.
type ModelConfig struct {
	// Provider is the generation provider ("deepseek", "anthropic", "openai").
	Provider string `yaml:"provider"`
	// Name is the model name (empty = provider default).
	Name string `yaml:"name"`
	// Endpoint overrides the provider's default API base URL.
	Endpoint string `yaml:"endpoint"`
	// Temperature controls randomness (0 = deterministic).
	Temperature float64 `yaml:"temperature"`
	// MaxTokens limits response length per call.
	MaxTokens int `yaml:"max_tokens"`
	// Timeout is the per-call budget; slower/larger models need more.
	Timeout time.Duration `yaml:"timeout"`
}

// RetryConfig holds per-stage retry settings.
type RetryConfig struct {
	// MaxAttempts is the maximum attempts per stage, first try included.
	MaxAttempts int `yaml:"max_attempts"`
	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration `yaml:"backoff_base"`
	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// RefineConfig holds the thread-refinement thresholds. These were tuned
// empirically on the source corpus and should be re-validated against a
// labeled dataset before being trusted further.
type RefineConfig struct {
	// MinCoverage is the minimum evidence-scene fraction of the script.
	MinCoverage float64 `yaml:"min_coverage"`
	// MirrorOverlap is the Jaccard threshold for merging mirror threads.
	MirrorOverlap float64 `yaml:"mirror_overlap"`
	// MinKeywordOverlap is the minimum shared tokens for evidence support.
	MinKeywordOverlap int `yaml:"min_keyword_overlap"`
}

// AuditConfig holds ranking thresholds.
type AuditConfig struct {
	// BLineOverlapMin is the minimum A-line interaction for a B-line.
	BLineOverlapMin float64 `yaml:"b_line_overlap_min"`
	// ClimaxFraction is the trailing scene fraction treated as the climax.
	ClimaxFraction float64 `yaml:"climax_fraction"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	// Enabled turns result caching on.
	Enabled bool `yaml:"enabled"`
	// Path is the SQLite database path. Empty selects the in-memory store.
	Path string `yaml:"path"`
	// TTL is how long a record stays valid.
	TTL time.Duration `yaml:"ttl"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "deepseek",
			Name:        "deepseek-chat",
			Temperature: 0,
			MaxTokens:   4096,
			Timeout:     120 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BackoffBase:       2 * time.Second,
			BackoffMultiplier: 2.0,
			MaxBackoff:        30 * time.Second,
		},
		Refine: RefineConfig{
			MinCoverage:       0.15,
			MirrorOverlap:     0.8,
			MinKeywordOverlap: 1,
		},
		Audit: AuditConfig{
			BLineOverlapMin: 0.3,
			ClimaxFraction:  0.2,
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    "data/threadline.db",
			TTL:     7 * 24 * time.Hour,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Model.Provider == "" {
		return fmt.Errorf("model.provider is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be at least 1")
	}
	if c.Refine.MinCoverage < 0 || c.Refine.MinCoverage > 1 {
		return fmt.Errorf("refine.min_coverage must be between 0 and 1")
	}
	if c.Refine.MirrorOverlap < 0 || c.Refine.MirrorOverlap > 1 {
		return fmt.Errorf("refine.mirror_overlap must be between 0 and 1")
	}
	if c.Audit.BLineOverlapMin < 0 || c.Audit.BLineOverlapMin > 1 {
		return fmt.Errorf("audit.b_line_overlap_min must be between 0 and 1")
	}
	if c.Audit.ClimaxFraction <= 0 || c.Audit.ClimaxFraction > 1 {
		return fmt.Errorf("audit.climax_fraction must be in (0, 1]")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive when cache is enabled")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file, over defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Model.Provider != "" {
		c.Model.Provider = other.Model.Provider
	}
	if other.Model.Name != "" {
		c.Model.Name = other.Model.Name
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.MaxTokens != 0 {
		c.Model.MaxTokens = other.Model.MaxTokens
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	if other.Retry.MaxAttempts != 0 {
		c.Retry.MaxAttempts = other.Retry.MaxAttempts
	}
	if other.Retry.BackoffBase != 0 {
		c.Retry.BackoffBase = other.Retry.BackoffBase
	}
	if other.Retry.BackoffMultiplier != 0 {
		c.Retry.BackoffMultiplier = other.Retry.BackoffMultiplier
	}
	if other.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = other.Retry.MaxBackoff
	}

	if other.Refine.MinCoverage != 0 {
		c.Refine.MinCoverage = other.Refine.MinCoverage
	}
	if other.Refine.MirrorOverlap != 0 {
		c.Refine.MirrorOverlap = other.Refine.MirrorOverlap
	}
	if other.Refine.MinKeywordOverlap != 0 {
		c.Refine.MinKeywordOverlap = other.Refine.MinKeywordOverlap
	}

	if other.Audit.BLineOverlapMin != 0 {
		c.Audit.BLineOverlapMin = other.Audit.BLineOverlapMin
	}
	if other.Audit.ClimaxFraction != 0 {
		c.Audit.ClimaxFraction = other.Audit.ClimaxFraction
	}

	if other.Cache.Path != "" {
		c.Cache.Path = other.Cache.Path
	}
	if other.Cache.TTL != 0 {
		c.Cache.TTL = other.Cache.TTL
	}
}
