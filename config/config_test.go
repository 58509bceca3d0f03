package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantSub string
	}{
		{"missing provider", func(c *Config) { c.Model.Provider = "" }, "model.provider"},
		{"temperature above one", func(c *Config) { c.Model.Temperature = 1.5 }, "model.temperature"},
		{"negative temperature", func(c *Config) { c.Model.Temperature = -0.1 }, "model.temperature"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"shrinking multiplier", func(c *Config) { c.Retry.BackoffMultiplier = 0.5 }, "retry.backoff_multiplier"},
		{"coverage above one", func(c *Config) { c.Refine.MinCoverage = 1.1 }, "refine.min_coverage"},
		{"mirror overlap above one", func(c *Config) { c.Refine.MirrorOverlap = 2 }, "refine.mirror_overlap"},
		{"overlap min above one", func(c *Config) { c.Audit.BLineOverlapMin = 1.5 }, "audit.b_line_overlap_min"},
		{"zero climax fraction", func(c *Config) { c.Audit.ClimaxFraction = 0 }, "audit.climax_fraction"},
		{"cache enabled without ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache.ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantSub)
		})
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Model.Provider = "anthropic"
	cfg.Model.Name = "claude-sonnet-4-20250514"
	cfg.Retry.MaxAttempts = 5
	cfg.Cache.Path = "/tmp/analysis.db"

	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoadFromFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: [not a mapping"), 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

// Loading a partial file keeps defaults for everything it omits.
func TestLoadFromFilePartialOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	yaml := "model:\n  provider: openai\nretry:\n  max_attempts: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)

	def := DefaultConfig()
	assert.Equal(t, def.Model.MaxTokens, cfg.Model.MaxTokens)
	assert.Equal(t, def.Refine, cfg.Refine)
	assert.Equal(t, def.Audit, cfg.Audit)
}

func TestMergePrecedence(t *testing.T) {
	base := DefaultConfig()
	base.Merge(&Config{
		Model: ModelConfig{Provider: "openai", Temperature: 0.3},
		Retry: RetryConfig{MaxAttempts: 5},
		Cache: CacheConfig{Path: "/var/lib/threadline/cache.db"},
	})

	assert.Equal(t, "openai", base.Model.Provider)
	assert.InDelta(t, 0.3, base.Model.Temperature, 1e-9)
	assert.Equal(t, 5, base.Retry.MaxAttempts)
	assert.Equal(t, "/var/lib/threadline/cache.db", base.Cache.Path)

	// Untouched fields keep the base values.
	def := DefaultConfig()
	assert.Equal(t, def.Model.MaxTokens, base.Model.MaxTokens)
	assert.Equal(t, def.Retry.BackoffBase, base.Retry.BackoffBase)
}

func TestMergeNilIsNoop(t *testing.T) {
	base := DefaultConfig()
	want := *base
	base.Merge(nil)
	assert.Equal(t, want, *base)
}
