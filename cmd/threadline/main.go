// Package main provides the threadline binary entry point.
// Threadline analyzes screenplay scene breakdowns: it discovers conflict
// threads, ranks them into narrative tiers, and repairs structural defects.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	// Register generation providers via init()
	_ "github.com/storylab/threadline/llm/providers"

	"github.com/storylab/threadline/cache"
	"github.com/storylab/threadline/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "threadline"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Screenplay conflict-thread analyzer",
		Long: `Threadline analyzes a screenplay scene breakdown in three stages:

- discover: identify sustained conflict threads with scene evidence
- audit:    rank threads into A/B/C narrative tiers
- modify:   repair structural defects such as broken setup/payoff links

Results are cached by script content, so re-analyzing an unchanged
script returns instantly without calling the generation service.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(analyzeCmd(flags))
	cmd.AddCommand(cacheCmd(flags))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// buildLogger configures the process-wide structured logger on stderr so
// stdout stays clean for rendered results.
func buildLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig layers the config file, if any, over defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openResultCache opens the configured cache store. A nil cache is a valid
// return: it means caching is disabled.
func openResultCache(cfg *config.Config, logger *slog.Logger) (*cache.ResultCache, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	var store cache.Store
	if cfg.Cache.Path == "" {
		store = cache.NewMemoryStore()
	} else {
		s, err := cache.OpenSQLite(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("open cache at %s: %w", cfg.Cache.Path, err)
		}
		store = s
	}
	return cache.New(store, cfg.Cache.TTL, logger), nil
}
