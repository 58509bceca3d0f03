package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func cacheCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the result cache",
	}
	cmd.AddCommand(cacheStatsCmd(flags))
	cmd.AddCommand(cacheSweepCmd(flags))
	cmd.AddCommand(cacheClearCmd(flags))
	return cmd
}

func cacheStatsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache entry count and hit rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger(flags.logLevel)
			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}
			rc, err := openResultCache(cfg, logger)
			if err != nil {
				return err
			}
			if rc == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Cache is disabled.")
				return nil
			}
			defer rc.Close()

			stats, err := rc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderKeyValueTable([][2]string{
				{"Path", cfg.Cache.Path},
				{"Entries", fmt.Sprintf("%d", stats.Entries)},
				{"TTL", cfg.Cache.TTL.String()},
			}))
			return nil
		},
	}
}

func cacheSweepCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger(flags.logLevel)
			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}
			rc, err := openResultCache(cfg, logger)
			if err != nil {
				return err
			}
			if rc == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Cache is disabled.")
				return nil
			}
			defer rc.Close()

			removed, err := rc.Sweep(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entr%s.\n", removed, plural(removed, "y", "ies"))
			return nil
		},
	}
}

func cacheClearCmd(flags *rootFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the cache database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}
			if cfg.Cache.Path == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "In-memory cache; nothing to clear.")
				return nil
			}
			if !yes {
				return fmt.Errorf("refusing to delete %s without --yes", cfg.Cache.Path)
			}
			if err := os.Remove(cfg.Cache.Path); err != nil {
				if os.IsNotExist(err) {
					fmt.Fprintln(cmd.OutOrStdout(), "Cache database does not exist.")
					return nil
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", cfg.Cache.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
