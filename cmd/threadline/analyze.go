package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/storylab/threadline/llm"
	"github.com/storylab/threadline/pipeline"
	"github.com/storylab/threadline/script"
)

func analyzeCmd(flags *rootFlags) *cobra.Command {
	var (
		provider   string
		model      string
		noCache    bool
		outputPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <script.json>",
		Short: "Run the three-stage conflict analysis over a scene breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger(flags.logLevel)

			cfg, err := loadConfig(flags.configPath)
			if err != nil {
				return err
			}
			if provider != "" {
				cfg.Model.Provider = provider
			}
			if model != "" {
				cfg.Model.Name = model
			}
			if noCache {
				cfg.Cache.Enabled = false
			}

			s, err := readScript(args[0])
			if err != nil {
				return err
			}

			rc, err := openResultCache(cfg, logger)
			if err != nil {
				return err
			}
			if rc != nil {
				defer rc.Close()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := []pipeline.Option{pipeline.WithLogger(logger)}
			if rc != nil {
				opts = append(opts, pipeline.WithResultCache(rc))
			}
			ctrl := pipeline.New(llm.NewClient(llm.WithLogger(logger)), cfg, opts...)

			result, err := ctrl.Run(ctx, s)
			if err != nil {
				return err
			}

			if outputPath != "" {
				if err := writeResult(outputPath, result); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Full result written to %s\n", outputPath)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			renderResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Generation provider override (deepseek, anthropic, openai)")
	cmd.Flags().StringVar(&model, "model", "", "Model name override")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the result cache for this run")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the full result JSON to a file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON instead of tables")

	return cmd
}

func readScript(path string) (*script.Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s script.Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("script %s: %w", path, err)
	}
	return &s, nil
}

func writeResult(path string, result *pipeline.RunResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func renderResult(cmd *cobra.Command, result *pipeline.RunResult) {
	out := cmd.OutOrStdout()

	if result.FromCache {
		fmt.Fprintln(out, "Result served from cache.")
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "Discovered %d conflict thread(s)\n", len(result.Discover.Threads))
	if result.Discover.Metadata.FallbackMode {
		fmt.Fprintf(out, "Note: discovery ran in fallback mode: %s\n", result.Discover.Metadata.FallbackReason)
	}
	fmt.Fprintln(out)

	rows := [][]string{}
	r := result.Audit.Rankings
	rows = append(rows, []string{"A", r.ALine.ThreadID, truncate(r.ALine.SuperObjective, 60), fmt.Sprintf("%.1f", r.ALine.SpineScore)})
	for _, b := range r.BLines {
		rows = append(rows, []string{"B", b.ThreadID, truncate(b.SuperObjective, 60), fmt.Sprintf("%.1f", b.HeartScore)})
	}
	for _, c := range r.CLines {
		rows = append(rows, []string{"C", c.ThreadID, truncate(c.SuperObjective, 60), fmt.Sprintf("%.1f", c.FlavorScore)})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Tier", "Thread", "Super-objective", "Score"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
	))
	fmt.Fprintln(out)

	if result.Modify == nil {
		fmt.Fprintln(out, "Modify stage did not complete; script repairs unavailable.")
	} else {
		v := result.Modify.Validation
		fmt.Fprintf(out, "Repairs: %d issue(s), %d fixed, %d skipped, %d new issue(s) introduced\n",
			v.TotalIssues, v.Fixed, v.Skipped, v.NewIssuesIntroduced)
		for _, m := range result.Modify.ModificationLog {
			status := "skipped"
			if m.Applied {
				status = "applied"
			}
			fmt.Fprintf(out, "  [%s] %s %s %s: %s\n", status, m.IssueID, m.SceneID, m.Field, m.Reason)
		}
	}

	if len(result.Diagnostics) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Diagnostics:")
		for _, d := range result.Diagnostics {
			fmt.Fprintf(out, "  - %s\n", d)
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
