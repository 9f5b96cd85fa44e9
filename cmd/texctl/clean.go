package main

import (
	"fmt"
	"os"
	"time"

	"texengine/executor"
	"texengine/pipeline"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove leftovers of crashed runs",
	Long: `Clean removes working areas that were never torn down, toolchain
containers that were never removed, and optionally every kept page output.

Examples:
  texctl clean
  texctl clean --older-than 10m
  texctl clean --outputs`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

var (
	cleanOlderThan time.Duration
	cleanOutputs   bool
)

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().DurationVar(&cleanOlderThan, "older-than", time.Hour, "Only remove working areas untouched for this long")
	cleanCmd.Flags().BoolVar(&cleanOutputs, "outputs", false, "Also delete all kept page outputs")
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	out := cmd.OutOrStdout()

	removed, err := pipeline.RemoveStaleAreas(cfg.WorkDir, cleanOlderThan)
	if err != nil {
		return fmt.Errorf("remove working areas: %w", err)
	}
	okColor.Fprintf(out, "✓ %d working area(s) removed\n", len(removed))

	if cfg.ToolchainImage != "" {
		runner, err := executor.NewContainerRunner(cfg, newLogger())
		if err != nil {
			return err
		}
		defer runner.Close()
		n, err := runner.RemoveStale(cmd.Context())
		if err != nil {
			return err
		}
		okColor.Fprintf(out, "✓ %d container(s) removed\n", n)
	}

	if cleanOutputs {
		if err := os.RemoveAll(cfg.OutputDir); err != nil {
			return fmt.Errorf("remove page outputs: %w", err)
		}
		okColor.Fprintf(out, "✓ page outputs removed\n")
	}
	return nil
}
