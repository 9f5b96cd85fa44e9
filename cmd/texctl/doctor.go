package main

import (
	"errors"
	"fmt"
	"slices"

	"texengine/executor"

	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the compile toolchain is installed",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

var errToolchainIncomplete = errors.New("required toolchain programs are missing")

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	runner, closeRunner, err := executor.NewRunner(cfg, newLogger())
	if err != nil {
		return err
	}
	defer closeRunner()

	tools := executor.NewToolchain(cfg)
	missing := executor.CheckToolchain(cmd.Context(), runner, tools)
	out := cmd.OutOrStdout()

	failed := false
	for _, probe := range tools.VersionProbes() {
		switch {
		case !slices.Contains(missing, probe.Program):
			okColor.Fprint(out, "✓ ")
			fmt.Fprintln(out, probe.Program)
		case tools.Optional(probe.Program):
			warnColor.Fprint(out, "! ")
			fmt.Fprintf(out, "%s not found, citations will stay unresolved\n", probe.Program)
		default:
			failed = true
			errColor.Fprint(out, "✗ ")
			fmt.Fprintf(out, "%s not found\n", probe.Program)
		}
	}

	if cfg.ToolchainImage != "" {
		dimColor.Fprintf(out, "toolchain image: %s\n", cfg.ToolchainImage)
	}
	if cfg.SandboxDisabled {
		warnColor.Fprintf(out, "process group isolation off: %s\n", cfg.SandboxReason)
	}

	if failed {
		return errToolchainIncomplete
	}
	return nil
}
