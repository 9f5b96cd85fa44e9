package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"texengine/model"

	"github.com/spf13/cobra"
)

var compileCmd = &cobra.Command{
	Use:   "compile FILE",
	Short: "Compile a document once and print the page locations",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompile,
}

var errCompileFailed = errors.New("compilation failed")

func init() {
	rootCmd.AddCommand(compileCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}

	eng, err := newEngine(cfg, newLogger())
	if err != nil {
		return err
	}
	defer eng.close()
	defer eng.pool.Shutdown(context.Background())

	source, _ := filepath.Abs(filepath.Dir(args[0]))
	res, err := eng.pool.SubmitAndWait(cmd.Context(), model.NewCompileRequest(doc, source))
	if err != nil {
		return err
	}

	printResult(cmd.OutOrStdout(), res)
	if !res.Success {
		return errCompileFailed
	}
	return nil
}

func printResult(w io.Writer, res model.CompileResult) {
	if res.Success {
		okColor.Fprintf(w, "✓ %d page(s)", len(res.Pages))
		dimColor.Fprintf(w, "  %d pass(es), %s\n", res.Passes, res.Duration.Round(time.Millisecond))
		for _, page := range res.Pages {
			fmt.Fprintf(w, "  %3d  %s\n", page.Index, page.Path)
		}
	} else {
		errColor.Fprintf(w, "✗ %s", res.Kind)
		dimColor.Fprintf(w, "  %d pass(es), %s\n", res.Passes, res.Duration.Round(time.Millisecond))
		if res.Diagnostic != "" {
			fmt.Fprintln(w, res.Diagnostic)
		}
	}
	for _, adv := range res.Advisories {
		warnColor.Fprintf(w, "! %s\n", adv.Kind)
		if adv.Message != "" {
			fmt.Fprintln(w, adv.Message)
		}
	}
}
