package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"texengine/config"
	"texengine/executor"
	"texengine/pipeline"

	"github.com/fatih/color"
	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	formatFlag  string
	outDirFlag  string
	timeoutFlag time.Duration
	passesFlag  int
	verbose     bool
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

var rootCmd = &cobra.Command{
	Use:   "texctl",
	Short: "Compile LaTeX documents to page images",
	Long: `texctl drives the same compile pipeline as the render service from the
command line: one compilation at a time, a fresh working area per run,
and sanitized diagnostics.

Examples:
  texctl compile paper.tex
  texctl compile paper.tex --format png --out ./pages
  texctl watch paper.tex
  texctl doctor`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "", "Page format: svg or png (default from RASTERFORMAT)")
	rootCmd.PersistentFlags().StringVar(&outDirFlag, "out", "", "Directory rendered pages are kept in (default from OUTPUTDIR)")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 0, "Per-process timeout (default from COMPILETIMEOUT)")
	rootCmd.PersistentFlags().IntVar(&passesFlag, "passes", 0, "Maximum primary compiler passes (default from MAXPASSES)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every tool invocation")
}

// loadConfig reads the environment, applies flag overrides and probes the
// sandbox once.
func loadConfig() *config.Config {
	cfg := config.LoadConfig()
	if formatFlag != "" {
		cfg.RasterFormat = strings.ToLower(formatFlag)
	}
	if outDirFlag != "" {
		cfg.OutputDir = outDirFlag
	}
	if timeoutFlag > 0 {
		cfg.CompileTimeout = timeoutFlag
	}
	if passesFlag > 0 {
		cfg.MaxPasses = passesFlag
	}
	cfg = cfg.WithSandbox(config.DetectSandbox())
	return &cfg
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	if verbose {
		l.SetOutput(os.Stderr)
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// engine is a pipeline behind its worker, the same arrangement the service uses.
type engine struct {
	pool  *executor.WorkerPool
	close func() error
}

func newEngine(cfg *config.Config, log *logrus.Logger) (*engine, error) {
	runner, closeRunner, err := executor.NewRunner(cfg, log)
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(cfg, runner, log)
	if err != nil {
		closeRunner()
		return nil, err
	}
	return &engine{pool: executor.NewWorkerPool(p, log), close: closeRunner}, nil
}

func readDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
