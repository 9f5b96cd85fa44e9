package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Compilation limits
	MaxInputBytes       int
	CompileTimeout      time.Duration
	BibTimeout          time.Duration
	RasterTimeout       time.Duration
	MaxPasses           int
	PollInterval        time.Duration
	DiagnosticTailBytes int

	// Toolchain
	PrimaryCompiler string
	BibTool         string
	RasterTool      string
	RasterFormat    string
	RasterDPI       int

	// Filesystem
	WorkDir   string
	OutputDir string
	KeepRuns  int

	// Container toolchain, empty image means host processes
	ToolchainImage    string
	ContainerMemoryMB int

	// Set once by DetectSandbox at startup, read-only afterwards
	SandboxDisabled bool
	SandboxReason   string

	NatsURL     string
	Environment string
	LogLevel    string

	BetterStackUploadURL   string
	BetterStackSourceToken string
}

// Defaults returns the configuration used when no environment overrides are present.
func Defaults() Config {
	tmp := os.TempDir()
	return Config{
		MaxInputBytes:       10 * 1024 * 1024,
		CompileTimeout:      30 * time.Second,
		BibTimeout:          30 * time.Second,
		RasterTimeout:       30 * time.Second,
		MaxPasses:           3,
		PollInterval:        100 * time.Millisecond,
		DiagnosticTailBytes: 16 * 1024,

		PrimaryCompiler: "pdflatex",
		BibTool:         "biber",
		RasterTool:      "pdftocairo",
		RasterFormat:    "svg",
		RasterDPI:       96,

		WorkDir:   tmp,
		OutputDir: filepath.Join(tmp, "texengine-pages"),
		KeepRuns:  4,

		ContainerMemoryMB: 512,

		NatsURL:     "nats://localhost:4222",
		Environment: "production",
		LogLevel:    "info",
	}
}

func LoadConfig() Config {
	err := godotenv.Load(".env")
	if err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	d := Defaults()
	return Config{
		MaxInputBytes:       getEnvInt("MAXINPUTBYTES", d.MaxInputBytes),
		CompileTimeout:      getEnvDuration("COMPILETIMEOUT", d.CompileTimeout),
		BibTimeout:          getEnvDuration("BIBTIMEOUT", d.BibTimeout),
		RasterTimeout:       getEnvDuration("RASTERTIMEOUT", d.RasterTimeout),
		MaxPasses:           getEnvInt("MAXPASSES", d.MaxPasses),
		PollInterval:        getEnvDuration("POLLINTERVAL", d.PollInterval),
		DiagnosticTailBytes: getEnvInt("DIAGNOSTICTAILBYTES", d.DiagnosticTailBytes),

		PrimaryCompiler: getEnv("PRIMARYCOMPILER", d.PrimaryCompiler),
		BibTool:         getEnv("BIBTOOL", d.BibTool),
		RasterTool:      getEnv("RASTERTOOL", d.RasterTool),
		RasterFormat:    strings.ToLower(getEnv("RASTERFORMAT", d.RasterFormat)),
		RasterDPI:       getEnvInt("RASTERDPI", d.RasterDPI),

		WorkDir:   getEnv("WORKDIR", d.WorkDir),
		OutputDir: getEnv("OUTPUTDIR", d.OutputDir),
		KeepRuns:  getEnvInt("KEEPRUNS", d.KeepRuns),

		ToolchainImage:    getEnv("TOOLCHAINIMAGE", ""),
		ContainerMemoryMB: getEnvInt("CONTAINERMEMORYMB", d.ContainerMemoryMB),

		NatsURL:     getEnv("NATSURL", d.NatsURL),
		Environment: getEnv("ENVIRONMENT", d.Environment),
		LogLevel:    getEnv("LOGLEVEL", d.LogLevel),

		BetterStackUploadURL:   getEnv("BETTERSTACKUPLOADURL", ""),
		BetterStackSourceToken: getEnv("BETTERSTACKSOURCETOKEN", ""),
	}
}

var ErrInvalidConfig = errors.New("invalid configuration")

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.MaxInputBytes <= 0:
		return fmt.Errorf("%w: max input bytes must be positive", ErrInvalidConfig)
	case c.MaxPasses < 1:
		return fmt.Errorf("%w: max passes must be at least 1", ErrInvalidConfig)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.CompileTimeout <= 0 || c.BibTimeout <= 0 || c.RasterTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	case c.RasterFormat != "svg" && c.RasterFormat != "png":
		return fmt.Errorf("%w: raster format %q is not svg or png", ErrInvalidConfig, c.RasterFormat)
	case c.PrimaryCompiler == "" || c.RasterTool == "":
		return fmt.Errorf("%w: primary compiler and raster tool are required", ErrInvalidConfig)
	}
	return nil
}

// WithSandbox returns a copy of c carrying the capability probe result.
func (c Config) WithSandbox(s Sandbox) Config {
	c.SandboxDisabled = s.Disabled
	c.SandboxReason = s.Reason
	return c
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("30s") or a bare number of milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
