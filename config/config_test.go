package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("MAXINPUTBYTES", "2048")
	t.Setenv("COMPILETIMEOUT", "5s")
	t.Setenv("POLLINTERVAL", "25")
	t.Setenv("MAXPASSES", "2")
	t.Setenv("RASTERFORMAT", "PNG")

	cfg := LoadConfig()

	assert.Equal(t, 2048, cfg.MaxInputBytes)
	assert.Equal(t, 5*time.Second, cfg.CompileTimeout)
	assert.Equal(t, 25*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2, cfg.MaxPasses)
	assert.Equal(t, "png", cfg.RasterFormat)
	assert.Equal(t, "pdflatex", cfg.PrimaryCompiler)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigIgnoresMalformedValues(t *testing.T) {
	t.Setenv("MAXPASSES", "many")
	t.Setenv("COMPILETIMEOUT", "soon")

	cfg := LoadConfig()

	assert.Equal(t, 3, cfg.MaxPasses)
	assert.Equal(t, 30*time.Second, cfg.CompileTimeout)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"zero passes":     func(c *Config) { c.MaxPasses = 0 },
		"zero poll":       func(c *Config) { c.PollInterval = 0 },
		"negative input":  func(c *Config) { c.MaxInputBytes = -1 },
		"bad format":      func(c *Config) { c.RasterFormat = "jpeg" },
		"missing tool":    func(c *Config) { c.RasterTool = "" },
		"zero bib budget": func(c *Config) { c.BibTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}

	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestDetectSandbox(t *testing.T) {
	noFiles := func(string) ([]byte, error) { return nil, os.ErrNotExist }
	none := func(string) bool { return false }
	env := func(vals map[string]string) func(string) (string, bool) {
		return func(k string) (string, bool) {
			v, ok := vals[k]
			return v, ok
		}
	}

	t.Run("clean host", func(t *testing.T) {
		s := Probe{LookupEnv: env(nil), ReadFile: noFiles, Exists: none}.Detect()
		assert.False(t, s.Disabled)
		assert.Empty(t, s.Reason)
	})

	t.Run("wsl interop", func(t *testing.T) {
		s := Probe{LookupEnv: env(map[string]string{"WSL_INTEROP": "/run/x"}), ReadFile: noFiles, Exists: none}.Detect()
		assert.True(t, s.Disabled)
		assert.Contains(t, s.Reason, "WSL")
	})

	t.Run("docker marker", func(t *testing.T) {
		exists := func(p string) bool { return p == "/.dockerenv" }
		s := Probe{LookupEnv: env(nil), ReadFile: noFiles, Exists: exists}.Detect()
		assert.True(t, s.Disabled)
	})

	t.Run("explicit opt-out ignores false", func(t *testing.T) {
		s := Probe{LookupEnv: env(map[string]string{DisableSandboxEnv: "false"}), ReadFile: noFiles, Exists: none}.Detect()
		assert.False(t, s.Disabled)
	})

	t.Run("proc version", func(t *testing.T) {
		read := func(p string) ([]byte, error) {
			if p == "/proc/version" {
				return []byte("Linux version 5.15.0-microsoft-standard-WSL2"), nil
			}
			return nil, os.ErrNotExist
		}
		s := Probe{LookupEnv: env(nil), ReadFile: read, Exists: none}.Detect()
		assert.True(t, s.Disabled)
	})

	t.Run("userns restricted", func(t *testing.T) {
		read := func(p string) ([]byte, error) {
			if p == "/proc/sys/kernel/apparmor_restrict_unprivileged_userns" {
				return []byte("1\n"), nil
			}
			return nil, os.ErrNotExist
		}
		s := Probe{LookupEnv: env(nil), ReadFile: read, Exists: none}.Detect()
		assert.True(t, s.Disabled)
	})

	t.Run("with sandbox copies result", func(t *testing.T) {
		cfg := Defaults().WithSandbox(Sandbox{Disabled: true, Reason: "test"})
		assert.True(t, cfg.SandboxDisabled)
		assert.Equal(t, "test", cfg.SandboxReason)
	})
}
