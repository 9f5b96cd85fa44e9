//go:build unix

package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"texengine/executor"
	"texengine/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileKillsHungCompiler(t *testing.T) {
	script := filepath.Join(t.TempDir(), "hang.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"($PWD/doc.tex\"\nsleep 10\n"), 0o700))

	cfg := testConfig(t)
	cfg.PrimaryCompiler = script
	cfg.CompileTimeout = 200 * time.Millisecond

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	p := newTestPipeline(t, cfg, executor.NewProcessRunner(cfg, logger))

	start := time.Now()
	res := p.Compile(context.Background(), model.NewCompileRequest("doc", ""))

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, model.KindTimedOut, res.Kind)
	assert.Equal(t, 1, res.Passes)
	assert.NotContains(t, res.Diagnostic, cfg.WorkDir)
	assertWorkAreaRemoved(t, cfg)
}
