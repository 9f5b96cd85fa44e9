package executor

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"texengine/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// blockingCompiler records every document it sees and blocks until released.
type blockingCompiler struct {
	mu       sync.Mutex
	seen     []string
	started  chan string
	release  chan struct{}
	panicked bool
}

func newBlockingCompiler() *blockingCompiler {
	return &blockingCompiler{started: make(chan string, 8), release: make(chan struct{})}
}

func (c *blockingCompiler) Compile(ctx context.Context, req model.CompileRequest) model.CompileResult {
	c.mu.Lock()
	c.seen = append(c.seen, req.Document)
	c.mu.Unlock()
	c.started <- req.Document
	<-c.release
	if c.panicked {
		panic("boom")
	}
	return model.CompileResult{Success: true, Pages: []model.Page{{Index: 1, Path: req.Document}}, Passes: 1}
}

func (c *blockingCompiler) documents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

func waitStarted(t *testing.T, c *blockingCompiler) string {
	t.Helper()
	select {
	case doc := <-c.started:
		return doc
	case <-time.After(2 * time.Second):
		t.Fatal("compilation did not start")
		return ""
	}
}

func receive(t *testing.T, ch <-chan model.CompileResult) model.CompileResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
		return model.CompileResult{}
	}
}

func TestSubmitWhileRunningIsBusy(t *testing.T) {
	compiler := newBlockingCompiler()
	pool := NewWorkerPool(compiler, quietLogger())

	a := model.NewCompileRequest("A", "")
	chA, err := pool.Submit(a)
	require.NoError(t, err)
	assert.Equal(t, "A", waitStarted(t, compiler))
	assert.Equal(t, StateRunning, pool.State())

	_, err = pool.Submit(model.NewCompileRequest("B", ""))
	assert.True(t, errors.Is(err, ErrBusy))

	close(compiler.release)
	res := receive(t, chA)
	assert.True(t, res.Success)
	assert.Equal(t, a.ID, res.RequestID)

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, []string{"A"}, compiler.documents())
}

func TestSubmitReplacesPending(t *testing.T) {
	compiler := newBlockingCompiler()
	pool := newWorkerPool(compiler, quietLogger())

	chA, err := pool.Submit(model.NewCompileRequest("A", ""))
	require.NoError(t, err)
	b := model.NewCompileRequest("B", "")
	chB, err := pool.Submit(b)
	require.NoError(t, err)

	resA := receive(t, chA)
	assert.False(t, resA.Success)
	assert.Equal(t, model.KindSuperseded, resA.Kind)

	pool.start()
	assert.Equal(t, "B", waitStarted(t, compiler))
	close(compiler.release)

	resB := receive(t, chB)
	assert.True(t, resB.Success)
	assert.Equal(t, b.ID, resB.RequestID)

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, []string{"B"}, compiler.documents())
}

func TestAcceptsAgainAfterRunCompletes(t *testing.T) {
	compiler := newBlockingCompiler()
	close(compiler.release)
	pool := NewWorkerPool(compiler, quietLogger())
	defer pool.Shutdown(context.Background())

	for _, doc := range []string{"one", "two", "three"} {
		res, err := pool.SubmitAndWait(context.Background(), model.NewCompileRequest(doc, ""))
		require.NoError(t, err)
		assert.True(t, res.Success)
		waitStarted(t, compiler)
		assert.Equal(t, StateIdle, pool.State())
	}
	assert.Equal(t, []string{"one", "two", "three"}, compiler.documents())
}

type instantCompiler struct{}

func (instantCompiler) Compile(ctx context.Context, req model.CompileRequest) model.CompileResult {
	return model.CompileResult{Success: true, Passes: 1}
}

func TestResubmitRightAfterResultIsAccepted(t *testing.T) {
	pool := NewWorkerPool(instantCompiler{}, quietLogger())
	defer pool.Shutdown(context.Background())

	ch, err := pool.Submit(model.NewCompileRequest("doc", ""))
	require.NoError(t, err)
	for i := 0; i < 2000; i++ {
		<-ch
		ch, err = pool.Submit(model.NewCompileRequest("doc", ""))
		require.NoError(t, err, "submission %d right after a delivered result", i)
	}
	assert.True(t, receive(t, ch).Success)
}

func TestShutdownWaitsForRunningCompilation(t *testing.T) {
	compiler := newBlockingCompiler()
	pool := NewWorkerPool(compiler, quietLogger())

	ch, err := pool.Submit(model.NewCompileRequest("A", ""))
	require.NoError(t, err)
	waitStarted(t, compiler)

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- pool.Shutdown(context.Background()) }()

	assert.Eventually(t, func() bool { return pool.State() == StateShuttingDown }, time.Second, 5*time.Millisecond)
	_, err = pool.Submit(model.NewCompileRequest("B", ""))
	assert.True(t, errors.Is(err, ErrQueueClosed))

	select {
	case <-shutdownErr:
		t.Fatal("shutdown returned while a compilation was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(compiler.release)
	assert.True(t, receive(t, ch).Success)
	require.NoError(t, <-shutdownErr)
	assert.Equal(t, StateStopped, pool.State())
}

func TestShutdownReportsStuckWorker(t *testing.T) {
	compiler := newBlockingCompiler()
	pool := NewWorkerPool(compiler, quietLogger())

	_, err := pool.Submit(model.NewCompileRequest("A", ""))
	require.NoError(t, err)
	waitStarted(t, compiler)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = pool.Shutdown(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(compiler.release)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestShutdownDropsPendingRequest(t *testing.T) {
	compiler := newBlockingCompiler()
	pool := newWorkerPool(compiler, quietLogger())

	ch, err := pool.Submit(model.NewCompileRequest("A", ""))
	require.NoError(t, err)

	pool.start()
	// the worker may or may not have claimed A yet
	go func() {
		select {
		case <-compiler.started:
			close(compiler.release)
		case <-time.After(time.Second):
		}
	}()
	require.NoError(t, pool.Shutdown(context.Background()))

	res := receive(t, ch)
	if !res.Success {
		assert.Equal(t, model.KindQueueClosed, res.Kind)
	}
}

func TestCompilerPanicIsReported(t *testing.T) {
	compiler := newBlockingCompiler()
	compiler.panicked = true
	close(compiler.release)
	pool := NewWorkerPool(compiler, quietLogger())
	defer pool.Shutdown(context.Background())

	res, err := pool.SubmitAndWait(context.Background(), model.NewCompileRequest("A", ""))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, model.KindInternalIOFailure, res.Kind)
	assert.Equal(t, StateIdle, pool.State())
}
