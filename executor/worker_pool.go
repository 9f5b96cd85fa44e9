package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"texengine/model"

	logrus "github.com/sirupsen/logrus"
)

// QueueState is the lifecycle state of the worker pool.
type QueueState string

const (
	StateIdle         QueueState = "idle"
	StateRunning      QueueState = "running"
	StateShuttingDown QueueState = "shutting_down"
	StateStopped      QueueState = "stopped"
)

type job struct {
	req    model.CompileRequest
	result chan model.CompileResult
}

// WorkerPool admits compile requests into a single slot and drains it with
// one dedicated worker, so at most one compilation runs at any time.
// A submission while a compilation runs is rejected with ErrBusy; a submission
// while a request is still waiting replaces it.
type WorkerPool struct {
	compiler Compiler
	logger   *logrus.Logger

	mu      sync.Mutex
	pending *job
	state   QueueState

	wake         chan struct{}
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
}

// NewWorkerPool starts the worker; it runs until Shutdown.
func NewWorkerPool(compiler Compiler, logger *logrus.Logger) *WorkerPool {
	pool := newWorkerPool(compiler, logger)
	pool.start()
	return pool
}

func newWorkerPool(compiler Compiler, logger *logrus.Logger) *WorkerPool {
	return &WorkerPool{
		compiler:     compiler,
		logger:       logger,
		state:        StateIdle,
		wake:         make(chan struct{}, 1),
		shutdownChan: make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (p *WorkerPool) start() {
	go p.worker()
}

// Submit never blocks. The returned channel receives exactly one result.
func (p *WorkerPool) Submit(req model.CompileRequest) (<-chan model.CompileResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateShuttingDown, StateStopped:
		return nil, ErrQueueClosed
	case StateRunning:
		p.logger.WithField("request", req.ID).Debug("Compilation running, rejecting submission")
		return nil, ErrBusy
	}

	j := &job{req: req, result: make(chan model.CompileResult, 1)}
	if p.pending != nil {
		p.logger.WithFields(logrus.Fields{
			"request":  p.pending.req.ID,
			"replaced": req.ID,
		}).Debug("Pending compilation superseded")
		p.pending.result <- dropped(p.pending.req, model.KindSuperseded, "replaced by a newer submission before it started")
	}
	p.pending = j

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return j.result, nil
}

// SubmitAndWait submits and blocks until the result arrives or ctx is done.
// The compilation itself is not interrupted by ctx.
func (p *WorkerPool) SubmitAndWait(ctx context.Context, req model.CompileRequest) (model.CompileResult, error) {
	ch, err := p.Submit(req)
	if err != nil {
		return model.CompileResult{}, err
	}
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return model.CompileResult{}, ctx.Err()
	}
}

// State reports the current lifecycle state.
func (p *WorkerPool) State() QueueState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// worker drains the slot until shutdown
func (p *WorkerPool) worker() {
	defer func() {
		p.mu.Lock()
		p.state = StateStopped
		p.mu.Unlock()
		close(p.done)
	}()
	p.logger.Println("Compile worker started")

	for {
		select {
		case <-p.wake:
			j := p.take()
			if j == nil {
				continue
			}
			res := p.executeJob(j)
			// idle before the caller sees the result, so it can resubmit at once
			p.release()
			j.result <- res
		case <-p.shutdownChan:
			p.logger.Println("Compile worker received shutdown signal")
			return
		}
	}
}

// take claims the pending request and marks the pool running.
func (p *WorkerPool) take() *job {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil || p.state != StateIdle {
		return nil
	}
	j := p.pending
	p.pending = nil
	p.state = StateRunning
	return j
}

func (p *WorkerPool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateRunning {
		p.state = StateIdle
	}
}

// executeJob runs one compilation to completion
func (p *WorkerPool) executeJob(j *job) (res model.CompileResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"request": j.req.ID,
				"panic":   r,
			}).Error("Compilation panicked")
			res = model.CompileResult{
				RequestID:  j.req.ID,
				Kind:       model.KindInternalIOFailure,
				Diagnostic: "internal error while compiling",
				Duration:   time.Since(start),
			}
		}
	}()

	res = p.compiler.Compile(context.Background(), j.req)
	res.RequestID = j.req.ID

	fields := logrus.Fields{
		"request":  j.req.ID,
		"duration": time.Since(start),
		"passes":   res.Passes,
		"pages":    len(res.Pages),
	}
	if res.Success {
		p.logger.WithFields(fields).Info("Compilation completed")
	} else {
		fields["kind"] = res.Kind
		p.logger.WithFields(fields).Warn("Compilation failed")
	}
	return res
}

// Shutdown stops accepting work, drops a request that has not started, waits
// for the running compilation to finish its teardown, and joins the worker.
// It returns an error if the worker has not stopped when ctx is done.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.logger.Println("Shutting down compile worker...")

	p.mu.Lock()
	if p.state != StateStopped {
		p.state = StateShuttingDown
	}
	if p.pending != nil {
		p.pending.result <- dropped(p.pending.req, model.KindQueueClosed, "queue shut down before the compilation started")
		p.pending = nil
	}
	p.mu.Unlock()

	p.shutdownOnce.Do(func() { close(p.shutdownChan) })

	select {
	case <-p.done:
		p.logger.Println("Compile worker shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("compile worker did not stop: %w", ctx.Err())
	}
}

func dropped(req model.CompileRequest, kind model.Kind, msg string) model.CompileResult {
	return model.CompileResult{RequestID: req.ID, Kind: kind, Diagnostic: msg}
}
