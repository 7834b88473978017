package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidroman0O/retrypool"
	"github.com/davidroman0O/studioflow/internal/engine/execution"
	"github.com/davidroman0O/studioflow/internal/engine/registry"
	"github.com/davidroman0O/studioflow/internal/idempotency"
	"github.com/davidroman0O/studioflow/internal/metrics"
	"github.com/davidroman0O/studioflow/internal/persistence/repository"
	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/davidroman0O/studioflow/pkg/logs"
	"github.com/sasha-s/go-deadlock"
)

var (
	ErrDuplicateTrigger = errors.New("trigger already dispatched")
	ErrEngineClosed     = errors.New("engine is shut down")
)

const DefaultWorkers = 4

type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc
	mu     deadlock.Mutex

	registry *registry.Registry
	db       repository.Repository
	guard    idempotency.Guard
	logger   logs.Logger
	metrics  *metrics.Metrics

	runner  *execution.Runner
	pool    *execution.WorkerPool[execution.Task]
	workers int

	waiters map[types.ExecutionID][]chan types.Execution
	closed  bool
}

type Option func(*Engine)

func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

func WithGuard(g idempotency.Guard) Option {
	return func(e *Engine) {
		e.guard = g
	}
}

func WithLogger(logger logs.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func New(
	ctx context.Context,
	builder registry.RegistryBuildFn,
	db repository.Repository,
	opts ...Option,
) (*Engine, error) {
	var err error
	e := &Engine{
		db:      db,
		workers: DefaultWorkers,
		logger:  logs.Discard(),
		waiters: make(map[types.ExecutionID][]chan types.Execution),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = 1
	}

	e.logger.Debug(ctx, "Creating registry")
	if e.registry, err = builder(); err != nil {
		e.logger.Error(ctx, "Error creating registry", "error", err)
		return nil, err
	}

	if e.guard == nil {
		if e.guard, err = idempotency.NewMemoryGuard(); err != nil {
			return nil, err
		}
	}

	e.ctx, e.cancel = context.WithCancel(ctx)

	e.runner = execution.NewRunner(
		db,
		e.registry,
		execution.WithRunnerLogger(e.logger),
		execution.WithRunnerMetrics(e.metrics),
		execution.WithOnTerminal(e.deliver),
	)

	e.pool = execution.NewWorkerPool(e.ctx, func(ctx context.Context) retrypool.Worker[execution.Task] {
		return &worker{runner: e.runner, logger: e.logger}
	})
	for i := 0; i < e.workers; i++ {
		e.pool.AddWorker()
	}

	e.logger.Debug(ctx, "Engine created", "workers", e.workers)
	return e, nil
}

func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Dispatch persists an execution for the trigger and queues it. A trigger
// is only ever dispatched once. When queueing fails the execution is stored
// as failed and compensated, the caller owns the cleanup.
func (e *Engine) Dispatch(ctx context.Context, trigger types.Trigger) (types.ExecutionID, error) {
	if e.isClosed() {
		return types.NoExecutionID, ErrEngineClosed
	}

	def, err := e.registry.Lookup(trigger.Event)
	if err != nil {
		return types.NoExecutionID, err
	}

	if err := e.guard.Claim(ctx, string(trigger.ID)); err != nil {
		if errors.Is(err, idempotency.ErrAlreadyClaimed) {
			return types.NoExecutionID, fmt.Errorf("%w: %s", ErrDuplicateTrigger, trigger.ID)
		}
		return types.NoExecutionID, err
	}

	exec, err := e.db.Executions().Create(ctx, types.Execution{
		Workflow: def.Name,
		Trigger:  trigger,
		Status:   types.ExecutionStatusPending,
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return types.NoExecutionID, fmt.Errorf("%w: %s", ErrDuplicateTrigger, trigger.ID)
		}
		if rerr := e.guard.Release(ctx, string(trigger.ID)); rerr != nil {
			e.logger.Warn(ctx, "Error releasing trigger claim", "trigger_id", trigger.ID, "error", rerr)
		}
		return types.NoExecutionID, err
	}

	e.logger.Info(ctx, "Execution dispatched", "execution_id", exec.ID, "workflow", def.Name, "trigger_id", trigger.ID)
	if err := e.pool.Submit(execution.Task{ExecutionID: exec.ID}); err != nil {
		e.logger.Error(ctx, "Error submitting execution", "execution_id", exec.ID, "error", err)
		// the caller cleans up after a trigger that never ran, Resume must not
		exec.Status = types.ExecutionStatusFailed
		exec.Error = err.Error()
		exec.Compensated = true
		if uerr := e.db.Executions().Update(ctx, exec); uerr != nil {
			e.logger.Error(ctx, "Error closing unsubmitted execution", "execution_id", exec.ID, "error", uerr)
			return types.NoExecutionID, errors.Join(err, uerr)
		}
		return types.NoExecutionID, err
	}
	return exec.ID, nil
}

// Resume queues every execution left unfinished by a previous process.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	unfinished, err := e.db.Executions().ListUnfinished(ctx)
	if err != nil {
		return 0, err
	}
	for _, exec := range unfinished {
		e.logger.Info(ctx, "Resuming execution", "execution_id", exec.ID, "workflow", exec.Workflow, "status", exec.Status, "attempt", exec.Attempt)
		if err := e.pool.Submit(execution.Task{ExecutionID: exec.ID}); err != nil {
			return 0, err
		}
	}
	return len(unfinished), nil
}

// Await blocks until the execution reaches a terminal state, or ctx is done.
func (e *Engine) Await(ctx context.Context, id types.ExecutionID) (types.Execution, error) {
	e.mu.Lock()
	exec, err := e.db.Executions().Get(ctx, id)
	if err != nil {
		e.mu.Unlock()
		return types.Execution{}, err
	}
	if done(exec) {
		e.mu.Unlock()
		return exec, nil
	}
	ch := make(chan types.Execution, 1)
	e.waiters[id] = append(e.waiters[id], ch)
	e.mu.Unlock()

	select {
	case exec := <-ch:
		return exec, nil
	case <-ctx.Done():
		return types.Execution{}, ctx.Err()
	}
}

func done(exec types.Execution) bool {
	return exec.Status == types.ExecutionStatusSucceeded ||
		(exec.Status == types.ExecutionStatusFailed && exec.Compensated)
}

func (e *Engine) deliver(exec types.Execution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.waiters[exec.ID] {
		ch <- exec
	}
	delete(e.waiters, exec.ID)
}

// Wait blocks until no execution is queued or running.
func (e *Engine) Wait() error {
	return e.pool.Wait()
}

// Scale grows or shrinks the worker pool to n workers.
func (e *Engine) Scale(n int) error {
	if n < 1 {
		return fmt.Errorf("engine needs at least one worker, got %d", n)
	}
	for e.pool.AvailableWorkers() < n {
		e.pool.AddWorker()
	}
	for e.pool.AvailableWorkers() > n {
		if err := e.pool.RemoveWorker(); err != nil {
			return err
		}
	}
	e.logger.Debug(e.ctx, "Engine scaled", "workers", n)
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Shutdown stops the workers. Executions still in flight stay persisted as
// running and are picked up by the next Resume.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.logger.Debug(e.ctx, "Shutting down engine")
	e.cancel()
	err := e.pool.Shutdown()
	if err != nil && errors.Is(err, context.Canceled) {
		err = nil
	}
	e.logger.Debug(context.Background(), "Engine shutdown complete")
	return err
}

type worker struct {
	runner *execution.Runner
	logger logs.Logger
}

func (w *worker) Run(ctx context.Context, task execution.Task) error {
	exec, err := w.runner.Execute(ctx, task.ExecutionID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			w.logger.Debug(ctx, "Execution interrupted", "execution_id", task.ExecutionID)
			return nil
		}
		w.logger.Error(ctx, "Error executing workflow", "execution_id", task.ExecutionID, "error", err)
		return nil
	}
	w.logger.Debug(ctx, "Execution finished", "execution_id", exec.ID, "status", exec.Status)
	return nil
}
