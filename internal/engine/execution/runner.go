package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	enginectx "github.com/davidroman0O/studioflow/internal/engine/context"
	"github.com/davidroman0O/studioflow/internal/engine/registry"
	"github.com/davidroman0O/studioflow/internal/metrics"
	"github.com/davidroman0O/studioflow/internal/persistence/repository"
	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/davidroman0O/studioflow/pkg/logs"
	"github.com/sethvargo/go-retry"
)

// Task is what the pool hands to a worker.
type Task struct {
	ExecutionID types.ExecutionID
}

// Runner drives executions to a terminal state.
type Runner struct {
	repo       repository.Repository
	registry   *registry.Registry
	logger     logs.Logger
	metrics    *metrics.Metrics
	onTerminal func(types.Execution)
}

type RunnerOption func(*Runner)

func WithRunnerLogger(logger logs.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithRunnerMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithOnTerminal is called after an execution's terminal state is persisted.
func WithOnTerminal(fn func(types.Execution)) RunnerOption {
	return func(r *Runner) {
		r.onTerminal = fn
	}
}

func NewRunner(repo repository.Repository, reg *registry.Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		repo:     repo,
		registry: reg,
		logger:   logs.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs the execution until it succeeds, fails or ctx is cancelled.
// A cancelled execution keeps its persisted state so it can be resumed.
func (r *Runner) Execute(ctx context.Context, id types.ExecutionID) (types.Execution, error) {
	exec, err := r.repo.Executions().Get(ctx, id)
	if err != nil {
		return types.Execution{}, err
	}
	if exec.Status.Terminal() && (exec.Status == types.ExecutionStatusSucceeded || exec.Compensated) {
		return exec, nil
	}

	def, err := r.registry.Lookup(exec.Trigger.Event)
	if err != nil {
		return exec, err
	}

	wi := newInstance(r, def, exec)
	if err := wi.start(ctx); err != nil {
		return wi.exec, err
	}
	return wi.exec, wi.interrupted
}

// backoff follows the policy: InitialInterval, multiplied by
// BackoffCoefficient after every retry, capped at MaxInterval, and at most
// retries retries.
func backoff(policy types.RetryPolicy, retries int) retry.Backoff {
	coefficient := policy.BackoffCoefficient
	if coefficient < 1 {
		coefficient = 1
	}
	n := 0
	var b retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		next := time.Duration(float64(policy.InitialInterval) * math.Pow(coefficient, float64(n)))
		n++
		if next < 0 {
			next = 0
		}
		return next, false
	})
	if policy.MaxInterval > 0 {
		b = retry.WithCappedDuration(policy.MaxInterval, b)
	}
	if retries < 0 {
		retries = 0
	}
	return retry.WithMaxRetries(uint64(retries), b)
}

func (r *Runner) runAttempt(ctx context.Context, def *registry.Definition, exec types.Execution, number int) (err error) {
	attempt, err := r.repo.Executions().CreateAttempt(ctx, types.Attempt{
		ExecutionID: exec.ID,
		Number:      number,
		Status:      types.AttemptStatusRunning,
	})
	if err != nil {
		return err
	}

	logger := r.logger.WithFields(map[string]interface{}{
		"execution_id": exec.ID,
		"workflow":     def.Name,
		"attempt":      number,
	})

	steps := enginectx.NewStepExecutor(enginectx.StepExecutorConfig{
		Checkpoints: r.repo.Checkpoints(),
		Observer:    r.metrics,
		Logger:      logger,
		ExecutionID: exec.ID,
		Workflow:    def.Name,
		Attempt:     number,
		Steps:       def.Steps,
	})
	wctx := enginectx.NewWorkflowContext(ctx, exec.ID, def.Name, exec.Trigger, steps, logger)

	logger.Info(ctx, "attempt started")
	err = safeHandler(def.Handler, wctx)

	status := types.AttemptStatusCompleted
	msg := ""
	if err != nil {
		status = types.AttemptStatusFailed
		msg = err.Error()
		logger.Warn(ctx, "attempt failed", "error", err, "permanent", types.IsPermanent(err))
	} else {
		logger.Info(ctx, "attempt completed")
	}
	r.metrics.Attempt(def.Name, err)

	if ferr := r.repo.Executions().FinishAttempt(ctx, attempt.ID, status, msg); ferr != nil {
		logger.Error(ctx, ferr.Error())
	}
	return err
}

func safeHandler(h registry.Handler, wctx enginectx.WorkflowContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("workflow panicked: %v", rec)
		}
	}()
	return h(wctx)
}

func safeCompensate(ctx context.Context, c registry.Compensation, trigger types.Trigger, cause error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("compensation panicked: %v", rec)
		}
	}()
	return c(ctx, trigger, cause)
}

// interrupted reports whether err comes from the runner's own context.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
