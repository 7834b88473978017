package execution

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	enginectx "github.com/davidroman0O/studioflow/internal/engine/context"
	"github.com/davidroman0O/studioflow/internal/engine/registry"
	"github.com/davidroman0O/studioflow/internal/persistence/repository"
	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo     repository.Repository
	runner   *Runner
	terminal []types.Execution
}

func newFixture(t *testing.T, def *registry.Definition) *fixture {
	t.Helper()
	repo, err := repository.NewMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	reg, err := registry.NewBuilder().Workflow(def).Build()()
	require.NoError(t, err)

	f := &fixture{repo: repo}
	f.runner = NewRunner(repo, reg, WithOnTerminal(func(e types.Execution) {
		f.terminal = append(f.terminal, e)
	}))
	return f
}

func (f *fixture) create(t *testing.T, event types.EventName) types.Execution {
	t.Helper()
	trigger, err := types.NewTrigger(event, map[string]string{"id": "x"})
	require.NoError(t, err)
	exec, err := f.repo.Executions().Create(context.Background(), types.Execution{Workflow: "test", Trigger: trigger})
	require.NoError(t, err)
	return exec
}

func fastConfig(attempts int) types.WorkflowConfig {
	return types.NewWorkflowConfig(
		types.WithWorkflowRetryMaximumAttempts(attempts),
		types.WithWorkflowRetryInitialInterval(time.Millisecond),
		types.WithWorkflowRetryMaximumInterval(5*time.Millisecond),
	)
}

func TestRetryRerunsEveryStep(t *testing.T) {
	var first, second, compensations atomic.Int32

	def := &registry.Definition{
		Name:   "test",
		Event:  types.EventAvatarGenerate,
		Steps:  []string{"first", "second"},
		Config: fastConfig(3),
		Handler: func(wctx enginectx.WorkflowContext) error {
			if _, err := enginectx.Step(wctx, "first", func(ctx types.StepContext) (int, error) {
				return int(first.Add(1)), nil
			}); err != nil {
				return err
			}
			_, err := enginectx.Step(wctx, "second", func(ctx types.StepContext) (int, error) {
				if second.Add(1) < 3 {
					return 0, errors.New("provider timeout")
				}
				return 1, nil
			})
			return err
		},
		Compensate: func(ctx context.Context, trigger types.Trigger, cause error) error {
			compensations.Add(1)
			return nil
		},
	}

	f := newFixture(t, def)
	exec := f.create(t, types.EventAvatarGenerate)

	got, err := f.runner.Execute(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusSucceeded, got.Status)
	assert.Equal(t, 3, got.Attempt)
	assert.EqualValues(t, 3, first.Load())
	assert.EqualValues(t, 3, second.Load())
	assert.Zero(t, compensations.Load())

	attempts, err := f.repo.Executions().Attempts(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	assert.Equal(t, types.AttemptStatusFailed, attempts[0].Status)
	assert.Equal(t, types.AttemptStatusFailed, attempts[1].Status)
	assert.Equal(t, types.AttemptStatusCompleted, attempts[2].Status)

	require.Len(t, f.terminal, 1)
	assert.Equal(t, types.ExecutionStatusSucceeded, f.terminal[0].Status)
}

func TestCompensationRunsOnceAfterBudget(t *testing.T) {
	var runs, compensations atomic.Int32
	var cause error

	def := &registry.Definition{
		Name:   "test",
		Event:  types.EventVideoTransfer,
		Steps:  []string{"only"},
		Config: fastConfig(2),
		Handler: func(wctx enginectx.WorkflowContext) error {
			_, err := enginectx.Step(wctx, "only", func(ctx types.StepContext) (int, error) {
				runs.Add(1)
				return 0, errors.New("provider down")
			})
			return err
		},
		Compensate: func(ctx context.Context, trigger types.Trigger, err error) error {
			compensations.Add(1)
			cause = err
			return nil
		},
	}

	f := newFixture(t, def)
	exec := f.create(t, types.EventVideoTransfer)

	got, err := f.runner.Execute(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusFailed, got.Status)
	assert.True(t, got.Compensated)
	assert.EqualValues(t, 2, runs.Load())
	assert.EqualValues(t, 1, compensations.Load())
	require.Error(t, cause)
	assert.Contains(t, cause.Error(), "provider down")

	stored, err := f.repo.Executions().Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "provider down", stored.Error)

	// running it again is a no-op
	_, err = f.runner.Execute(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, compensations.Load())
	assert.EqualValues(t, 2, runs.Load())
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	var runs atomic.Int32

	def := &registry.Definition{
		Name:   "test",
		Event:  types.EventVideoGenerate,
		Steps:  []string{"decode"},
		Config: fastConfig(3),
		Handler: func(wctx enginectx.WorkflowContext) error {
			runs.Add(1)
			return types.Permanent(errors.New("malformed payload"))
		},
	}

	f := newFixture(t, def)
	exec := f.create(t, types.EventVideoGenerate)

	got, err := f.runner.Execute(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempt)
	assert.EqualValues(t, 1, runs.Load())
	assert.True(t, got.Compensated)
}

func TestPanicIsAFailedAttempt(t *testing.T) {
	var runs atomic.Int32

	def := &registry.Definition{
		Name:   "test",
		Event:  types.EventAvatarGenerate,
		Steps:  []string{"only"},
		Config: fastConfig(2),
		Handler: func(wctx enginectx.WorkflowContext) error {
			if runs.Add(1) == 1 {
				panic("nil image")
			}
			return nil
		},
	}

	f := newFixture(t, def)
	exec := f.create(t, types.EventAvatarGenerate)

	got, err := f.runner.Execute(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusSucceeded, got.Status)
	assert.EqualValues(t, 2, runs.Load())

	attempts, err := f.repo.Executions().Attempts(context.Background(), exec.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Contains(t, attempts[0].Error, "nil image")
}

func TestResumeHonorsCheckpointsOfCurrentAttempt(t *testing.T) {
	var first, second atomic.Int32

	def := &registry.Definition{
		Name:   "test",
		Event:  types.EventAvatarGenerateCustom,
		Steps:  []string{"first", "second"},
		Config: fastConfig(2),
		Handler: func(wctx enginectx.WorkflowContext) error {
			v, err := enginectx.Step(wctx, "first", func(ctx types.StepContext) (string, error) {
				first.Add(1)
				return "fresh", nil
			})
			if err != nil {
				return err
			}
			_, err = enginectx.Step(wctx, "second", func(ctx types.StepContext) (string, error) {
				second.Add(1)
				return v, nil
			})
			return err
		},
	}

	f := newFixture(t, def)
	ctx := context.Background()
	exec := f.create(t, types.EventAvatarGenerateCustom)

	// simulate a crash during attempt 2 after "first" finished
	exec.Status = types.ExecutionStatusRunning
	exec.Attempt = 2
	require.NoError(t, f.repo.Executions().Update(ctx, exec))

	steps := enginectx.NewStepExecutor(enginectx.StepExecutorConfig{
		Checkpoints: f.repo.Checkpoints(),
		ExecutionID: exec.ID,
		Workflow:    "test",
		Attempt:     2,
		Steps:       def.Steps,
	})
	wctx := enginectx.NewWorkflowContext(ctx, exec.ID, "test", exec.Trigger, steps, nil)
	_, err := enginectx.Step(wctx, "first", func(ctx types.StepContext) (string, error) {
		return "before crash", nil
	})
	require.NoError(t, err)

	got, err := f.runner.Execute(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusSucceeded, got.Status)
	assert.Equal(t, 2, got.Attempt)
	assert.Zero(t, first.Load())
	assert.EqualValues(t, 1, second.Load())
}

func TestFailedUncompensatedIsCompensatedOnResume(t *testing.T) {
	var runs, compensations atomic.Int32

	def := &registry.Definition{
		Name:   "test",
		Event:  types.EventAvatarGenerateHybrid,
		Steps:  []string{"only"},
		Config: fastConfig(2),
		Handler: func(wctx enginectx.WorkflowContext) error {
			runs.Add(1)
			return nil
		},
		Compensate: func(ctx context.Context, trigger types.Trigger, cause error) error {
			compensations.Add(1)
			assert.EqualError(t, cause, "lost")
			return nil
		},
	}

	f := newFixture(t, def)
	ctx := context.Background()
	exec := f.create(t, types.EventAvatarGenerateHybrid)
	exec.Status = types.ExecutionStatusFailed
	exec.Attempt = 2
	exec.Error = "lost"
	require.NoError(t, f.repo.Executions().Update(ctx, exec))

	got, err := f.runner.Execute(ctx, exec.ID)
	require.NoError(t, err)
	assert.True(t, got.Compensated)
	assert.Zero(t, runs.Load())
	assert.EqualValues(t, 1, compensations.Load())
}

func TestCancelLeavesExecutionResumable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	def := &registry.Definition{
		Name:   "test",
		Event:  types.EventVideoGenerate,
		Steps:  []string{"slow"},
		Config: fastConfig(3),
		Handler: func(wctx enginectx.WorkflowContext) error {
			_, err := enginectx.Step(wctx, "slow", func(ctx types.StepContext) (int, error) {
				cancel()
				<-ctx.Done()
				return 0, ctx.Err()
			})
			return err
		},
	}

	f := newFixture(t, def)
	exec := f.create(t, types.EventVideoGenerate)

	_, err := f.runner.Execute(ctx, exec.ID)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.terminal)

	stored, err := f.repo.Executions().Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusRunning, stored.Status)
	assert.False(t, stored.Compensated)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := backoff(types.RetryPolicy{
		MaxAttempts:        5,
		InitialInterval:    time.Second,
		BackoffCoefficient: 2,
		MaxInterval:        3 * time.Second,
	}, 3)

	var got []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			break
		}
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, got)
}

// brokenFinalWrite refuses to persist one terminal status.
type brokenFinalWrite struct {
	repository.Repository
	status types.ExecutionStatus
}

func (b brokenFinalWrite) Executions() repository.ExecutionRepository {
	return brokenExecutions{ExecutionRepository: b.Repository.Executions(), status: b.status}
}

type brokenExecutions struct {
	repository.ExecutionRepository
	status types.ExecutionStatus
}

func (b brokenExecutions) Update(ctx context.Context, exec types.Execution) error {
	if exec.Status == b.status {
		return errors.New("disk full")
	}
	return b.ExecutionRepository.Update(ctx, exec)
}

func TestTerminalCallbackFiresWhenFinalWriteFails(t *testing.T) {
	for _, status := range []types.ExecutionStatus{types.ExecutionStatusSucceeded, types.ExecutionStatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			def := &registry.Definition{
				Name:   "test",
				Event:  types.EventAvatarGenerate,
				Steps:  []string{"only"},
				Config: fastConfig(1),
				Handler: func(wctx enginectx.WorkflowContext) error {
					_, err := enginectx.Step(wctx, "only", func(ctx types.StepContext) (int, error) {
						if status == types.ExecutionStatusFailed {
							return 0, errors.New("provider down")
						}
						return 1, nil
					})
					return err
				},
			}

			f := newFixture(t, def)
			exec := f.create(t, types.EventAvatarGenerate)

			reg, err := registry.NewBuilder().Workflow(def).Build()()
			require.NoError(t, err)
			var terminal []types.Execution
			runner := NewRunner(brokenFinalWrite{Repository: f.repo, status: status}, reg, WithOnTerminal(func(e types.Execution) {
				terminal = append(terminal, e)
			}))

			_, err = runner.Execute(context.Background(), exec.ID)
			require.Error(t, err)
			require.Len(t, terminal, 1)
			assert.Equal(t, status, terminal[0].Status)
		})
	}
}
