package engine

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

func countingDefinition(runs *atomic.Int32, failures int32) *registry.Definition {
	return &registry.Definition{
		Name:  "count",
		Event: types.EventAvatarGenerate,
		Steps: []string{"count"},
		Config: types.NewWorkflowConfig(
			types.WithWorkflowRetryMaximumAttempts(3),
			types.WithWorkflowRetryInitialInterval(time.Millisecond),
		),
		Handler: func(wctx enginectx.WorkflowContext) error {
			_, err := enginectx.Step(wctx, "count", func(ctx types.StepContext) (int32, error) {
				n := runs.Add(1)
				if n <= failures {
					return 0, errors.New("flaky")
				}
				return n, nil
			})
			return err
		},
	}
}

func newEngine(t *testing.T, repo repository.Repository, def *registry.Definition) *Engine {
	t.Helper()
	e, err := New(context.Background(), registry.NewBuilder().Workflow(def).Build(), repo, WithWorkers(2))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func memoryRepo(t *testing.T) repository.Repository {
	t.Helper()
	repo, err := repository.NewMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestDispatchAndAwait(t *testing.T) {
	var runs atomic.Int32
	e := newEngine(t, memoryRepo(t), countingDefinition(&runs, 1))

	trigger, err := types.NewTrigger(types.EventAvatarGenerate, map[string]string{"avatarId": "a"})
	require.NoError(t, err)

	id, err := e.Dispatch(context.Background(), trigger)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exec, err := e.Await(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusSucceeded, exec.Status)
	assert.Equal(t, 2, exec.Attempt)
	assert.EqualValues(t, 2, runs.Load())

	// already terminal
	exec, err = e.Await(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusSucceeded, exec.Status)
}

func TestDispatchRejectsDuplicatesAndUnknownEvents(t *testing.T) {
	var runs atomic.Int32
	e := newEngine(t, memoryRepo(t), countingDefinition(&runs, 0))

	trigger, err := types.NewTrigger(types.EventAvatarGenerate, nil)
	require.NoError(t, err)

	_, err = e.Dispatch(context.Background(), trigger)
	require.NoError(t, err)
	_, err = e.Dispatch(context.Background(), trigger)
	require.ErrorIs(t, err, ErrDuplicateTrigger)

	unknown, err := types.NewTrigger(types.EventVideoTransfer, nil)
	require.NoError(t, err)
	_, err = e.Dispatch(context.Background(), unknown)
	require.ErrorIs(t, err, registry.ErrWorkflowNotFound)

	require.NoError(t, e.Wait())
	assert.EqualValues(t, 1, runs.Load())
}

func TestResumePicksUpUnfinishedExecutions(t *testing.T) {
	var runs atomic.Int32
	repo := memoryRepo(t)
	ctx := context.Background()

	trigger, err := types.NewTrigger(types.EventAvatarGenerate, nil)
	require.NoError(t, err)
	exec, err := repo.Executions().Create(ctx, types.Execution{Workflow: "count", Trigger: trigger})
	require.NoError(t, err)
	exec.Status = types.ExecutionStatusRunning
	exec.Attempt = 1
	require.NoError(t, repo.Executions().Update(ctx, exec))

	e := newEngine(t, repo, countingDefinition(&runs, 0))
	n, err := e.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	got, err := e.Await(wctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusSucceeded, got.Status)
	assert.Equal(t, 1, got.Attempt)
}

func TestScale(t *testing.T) {
	var runs atomic.Int32
	e := newEngine(t, memoryRepo(t), countingDefinition(&runs, 0))

	require.NoError(t, e.Scale(4))
	assert.Equal(t, 4, e.pool.AvailableWorkers())
	require.NoError(t, e.Scale(1))
	assert.Equal(t, 1, e.pool.AvailableWorkers())
	require.Error(t, e.Scale(0))
}

func TestDispatchAfterShutdown(t *testing.T) {
	var runs atomic.Int32
	e := newEngine(t, memoryRepo(t), countingDefinition(&runs, 0))
	require.NoError(t, e.Shutdown())

	trigger, err := types.NewTrigger(types.EventAvatarGenerate, nil)
	require.NoError(t, err)
	_, err = e.Dispatch(context.Background(), trigger)
	require.ErrorIs(t, err, ErrEngineClosed)
}

func TestRefusedSubmitIsNotResumed(t *testing.T) {
	var runs atomic.Int32
	repo := memoryRepo(t)
	e := newEngine(t, repo, countingDefinition(&runs, 0))

	// the pool stops taking work while the engine still accepts triggers
	e.cancel()
	require.NoError(t, e.pool.Shutdown())

	trigger, err := types.NewTrigger(types.EventAvatarGenerate, map[string]string{"avatarId": "a"})
	require.NoError(t, err)
	id, err := e.Dispatch(context.Background(), trigger)
	require.Error(t, err)
	assert.Equal(t, types.NoExecutionID, id)

	unfinished, err := repo.Executions().ListUnfinished(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unfinished)

	_, err = e.Dispatch(context.Background(), trigger)
	require.ErrorIs(t, err, ErrDuplicateTrigger)
	assert.Zero(t, runs.Load())
}
