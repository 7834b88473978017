package context

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davidroman0O/studioflow/internal/persistence/repository"
	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/davidroman0O/studioflow/pkg/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sceneOutput struct {
	ImageURL string
	Score    int
	Frames   []string
}

type recordingObserver struct {
	steps []string
}

func (r *recordingObserver) ObserveStep(workflow, step string, elapsed time.Duration, err error) {
	r.steps = append(r.steps, step)
}

func newExecutor(t *testing.T, checkpoints repository.CheckpointRepository, attempt int, steps ...string) *StepExecutor {
	t.Helper()
	return NewStepExecutor(StepExecutorConfig{
		Checkpoints: checkpoints,
		ExecutionID: 7,
		Workflow:    "generate-video",
		Attempt:     attempt,
		Steps:       steps,
	})
}

func TestRunMemoizesWithinAttempt(t *testing.T) {
	repo, err := repository.NewMemoryRepository()
	require.NoError(t, err)
	exec := newExecutor(t, repo.Checkpoints(), 1, "x")

	calls := 0
	fn := func(ctx types.StepContext) ([]byte, error) {
		calls++
		assert.Equal(t, "x", ctx.StepName())
		assert.Equal(t, 1, ctx.Attempt())
		return []byte("out"), nil
	}

	first, err := exec.Run(context.Background(), "x", fn)
	require.NoError(t, err)
	second, err := exec.Run(context.Background(), "x", fn)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}

func TestRunFreshAttemptReruns(t *testing.T) {
	repo, err := repository.NewMemoryRepository()
	require.NoError(t, err)

	calls := 0
	fn := func(ctx types.StepContext) ([]byte, error) {
		calls++
		return []byte{byte(ctx.Attempt())}, nil
	}

	out, err := newExecutor(t, repo.Checkpoints(), 1, "x").Run(context.Background(), "x", fn)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, out)

	out, err = newExecutor(t, repo.Checkpoints(), 2, "x").Run(context.Background(), "x", fn)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, out)
	assert.Equal(t, 2, calls)
}

func TestRunResumesSameAttemptFromCheckpoint(t *testing.T) {
	repo, err := repository.NewMemoryRepository()
	require.NoError(t, err)

	calls := 0
	fn := func(ctx types.StepContext) ([]byte, error) {
		calls++
		return []byte("saved"), nil
	}
	_, err = newExecutor(t, repo.Checkpoints(), 1, "x").Run(context.Background(), "x", fn)
	require.NoError(t, err)

	// a new process picks up the same attempt
	out, err := newExecutor(t, repo.Checkpoints(), 1, "x").Run(context.Background(), "x", fn)
	require.NoError(t, err)
	assert.Equal(t, "saved", string(out))
	assert.Equal(t, 1, calls)
}

func TestRunFailureIsNotCaptured(t *testing.T) {
	exec := newExecutor(t, nil, 1, "x")
	boom := errors.New("adapter timeout")

	calls := 0
	_, err := exec.Run(context.Background(), "x", func(ctx types.StepContext) ([]byte, error) {
		calls++
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	out, err := exec.Run(context.Background(), "x", func(ctx types.StepContext) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))
	assert.Equal(t, 2, calls)
}

func TestRunEnforcesDeclaredOrder(t *testing.T) {
	obs := &recordingObserver{}
	exec := NewStepExecutor(StepExecutorConfig{Workflow: "w", Attempt: 1, Steps: []string{"a", "b"}, Observer: obs})
	ok := func(ctx types.StepContext) ([]byte, error) { return []byte{1}, nil }

	_, err := exec.Run(context.Background(), "nope", ok)
	require.ErrorIs(t, err, ErrStepNotDeclared)
	assert.True(t, types.IsPermanent(err))

	_, err = exec.Run(context.Background(), "b", ok)
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), "a", ok)
	require.ErrorIs(t, err, ErrStepOrder)
	assert.True(t, types.IsPermanent(err))

	assert.Equal(t, []string{"b"}, obs.steps)
}

func TestTypedStep(t *testing.T) {
	repo, err := repository.NewMemoryRepository()
	require.NoError(t, err)
	trigger, err := types.NewTrigger(types.EventVideoGenerate, map[string]string{"jobId": "j1"})
	require.NoError(t, err)

	exec := newExecutor(t, repo.Checkpoints(), 1, "generate-scene-image")
	wctx := NewWorkflowContext(context.Background(), 7, "generate-video", trigger, exec, logs.Discard())

	calls := 0
	fn := func(ctx types.StepContext) (sceneOutput, error) {
		calls++
		return sceneOutput{ImageURL: "https://img/1.png", Score: 93, Frames: []string{"f1", "f2"}}, nil
	}

	first, err := Step(wctx, "generate-scene-image", fn)
	require.NoError(t, err)
	second, err := Step(wctx, "generate-scene-image", fn)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, "https://img/1.png", second.ImageURL)
	assert.Equal(t, 93, second.Score)
	assert.Equal(t, []string{"f1", "f2"}, second.Frames)

	var payload struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, wctx.Payload(&payload))
	assert.Equal(t, "j1", payload.JobID)
}
