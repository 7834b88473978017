package context

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davidroman0O/studioflow/internal/engine/io"
	"github.com/davidroman0O/studioflow/internal/persistence/repository"
	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/davidroman0O/studioflow/pkg/logs"
	"github.com/sasha-s/go-deadlock"
)

var (
	ErrStepNotDeclared = errors.New("step not declared")
	ErrStepOrder       = errors.New("step out of order")
)

// StepObserver is told about every step body that actually ran.
type StepObserver interface {
	ObserveStep(workflow, step string, elapsed time.Duration, err error)
}

type StepFunc func(ctx types.StepContext) ([]byte, error)

// StepExecutor runs the named steps of one attempt. Outputs are memoized
// for the lifetime of the attempt and persisted as checkpoints so that a
// resumed attempt does not redo finished steps. A new attempt gets a new
// executor and starts from nothing.
type StepExecutor struct {
	mu deadlock.Mutex

	checkpoints repository.CheckpointRepository
	observer    StepObserver
	logger      logs.Logger

	executionID types.ExecutionID
	workflow    string
	attempt     int

	declared map[string]int
	cursor   int
	memo     map[string][]byte
}

type StepExecutorConfig struct {
	Checkpoints repository.CheckpointRepository
	Observer    StepObserver
	Logger      logs.Logger
	ExecutionID types.ExecutionID
	Workflow    string
	Attempt     int
	Steps       []string
}

func NewStepExecutor(cfg StepExecutorConfig) *StepExecutor {
	declared := make(map[string]int, len(cfg.Steps))
	for i, name := range cfg.Steps {
		declared[name] = i
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logs.Discard()
	}
	return &StepExecutor{
		checkpoints: cfg.Checkpoints,
		observer:    cfg.Observer,
		logger:      logger,
		executionID: cfg.ExecutionID,
		workflow:    cfg.Workflow,
		attempt:     cfg.Attempt,
		declared:    declared,
		cursor:      -1,
		memo:        make(map[string][]byte),
	}
}

func (s *StepExecutor) Attempt() int {
	return s.attempt
}

// Run returns the captured output of name if it already ran in this
// attempt, otherwise invokes fn and captures its output. An error from fn is
// returned untouched and nothing is captured.
func (s *StepExecutor) Run(ctx context.Context, name string, fn StepFunc) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.declared[name]
	if !ok {
		return nil, types.Permanent(fmt.Errorf("%w: %q in %s", ErrStepNotDeclared, name, s.workflow))
	}

	if out, ok, err := s.lookup(ctx, name); err != nil {
		return nil, err
	} else if ok {
		if idx > s.cursor {
			s.cursor = idx
		}
		s.logger.Debug(ctx, "step memoized", "execution_id", s.executionID, "attempt", s.attempt, "step", name)
		return out, nil
	}

	if idx < s.cursor {
		return nil, types.Permanent(fmt.Errorf("%w: %q after a later step in %s", ErrStepOrder, name, s.workflow))
	}

	sctx := stepContext{
		Context:     ctx,
		executionID: s.executionID,
		workflow:    s.workflow,
		attempt:     s.attempt,
		step:        name,
	}

	s.logger.Debug(ctx, "step started", "execution_id", s.executionID, "attempt", s.attempt, "step", name)
	start := time.Now()
	out, err := fn(sctx)
	if s.observer != nil {
		s.observer.ObserveStep(s.workflow, name, time.Since(start), err)
	}
	if err != nil {
		s.logger.Warn(ctx, err.Error(), "execution_id", s.executionID, "attempt", s.attempt, "step", name)
		return nil, err
	}

	if s.checkpoints != nil {
		if err := s.checkpoints.Save(ctx, types.Checkpoint{
			ExecutionID: s.executionID,
			Attempt:     s.attempt,
			Step:        name,
			Output:      out,
		}); err != nil {
			return nil, fmt.Errorf("saving checkpoint %s: %w", name, err)
		}
	}
	s.memo[name] = out
	s.cursor = idx
	return out, nil
}

func (s *StepExecutor) lookup(ctx context.Context, name string) ([]byte, bool, error) {
	if out, ok := s.memo[name]; ok {
		return out, true, nil
	}
	if s.checkpoints == nil {
		return nil, false, nil
	}
	cp, err := s.checkpoints.Get(ctx, s.executionID, s.attempt, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.memo[name] = cp.Output
	return cp.Output, true, nil
}

// Step runs fn as the named step of the current attempt and threads its
// typed output back to the caller. Fresh and memoized results both go
// through the same encoding so callers always see identical values.
func Step[T any](wctx WorkflowContext, name string, fn func(ctx types.StepContext) (T, error)) (T, error) {
	var zero T
	raw, err := wctx.steps.Run(wctx, name, func(ctx types.StepContext) ([]byte, error) {
		out, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := io.Encode(out)
		if err != nil {
			return nil, types.Permanent(fmt.Errorf("encoding output of %s: %w", name, err))
		}
		return raw, nil
	})
	if err != nil {
		return zero, err
	}
	out, err := io.Decode[T](raw)
	if err != nil {
		return zero, types.Permanent(fmt.Errorf("decoding output of %s: %w", name, err))
	}
	return out, nil
}
