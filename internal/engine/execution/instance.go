package execution

import (
	"context"
	"errors"

	"github.com/davidroman0O/studioflow/internal/engine/registry"
	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/qmuntal/stateless"
	"github.com/sethvargo/go-retry"
)

type trigger string

const (
	triggerStart   trigger = "start"
	triggerSucceed trigger = "succeed"
	triggerFail    trigger = "fail"
)

// instance is the state machine of one execution:
//
//	pending -> running -> succeeded
//	                   -> failed (compensation on entry)
type instance struct {
	r   *Runner
	ctx context.Context
	def *registry.Definition
	fsm *stateless.StateMachine

	exec        types.Execution
	cause       error
	interrupted error
}

func newInstance(r *Runner, def *registry.Definition, exec types.Execution) *instance {
	wi := &instance{r: r, def: def, exec: exec}

	initial := types.ExecutionStatusPending
	if exec.Status == types.ExecutionStatusFailed {
		// failed but never compensated, enter failed again
		initial = types.ExecutionStatusRunning
	}

	wi.fsm = stateless.NewStateMachineWithMode(initial, stateless.FiringQueued)
	wi.fsm.Configure(types.ExecutionStatusPending).
		Permit(triggerStart, types.ExecutionStatusRunning)

	wi.fsm.Configure(types.ExecutionStatusRunning).
		OnEntry(wi.executeWithRetry).
		Permit(triggerSucceed, types.ExecutionStatusSucceeded).
		Permit(triggerFail, types.ExecutionStatusFailed)

	wi.fsm.Configure(types.ExecutionStatusSucceeded).
		OnEntry(wi.onSucceeded)

	wi.fsm.Configure(types.ExecutionStatusFailed).
		OnEntry(wi.onFailed)

	return wi
}

func (wi *instance) start(ctx context.Context) error {
	wi.ctx = ctx
	if wi.exec.Status == types.ExecutionStatusFailed {
		if wi.exec.Error != "" {
			wi.cause = errors.New(wi.exec.Error)
		}
		return wi.fsm.FireCtx(ctx, triggerFail)
	}
	return wi.fsm.FireCtx(ctx, triggerStart)
}

func (wi *instance) executeWithRetry(_ context.Context, _ ...any) error {
	ctx := wi.ctx
	budget := wi.def.Config.Retry.MaxAttempts

	// a running execution resumes its current attempt, checkpoints included
	number := 0
	resume := wi.exec.Status == types.ExecutionStatusRunning && wi.exec.Attempt > 0
	first := 1
	if resume {
		number = wi.exec.Attempt - 1
		first = wi.exec.Attempt
	}

	err := retry.Do(ctx, backoff(wi.def.Config.Retry, budget-first), func(ctx context.Context) error {
		number++
		wi.exec.Status = types.ExecutionStatusRunning
		wi.exec.Attempt = number
		if err := wi.r.repo.Executions().Update(ctx, wi.exec); err != nil {
			return retry.RetryableError(err)
		}

		err := wi.r.runAttempt(ctx, wi.def, wi.exec, number)
		switch {
		case err == nil:
			return nil
		case interrupted(ctx, err):
			return err
		case types.IsPermanent(err):
			return err
		default:
			return retry.RetryableError(err)
		}
	})

	if err != nil && interrupted(ctx, err) {
		wi.r.logger.Warn(ctx, "execution interrupted", "execution_id", wi.exec.ID, "workflow", wi.def.Name, "attempt", wi.exec.Attempt)
		wi.interrupted = err
		return nil
	}

	if err != nil {
		wi.cause = err
		return wi.fsm.FireCtx(ctx, triggerFail)
	}
	return wi.fsm.FireCtx(ctx, triggerSucceed)
}

func (wi *instance) onSucceeded(_ context.Context, _ ...any) error {
	ctx := wi.ctx
	defer wi.finish()
	wi.exec.Status = types.ExecutionStatusSucceeded
	wi.exec.Error = ""
	if err := wi.r.repo.Executions().Update(ctx, wi.exec); err != nil {
		wi.r.logger.Error(ctx, err.Error(), "execution_id", wi.exec.ID)
		return err
	}
	wi.r.logger.Info(ctx, "execution succeeded", "execution_id", wi.exec.ID, "workflow", wi.def.Name, "attempts", wi.exec.Attempt)
	wi.r.metrics.Execution(wi.def.Name, string(types.ExecutionStatusSucceeded))
	return nil
}

// onFailed persists the failure first, then compensates once and records
// that it did.
func (wi *instance) onFailed(_ context.Context, _ ...any) error {
	ctx := wi.ctx
	defer wi.finish()
	if wi.cause == nil {
		wi.cause = errors.New("workflow failed")
	}

	wi.exec.Status = types.ExecutionStatusFailed
	wi.exec.Error = wi.cause.Error()
	if err := wi.r.repo.Executions().Update(ctx, wi.exec); err != nil {
		wi.r.logger.Error(ctx, err.Error(), "execution_id", wi.exec.ID)
		return err
	}
	wi.r.logger.Error(ctx, "execution failed", "execution_id", wi.exec.ID, "workflow", wi.def.Name, "attempts", wi.exec.Attempt, "error", wi.cause)
	wi.r.metrics.Execution(wi.def.Name, string(types.ExecutionStatusFailed))

	if !wi.exec.Compensated && wi.def.Compensate != nil {
		err := safeCompensate(ctx, wi.def.Compensate, wi.exec.Trigger, wi.cause)
		wi.r.metrics.Compensation(wi.def.Name, err)
		if err != nil {
			wi.r.logger.Error(ctx, "compensation failed", "execution_id", wi.exec.ID, "workflow", wi.def.Name, "error", err)
		} else {
			wi.r.logger.Info(ctx, "compensation completed", "execution_id", wi.exec.ID, "workflow", wi.def.Name)
		}
	}

	wi.exec.Compensated = true
	if err := wi.r.repo.Executions().Update(ctx, wi.exec); err != nil {
		wi.r.logger.Error(ctx, err.Error(), "execution_id", wi.exec.ID)
		return err
	}
	return nil
}

// finish hands the execution to whoever waits on it, also when persisting
// its final state failed.
func (wi *instance) finish() {
	if wi.r.onTerminal != nil {
		wi.r.onTerminal(wi.exec)
	}
}
