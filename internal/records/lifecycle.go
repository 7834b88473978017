package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/qmuntal/stateless"
)

var ErrInvalidTransition = errors.New("invalid status transition")

type trigger string

const (
	triggerProcess  trigger = "process"
	triggerComplete trigger = "complete"
	triggerFail     trigger = "fail"
	triggerReset    trigger = "reset"
)

// lifecycle builds a machine sitting in the record's current status. The
// machine is throwaway: the record row is the source of truth.
func lifecycle(current types.RecordStatus) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(current)

	fsm.Configure(types.RecordStatusPending).
		Permit(triggerProcess, types.RecordStatusProcessing).
		Permit(triggerFail, types.RecordStatusFailed)

	// a new attempt marks the record processing again
	fsm.Configure(types.RecordStatusProcessing).
		PermitReentry(triggerProcess).
		Permit(triggerComplete, types.RecordStatusCompleted).
		Permit(triggerFail, types.RecordStatusFailed)

	fsm.Configure(types.RecordStatusCompleted)

	fsm.Configure(types.RecordStatusFailed).
		Permit(triggerReset, types.RecordStatusPending)

	return fsm
}

func transition(ctx context.Context, current types.RecordStatus, t trigger) (types.RecordStatus, error) {
	fsm := lifecycle(current)
	if err := fsm.FireCtx(ctx, t); err != nil {
		return current, types.Permanent(fmt.Errorf("%w: %s from %s", ErrInvalidTransition, t, current))
	}
	state, err := fsm.State(ctx)
	if err != nil {
		return current, err
	}
	return state.(types.RecordStatus), nil
}
