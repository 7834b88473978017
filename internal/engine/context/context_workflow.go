package context

import (
	"context"

	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/davidroman0O/studioflow/pkg/logs"
)

// WorkflowContext is what a workflow handler sees during one attempt.
type WorkflowContext struct {
	context.Context
	executionID types.ExecutionID
	workflow    string
	attempt     int
	trigger     types.Trigger
	steps       *StepExecutor
	logger      logs.Logger
}

func NewWorkflowContext(
	ctx context.Context,
	executionID types.ExecutionID,
	workflow string,
	trigger types.Trigger,
	steps *StepExecutor,
	logger logs.Logger,
) WorkflowContext {
	if logger == nil {
		logger = logs.Discard()
	}
	return WorkflowContext{
		Context:     ctx,
		executionID: executionID,
		workflow:    workflow,
		attempt:     steps.Attempt(),
		trigger:     trigger,
		steps:       steps,
		logger:      logger,
	}
}

func (w WorkflowContext) ExecutionID() types.ExecutionID { return w.executionID }
func (w WorkflowContext) Workflow() string               { return w.workflow }
func (w WorkflowContext) Attempt() int                   { return w.attempt }
func (w WorkflowContext) Trigger() types.Trigger         { return w.trigger }
func (w WorkflowContext) Logger() logs.Logger            { return w.logger }

// Payload decodes the trigger payload into out.
func (w WorkflowContext) Payload(out any) error {
	return w.trigger.Decode(out)
}
