package types

import "context"

// StepContext is handed to every step body.
type StepContext interface {
	context.Context           // base context
	ExecutionID() ExecutionID // current execution
	Workflow() string         // workflow name
	Attempt() int             // 1-based attempt number
	StepName() string         // current step
}
