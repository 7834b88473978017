package context

import (
	"context"

	"github.com/davidroman0O/studioflow/internal/types"
)

type stepContext struct {
	context.Context
	executionID types.ExecutionID
	workflow    string
	attempt     int
	step        string
}

var _ types.StepContext = stepContext{}

func (s stepContext) ExecutionID() types.ExecutionID { return s.executionID }
func (s stepContext) Workflow() string               { return s.workflow }
func (s stepContext) Attempt() int                   { return s.attempt }
func (s stepContext) StepName() string               { return s.step }
