package types

import "time"

type Execution struct {
	ID          ExecutionID
	Workflow    string
	Trigger     Trigger
	Status      ExecutionStatus
	Attempt     int
	Error       string
	Compensated bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Attempt struct {
	ID          AttemptID
	ExecutionID ExecutionID
	Number      int
	Status      AttemptStatus
	Error       string
	StartedAt   time.Time
	EndedAt     *time.Time
}

// Checkpoint is the captured output of one step within one attempt.
type Checkpoint struct {
	ExecutionID ExecutionID
	Attempt     int
	Step        string
	Output      []byte
	CreatedAt   time.Time
}
