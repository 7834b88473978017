package types

import "github.com/google/uuid"

type ExecutionID int

var NoExecutionID = ExecutionID(-1)

type AttemptID int

var NoAttemptID = AttemptID(-1)

type RecordID string

var NoRecordID = RecordID("")

type UserID string

var NoUserID = UserID("")

type TriggerID string

var NoTriggerID = TriggerID("")

func NewRecordID() RecordID {
	return RecordID(uuid.NewString())
}

func NewUserID() UserID {
	return UserID(uuid.NewString())
}

func NewTriggerID() TriggerID {
	return TriggerID(uuid.NewString())
}
