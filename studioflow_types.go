package studioflow

import (
	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/davidroman0O/studioflow/internal/workflows"
)

type (
	RecordID    = types.RecordID
	UserID      = types.UserID
	ExecutionID = types.ExecutionID
	TriggerID   = types.TriggerID

	Record      = types.Record
	User        = types.User
	LedgerEntry = types.LedgerEntry
	Execution   = types.Execution
	Attempt     = types.Attempt
	Metadata    = types.Metadata

	RecordStatus = types.RecordStatus

	BodyPartReference = workflows.BodyPartReference
	ProductRef        = workflows.ProductRef
)

const (
	RecordStatusPending    = types.RecordStatusPending
	RecordStatusProcessing = types.RecordStatusProcessing
	RecordStatusCompleted  = types.RecordStatusCompleted
	RecordStatusFailed     = types.RecordStatusFailed
)

// Job identifies one submitted generation.
type Job struct {
	RecordID    RecordID
	ExecutionID ExecutionID
	TriggerID   TriggerID
}

type AvatarRequest struct {
	UserID UserID
	Name   string
	Style  string
}

type CustomAvatarRequest struct {
	UserID         UserID
	Name           string
	TrainingImages []string
}

type HybridAvatarRequest struct {
	UserID     UserID
	Name       string
	References []BodyPartReference
}

type VideoRequest struct {
	UserID      UserID
	Name        string
	AvatarName  string
	ProductName string
	ProductType string
	Background  string
	Action      string
	VideoSize   string
}

type TransferRequest struct {
	UserID         UserID
	Name           string
	SourceVideoURL string
	AvatarID       RecordID
	Products       []ProductRef
	KeepBackground bool
}
