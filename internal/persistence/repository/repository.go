package repository

import (
	"context"
	"errors"

	"github.com/davidroman0O/studioflow/internal/types"
)

// Repository errors
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// Repository represents the main repository interface
type Repository interface {
	Users() UserRepository
	Records() RecordRepository
	Executions() ExecutionRepository
	Checkpoints() CheckpointRepository

	Close() error
}

// UserRepository owns balances and the append-only credit ledger. Every
// balance change appends exactly one ledger entry in the same transaction.
type UserRepository interface {
	Create(ctx context.Context, user types.User) (types.User, error)
	Get(ctx context.Context, id types.UserID) (types.User, error)
	// ApplyCredits adds delta (negative for a debit) to the user's balance.
	// A debit that would make the balance negative fails with
	// ErrInsufficientCredits and changes nothing.
	ApplyCredits(ctx context.Context, id types.UserID, delta int, kind types.LedgerType, metadata types.Metadata) (types.LedgerEntry, error)
	Ledger(ctx context.Context, id types.UserID) ([]types.LedgerEntry, error)
}

// RecordRepository is a get/update-by-id row store with last-write-wins
// patches.
type RecordRepository interface {
	Create(ctx context.Context, record types.Record) (types.Record, error)
	Get(ctx context.Context, id types.RecordID) (types.Record, error)
	Update(ctx context.Context, id types.RecordID, patch types.Patch) (types.Record, error)
	Delete(ctx context.Context, id types.RecordID) error
	ListByUser(ctx context.Context, userID types.UserID) ([]types.Record, error)
}

type ExecutionRepository interface {
	// Create fails with ErrAlreadyExists when the trigger was already consumed.
	Create(ctx context.Context, execution types.Execution) (types.Execution, error)
	Get(ctx context.Context, id types.ExecutionID) (types.Execution, error)
	Update(ctx context.Context, execution types.Execution) error
	// ListUnfinished returns executions still pending or running plus failed
	// ones whose compensation never completed.
	ListUnfinished(ctx context.Context) ([]types.Execution, error)

	CreateAttempt(ctx context.Context, attempt types.Attempt) (types.Attempt, error)
	FinishAttempt(ctx context.Context, id types.AttemptID, status types.AttemptStatus, errMsg string) error
	Attempts(ctx context.Context, id types.ExecutionID) ([]types.Attempt, error)
}

type CheckpointRepository interface {
	Save(ctx context.Context, checkpoint types.Checkpoint) error
	Get(ctx context.Context, id types.ExecutionID, attempt int, step string) (types.Checkpoint, error)
	List(ctx context.Context, id types.ExecutionID, attempt int) ([]types.Checkpoint, error)
}
