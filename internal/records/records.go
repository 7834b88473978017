package records

import (
	"context"
	"fmt"
	"time"

	"github.com/davidroman0O/studioflow/internal/persistence/repository"
	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/davidroman0O/studioflow/pkg/logs"
)

// Service applies status-aware updates on top of the record store.
type Service struct {
	repo   repository.RecordRepository
	logger logs.Logger
}

func New(repo repository.RecordRepository, logger logs.Logger) *Service {
	if logger == nil {
		logger = logs.Discard()
	}
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Get(ctx context.Context, id types.RecordID) (types.Record, error) {
	return s.repo.Get(ctx, id)
}

// Start moves the record to processing with the given step label and
// progress.
func (s *Service) Start(ctx context.Context, id types.RecordID, step string, progress int, metadata types.Metadata) (types.Record, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Record{}, err
	}
	next, err := transition(ctx, rec.Status, triggerProcess)
	if err != nil {
		return types.Record{}, err
	}
	return s.update(ctx, id, types.Patch{
		Status:      &next,
		Progress:    &progress,
		CurrentStep: &step,
		Metadata:    metadata,
	})
}

// Progress records a step label and percentage without touching status.
func (s *Service) Progress(ctx context.Context, id types.RecordID, step string, progress int, metadata types.Metadata) (types.Record, error) {
	if progress < 0 || progress > 100 {
		return types.Record{}, types.Permanent(fmt.Errorf("progress %d out of range", progress))
	}
	return s.update(ctx, id, types.Patch{
		Progress:    &progress,
		CurrentStep: &step,
		Metadata:    metadata,
	})
}

// Annotate merges metadata only.
func (s *Service) Annotate(ctx context.Context, id types.RecordID, metadata types.Metadata) (types.Record, error) {
	return s.update(ctx, id, types.Patch{Metadata: metadata})
}

// Complete marks the record completed at 100 and applies the output fields
// carried by patch.
func (s *Service) Complete(ctx context.Context, id types.RecordID, patch types.Patch) (types.Record, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Record{}, err
	}
	next, err := transition(ctx, rec.Status, triggerComplete)
	if err != nil {
		return types.Record{}, err
	}
	now := time.Now()
	patch.Status = &next
	patch.Progress = types.Ptr(100)
	patch.CompletedAt = &now
	if patch.CurrentStep == nil {
		patch.CurrentStep = types.Ptr("Completed")
	}
	return s.update(ctx, id, patch)
}

// Fail marks the record failed with message. Failing an already failed
// record is a no-op so compensation stays idempotent.
func (s *Service) Fail(ctx context.Context, id types.RecordID, message string) (types.Record, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Record{}, err
	}
	if rec.Status == types.RecordStatusFailed {
		return rec, nil
	}
	next, err := transition(ctx, rec.Status, triggerFail)
	if err != nil {
		return types.Record{}, err
	}
	return s.update(ctx, id, types.Patch{
		Status:       &next,
		ErrorMessage: &message,
		Metadata:     types.Metadata{"error_message": message},
	})
}

// Reset puts a failed record back to pending with no progress, no error and
// no current step.
func (s *Service) Reset(ctx context.Context, id types.RecordID) (types.Record, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Record{}, err
	}
	next, err := transition(ctx, rec.Status, triggerReset)
	if err != nil {
		return types.Record{}, err
	}
	return s.update(ctx, id, types.Patch{
		Status:        &next,
		Progress:      types.Ptr(0),
		ErrorMessage:  types.Ptr(""),
		CurrentStep:   types.Ptr(""),
		ClearComplete: true,
	})
}

func (s *Service) update(ctx context.Context, id types.RecordID, patch types.Patch) (types.Record, error) {
	rec, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		s.logger.Error(ctx, "record update failed", "record_id", id, "error", err)
		return types.Record{}, err
	}
	s.logger.Debug(ctx, "record updated", "record_id", id, "status", rec.Status, "progress", rec.Progress, "current_step", rec.CurrentStep)
	return rec, nil
}
