package studioflow

import (
	"context"
	"fmt"
	"time"

	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/davidroman0O/studioflow/internal/workflows"
)

type payload interface {
	Validate() error
}

func (s *Studioflow) GenerateAvatar(ctx context.Context, req AvatarRequest) (Job, error) {
	return s.submit(ctx, req.UserID, req.Name, types.EventAvatarGenerate, func(id RecordID) payload {
		return workflows.AvatarPayload{AvatarID: id, Style: req.Style}
	})
}

func (s *Studioflow) GenerateCustomAvatar(ctx context.Context, req CustomAvatarRequest) (Job, error) {
	return s.submit(ctx, req.UserID, req.Name, types.EventAvatarGenerateCustom, func(id RecordID) payload {
		return workflows.CustomAvatarPayload{AvatarID: id, TrainingImages: req.TrainingImages}
	})
}

func (s *Studioflow) GenerateHybridAvatar(ctx context.Context, req HybridAvatarRequest) (Job, error) {
	return s.submit(ctx, req.UserID, req.Name, types.EventAvatarGenerateHybrid, func(id RecordID) payload {
		return workflows.HybridAvatarPayload{AvatarID: id, References: req.References}
	})
}

func (s *Studioflow) GenerateVideo(ctx context.Context, req VideoRequest) (Job, error) {
	return s.submit(ctx, req.UserID, req.Name, types.EventVideoGenerate, func(id RecordID) payload {
		return workflows.VideoPayload{
			JobID:       id,
			AvatarName:  req.AvatarName,
			ProductName: req.ProductName,
			ProductType: req.ProductType,
			Background:  req.Background,
			Action:      req.Action,
			VideoSize:   req.VideoSize,
		}
	})
}

func (s *Studioflow) TransferVideo(ctx context.Context, req TransferRequest) (Job, error) {
	return s.submit(ctx, req.UserID, req.Name, types.EventVideoTransfer, func(id RecordID) payload {
		return workflows.TransferPayload{
			JobID:          id,
			SourceVideoURL: req.SourceVideoURL,
			AvatarID:       req.AvatarID,
			Products:       req.Products,
			KeepBackground: req.KeepBackground,
		}
	})
}

// submit debits the job cost, creates the pending record and emits its
// trigger. Nothing stays debited when a later stage fails.
func (s *Studioflow) submit(ctx context.Context, userID UserID, name string, event types.EventName, build func(RecordID) payload) (Job, error) {
	price, ok := workflows.PriceOf(event)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrWorkflowNotFound, event)
	}

	id := types.NewRecordID()
	p := build(id)
	if err := p.Validate(); err != nil {
		return Job{}, err
	}
	trigger, err := types.NewTrigger(event, p)
	if err != nil {
		return Job{}, err
	}

	if _, err := s.repo.Users().ApplyCredits(ctx, userID, -price.Cost, types.LedgerTypeUsage, types.Metadata{
		"record_id": string(id),
		"event":     string(event),
	}); err != nil {
		return Job{}, err
	}
	s.metrics.Credits(string(types.LedgerTypeUsage), price.Cost)

	if _, err := s.repo.Records().Create(ctx, types.Record{
		ID:      id,
		Kind:    price.Kind,
		UserID:  userID,
		Name:    name,
		Status:  types.RecordStatusPending,
		Event:   event,
		Payload: trigger.Payload,
		Cost:    price.Cost,
	}); err != nil {
		s.logger.Error(ctx, "Error creating record", "record_id", id, "error", err)
		s.giveBack(ctx, userID, id, trigger.ID, price.Cost, "record_creation_failed")
		return Job{}, err
	}

	execID, err := s.engine.Dispatch(ctx, trigger)
	if err != nil {
		s.abandon(ctx, userID, id, trigger.ID, price.Cost, err)
		return Job{}, err
	}

	s.logger.Info(ctx, "Job submitted", "record_id", id, "event", event, "execution_id", execID, "cost", price.Cost)
	return Job{RecordID: id, ExecutionID: execID, TriggerID: trigger.ID}, nil
}

// Retry re-runs a failed record with a fresh trigger carrying the original
// event and payload. Refundable jobs were refunded on failure so they are
// charged again.
func (s *Studioflow) Retry(ctx context.Context, id RecordID) (Job, error) {
	s.retryMu.Lock()
	defer s.retryMu.Unlock()

	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if rec.Status != types.RecordStatusFailed {
		return Job{}, fmt.Errorf("%w: %s is %s", ErrNotRetryable, id, rec.Status)
	}
	price, ok := workflows.PriceOf(rec.Event)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrWorkflowNotFound, rec.Event)
	}

	charge := 0
	if price.Refund {
		charge = rec.Cost
		if charge <= 0 {
			charge = price.Cost
		}
		if _, err := s.repo.Users().ApplyCredits(ctx, rec.UserID, -charge, types.LedgerTypeUsage, types.Metadata{
			"record_id": string(id),
			"event":     string(rec.Event),
			"retry":     true,
		}); err != nil {
			return Job{}, err
		}
		s.metrics.Credits(string(types.LedgerTypeUsage), charge)
	}

	if _, err := s.records.Reset(ctx, id); err != nil {
		if charge > 0 {
			s.giveBack(ctx, rec.UserID, id, types.NoTriggerID, charge, "retry_reset_failed")
		}
		return Job{}, err
	}

	trigger := types.Trigger{
		ID:        types.NewTriggerID(),
		Event:     rec.Event,
		Payload:   rec.Payload,
		EmittedAt: time.Now(),
	}
	execID, err := s.engine.Dispatch(ctx, trigger)
	if err != nil {
		s.abandon(ctx, rec.UserID, id, trigger.ID, charge, err)
		return Job{}, err
	}

	s.logger.Info(ctx, "Job retried", "record_id", id, "event", rec.Event, "execution_id", execID, "charged", charge)
	return Job{RecordID: id, ExecutionID: execID, TriggerID: trigger.ID}, nil
}

// abandon fails a record whose trigger never made it to the engine and
// returns what was charged for it.
func (s *Studioflow) abandon(ctx context.Context, userID UserID, id RecordID, triggerID TriggerID, amount int, cause error) {
	s.logger.Error(ctx, "Error dispatching trigger", "record_id", id, "error", cause)
	if _, err := s.records.Fail(ctx, id, cause.Error()); err != nil {
		s.logger.Error(ctx, "Error failing record", "record_id", id, "error", err)
	}
	if amount > 0 {
		s.giveBack(ctx, userID, id, triggerID, amount, "dispatch_failed")
	}
}

// giveBack refunds a charge. The trigger id, when there is one, lets the
// workflow compensation see that this trigger was already refunded.
func (s *Studioflow) giveBack(ctx context.Context, userID UserID, id RecordID, triggerID TriggerID, amount int, reason string) {
	metadata := types.Metadata{
		"record_id": string(id),
		"reason":    reason,
	}
	if triggerID != types.NoTriggerID {
		metadata["trigger_id"] = string(triggerID)
	}
	if _, err := s.repo.Users().ApplyCredits(ctx, userID, amount, types.LedgerTypeRefund, metadata); err != nil {
		s.logger.Error(ctx, "Error refunding credits", "record_id", id, "user_id", userID, "amount", amount, "error", err)
		return
	}
	s.metrics.Credits(string(types.LedgerTypeRefund), amount)
}
