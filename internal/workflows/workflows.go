// Package workflows holds the five studio pipelines and the compensation
// they share.
package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidroman0O/studioflow/internal/capability"
	enginectx "github.com/davidroman0O/studioflow/internal/engine/context"
	"github.com/davidroman0O/studioflow/internal/engine/registry"
	"github.com/davidroman0O/studioflow/internal/metrics"
	"github.com/davidroman0O/studioflow/internal/notify"
	"github.com/davidroman0O/studioflow/internal/persistence/repository"
	"github.com/davidroman0O/studioflow/internal/records"
	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/davidroman0O/studioflow/pkg/logs"
)

var ErrQualityGate = errors.New("quality check failed")

const QualityThreshold = 90

const (
	stepNotify = "send-notification"
)

type Config struct {
	Records  *records.Service
	Users    repository.UserRepository
	Adapters capability.Adapters
	Notifier notify.Dispatcher
	Metrics  *metrics.Metrics
	Logger   logs.Logger
	// Options are applied to every workflow before its own retry budget.
	Options []types.WorkflowOption
}

type Workflows struct {
	records  *records.Service
	users    repository.UserRepository
	adapters capability.Adapters
	notifier notify.Dispatcher
	metrics  *metrics.Metrics
	logger   logs.Logger
	options  []types.WorkflowOption
}

func New(cfg Config) (*Workflows, error) {
	if cfg.Records == nil || cfg.Users == nil {
		return nil, errors.New("workflows need a record service and a user store")
	}
	if err := cfg.Adapters.Validate(); err != nil {
		return nil, err
	}
	w := &Workflows{
		records:  cfg.Records,
		users:    cfg.Users,
		adapters: cfg.Adapters,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		options:  cfg.Options,
	}
	if w.logger == nil {
		w.logger = logs.Discard()
	}
	if w.notifier == nil {
		w.notifier = notify.Noop{Logger: w.logger}
	}
	return w, nil
}

func (w *Workflows) config(budget int) types.WorkflowConfig {
	opts := append([]types.WorkflowOption{}, w.options...)
	opts = append(opts, types.WithWorkflowRetryMaximumAttempts(budget))
	return types.NewWorkflowConfig(opts...)
}

// Definitions returns the whole catalogue.
func (w *Workflows) Definitions() []*registry.Definition {
	return []*registry.Definition{
		w.avatar(),
		w.customAvatar(),
		w.hybridAvatar(),
		w.video(),
		w.transfer(),
	}
}

// Register adds the catalogue to b.
func (w *Workflows) Register(b *registry.RegistryBuilder) *registry.RegistryBuilder {
	for _, def := range w.Definitions() {
		b = b.Workflow(def)
	}
	return b
}

// recipient is who hears about the outcome of a record.
type recipient struct {
	Email    string
	Name     string
	Language string
}

func (w *Workflows) recipientOf(ctx context.Context, id types.UserID) (recipient, error) {
	user, err := w.users.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return recipient{}, nil
	}
	if err != nil {
		return recipient{}, fmt.Errorf("loading user %s: %w", id, err)
	}
	name := user.DisplayName
	if name == "" {
		name = "User"
	}
	lang := user.Language
	if lang == "" {
		lang = types.LanguageEnglish
	}
	return recipient{Email: user.Email, Name: name, Language: string(lang)}, nil
}

func (w *Workflows) send(ctx context.Context, to recipient, template notify.Template, data notify.Data) {
	data.UserName = to.Name
	notify.BestEffort(ctx, w.logger, w.notifier, w.metrics, notify.Message{
		To:       to.Email,
		Template: template,
		Language: types.Language(to.Language),
		Data:     data,
	})
}

// notifyStep never fails, a lost email is not worth a retry.
func (w *Workflows) notifyStep(wctx enginectx.WorkflowContext, to recipient, template notify.Template, data notify.Data) error {
	_, err := enginectx.Step(wctx, stepNotify, func(ctx types.StepContext) (bool, error) {
		w.send(ctx, to, template, data)
		return true, nil
	})
	return err
}

// compensation is the shared failure hook: refund when the job is
// refundable, mark the record failed, then tell the user when the job is a
// video. A refund already recorded for this trigger is not issued again, and
// a record that already completed is left alone.
func (w *Workflows) compensation(event types.EventName) registry.Compensation {
	price := pricing[event]
	return func(ctx context.Context, trigger types.Trigger, cause error) error {
		var s subject
		if err := trigger.Decode(&s); err != nil {
			return err
		}
		id := s.recordID()
		if id == "" {
			return invalid("no record id in %s payload", trigger.Event)
		}

		rec, err := w.records.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("loading record %s: %w", id, err)
		}
		// the output was delivered, only the bookkeeping after it failed
		if rec.Status == types.RecordStatusCompleted {
			w.logger.Warn(ctx, "compensation skipped for completed record", "record_id", id, "trigger_id", trigger.ID, "error", cause)
			return nil
		}

		message := "workflow failed"
		if cause != nil {
			message = cause.Error()
		}

		var errs []error
		if price.Refund {
			if err := w.refund(ctx, rec, price, trigger, message); err != nil {
				errs = append(errs, err)
			}
		}

		if _, err := w.records.Fail(ctx, id, message); err != nil {
			errs = append(errs, fmt.Errorf("marking %s failed: %w", id, err))
		}

		if price.NotifyFailure {
			to, err := w.recipientOf(ctx, rec.UserID)
			if err != nil {
				w.logger.Warn(ctx, "failure notification skipped", "record_id", id, "error", err)
			} else {
				w.send(ctx, to, notify.TemplateVideoFailed, notify.Data{
					RecordID:     string(id),
					ErrorMessage: message,
				})
			}
		}

		return errors.Join(errs...)
	}
}

func (w *Workflows) refund(ctx context.Context, rec types.Record, price Pricing, trigger types.Trigger, message string) error {
	amount := rec.Cost
	if amount <= 0 {
		amount = price.Cost
	}

	entries, err := w.users.Ledger(ctx, rec.UserID)
	if err != nil {
		return fmt.Errorf("reading ledger of %s: %w", rec.UserID, err)
	}
	for _, e := range entries {
		if e.Type == types.LedgerTypeRefund && fmt.Sprint(e.Metadata["trigger_id"]) == string(trigger.ID) {
			w.logger.Info(ctx, "refund already issued", "record_id", rec.ID, "trigger_id", trigger.ID)
			return nil
		}
	}

	entry, err := w.users.ApplyCredits(ctx, rec.UserID, amount, types.LedgerTypeRefund, types.Metadata{
		"record_id":  string(rec.ID),
		"trigger_id": string(trigger.ID),
		"reason":     price.Reason,
		"error":      message,
	})
	if err != nil {
		return fmt.Errorf("refunding %d credits to %s: %w", amount, rec.UserID, err)
	}
	w.metrics.Credits(string(types.LedgerTypeRefund), amount)
	w.logger.Info(ctx, "credits refunded", "record_id", rec.ID, "user_id", rec.UserID, "amount", amount, "balance", entry.BalanceAfter)
	return nil
}
