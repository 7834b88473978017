package studioflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/davidroman0O/studioflow/internal/capability/simulated"
	"github.com/davidroman0O/studioflow/internal/engine"
	"github.com/davidroman0O/studioflow/internal/engine/registry"
	"github.com/davidroman0O/studioflow/internal/idempotency"
	"github.com/davidroman0O/studioflow/internal/metrics"
	"github.com/davidroman0O/studioflow/internal/notify"
	"github.com/davidroman0O/studioflow/internal/persistence/repository"
	"github.com/davidroman0O/studioflow/internal/records"
	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/davidroman0O/studioflow/internal/workflows"
	"github.com/sasha-s/go-deadlock"
)

// Studioflow owns the stores, the engine and the workflow catalogue.
type Studioflow struct {
	ctx    context.Context
	cancel context.CancelFunc

	repo      repository.Repository
	records   *records.Service
	workflows *workflows.Workflows
	engine    *engine.Engine
	metrics   *metrics.Metrics

	// serializes the status check and reset of Retry
	retryMu deadlock.Mutex

	logger Logger
}

func New(ctx context.Context, opts ...Option) (*Studioflow, error) {
	cfg := studioflowConfig{
		workers:     engine.DefaultWorkers,
		redisPrefix: "studioflow:trigger:",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.logger == nil {
		cfg.logger = NewDefaultLogger(LevelInfo, TextFormat)
	}

	ctx, cancel := context.WithCancel(ctx)

	var (
		repo repository.Repository
		err  error
	)
	if cfg.path != nil {
		cfg.logger.Debug(ctx, "Database got a path", "path", *cfg.path)
		if cfg.destructive {
			cfg.logger.Debug(ctx, "Destructive option triggered")
			if err := os.Remove(*cfg.path); err != nil && !os.IsNotExist(err) {
				cfg.logger.Error(ctx, "Error removing file", "error", err)
				cancel()
				return nil, err
			}
		}
		repo, err = repository.NewSQLiteRepository(ctx, repository.WithSQLitePath(*cfg.path))
	} else {
		cfg.logger.Debug(ctx, "Memory database option")
		repo, err = repository.NewMemoryRepository()
	}
	if err != nil {
		cfg.logger.Error(ctx, "Error opening database", "error", err)
		cancel()
		return nil, err
	}

	s := &Studioflow{
		ctx:     ctx,
		cancel:  cancel,
		repo:    repo,
		records: records.New(repo.Records(), cfg.logger),
		logger:  cfg.logger,
	}

	if cfg.registry != nil {
		s.metrics = metrics.New(cfg.registry)
	}

	adapters := simulated.New().Adapters()
	if cfg.adapters != nil {
		adapters = *cfg.adapters
	}

	notifier := cfg.notifier
	if notifier == nil {
		notifier = notify.Noop{Logger: cfg.logger}
	}

	var workflowOptions []types.WorkflowOption
	if cfg.retryInterval > 0 {
		workflowOptions = append(workflowOptions, types.WithWorkflowRetryInitialInterval(cfg.retryInterval))
	}
	if cfg.retryMaxInterval > 0 {
		workflowOptions = append(workflowOptions, types.WithWorkflowRetryMaximumInterval(cfg.retryMaxInterval))
	}

	if s.workflows, err = workflows.New(workflows.Config{
		Records:  s.records,
		Users:    repo.Users(),
		Adapters: adapters,
		Notifier: notifier,
		Metrics:  s.metrics,
		Logger:   cfg.logger,
		Options:  workflowOptions,
	}); err != nil {
		s.abort()
		return nil, err
	}

	var guard idempotency.Guard
	if cfg.redis != nil {
		cfg.logger.Debug(ctx, "Using redis trigger guard", "prefix", cfg.redisPrefix)
		guard = idempotency.NewRedisGuard(cfg.redis, cfg.redisPrefix, cfg.redisTTL)
	}

	engineOpts := []engine.Option{
		engine.WithWorkers(cfg.workers),
		engine.WithLogger(cfg.logger),
		engine.WithMetrics(s.metrics),
	}
	if guard != nil {
		engineOpts = append(engineOpts, engine.WithGuard(guard))
	}

	if s.engine, err = engine.New(ctx, s.workflows.Register(registry.NewBuilder()).Build(), repo, engineOpts...); err != nil {
		s.abort()
		return nil, err
	}

	resumed, err := s.engine.Resume(ctx)
	if err != nil {
		cfg.logger.Error(ctx, "Error resuming executions", "error", err)
		_ = s.Close()
		return nil, err
	}
	if resumed > 0 {
		cfg.logger.Info(ctx, "Resumed unfinished executions", "total", resumed)
	}

	return s, nil
}

func (s *Studioflow) abort() {
	s.cancel()
	if err := s.repo.Close(); err != nil {
		s.logger.Error(s.ctx, "Error closing database", "error", err)
	}
}

// CreateUser opens an account. A positive opening balance is recorded as a
// bonus entry.
func (s *Studioflow) CreateUser(ctx context.Context, user User) (User, error) {
	return s.repo.Users().Create(ctx, user)
}

func (s *Studioflow) User(ctx context.Context, id UserID) (User, error) {
	return s.repo.Users().Get(ctx, id)
}

func (s *Studioflow) Balance(ctx context.Context, id UserID) (int, error) {
	user, err := s.repo.Users().Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return user.Credits, nil
}

func (s *Studioflow) Ledger(ctx context.Context, id UserID) ([]LedgerEntry, error) {
	return s.repo.Users().Ledger(ctx, id)
}

// PurchaseCredits adds credits bought by the user.
func (s *Studioflow) PurchaseCredits(ctx context.Context, id UserID, amount int, metadata Metadata) (LedgerEntry, error) {
	if amount <= 0 {
		return LedgerEntry{}, fmt.Errorf("purchase of %d credits: %w", amount, repository.ErrInvalidInput)
	}
	entry, err := s.repo.Users().ApplyCredits(ctx, id, amount, types.LedgerTypePurchase, metadata)
	if err != nil {
		return LedgerEntry{}, err
	}
	s.metrics.Credits(string(types.LedgerTypePurchase), amount)
	return entry, nil
}

func (s *Studioflow) Record(ctx context.Context, id RecordID) (Record, error) {
	return s.repo.Records().Get(ctx, id)
}

func (s *Studioflow) Records(ctx context.Context, id UserID) ([]Record, error) {
	return s.repo.Records().ListByUser(ctx, id)
}

func (s *Studioflow) Execution(ctx context.Context, id ExecutionID) (Execution, error) {
	return s.repo.Executions().Get(ctx, id)
}

func (s *Studioflow) Attempts(ctx context.Context, id ExecutionID) ([]Attempt, error) {
	return s.repo.Executions().Attempts(ctx, id)
}

// Await blocks until the job's execution ends and returns the record as it
// was left.
func (s *Studioflow) Await(ctx context.Context, job Job) (Record, error) {
	if _, err := s.engine.Await(ctx, job.ExecutionID); err != nil {
		return Record{}, err
	}
	return s.repo.Records().Get(ctx, job.RecordID)
}

// Wait blocks until no execution is queued or running.
func (s *Studioflow) Wait() error {
	return s.engine.Wait()
}

// MetricsHandler serves the Prometheus registry given to WithMetrics, nil
// without it.
func (s *Studioflow) MetricsHandler() http.Handler {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Handler()
}

// Close stops the engine and closes the database. Executions still running
// are resumed by the next New on the same database.
func (s *Studioflow) Close() error {
	var errs []error
	s.logger.Debug(s.ctx, "Closing studioflow")
	if err := s.engine.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	s.cancel()
	if err := s.repo.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
