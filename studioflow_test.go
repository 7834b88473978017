package studioflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/davidroman0O/studioflow/internal/capability"
	"github.com/davidroman0O/studioflow/internal/capability/simulated"
	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() Logger {
	return NewDefaultLogger(LevelError, TextFormat)
}

func newStudio(t *testing.T, opts ...Option) *Studioflow {
	t.Helper()
	opts = append([]Option{
		WithMemory(),
		WithLogger(quietLogger()),
		WithRetryInterval(time.Millisecond, 5*time.Millisecond),
	}, opts...)
	s, err := New(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func await(t *testing.T, s *Studioflow, job Job) Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := s.Await(ctx, job)
	require.NoError(t, err)
	return rec
}

// gatedVideo holds video synthesis until release is closed.
type gatedVideo struct {
	capability.VideoSynthesizer
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedVideo) SynthesizeVideo(ctx context.Context, req capability.VideoRequest) (string, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return g.VideoSynthesizer.SynthesizeVideo(ctx, req)
}

func TestSubmitDebitsAndCompletes(t *testing.T) {
	s := newStudio(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, User{Email: "mina@example.com", Credits: 100})
	require.NoError(t, err)

	job, err := s.GenerateAvatar(ctx, AvatarRequest{UserID: user.ID, Name: "Mina", Style: "fashion"})
	require.NoError(t, err)

	rec := await(t, s, job)
	assert.Equal(t, types.RecordStatusCompleted, rec.Status)
	assert.Len(t, rec.PreviewImages, 4)
	assert.Equal(t, 10, rec.Cost)
	assert.Equal(t, types.EventAvatarGenerate, rec.Event)

	balance, err := s.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, balance)

	ledger, err := s.Ledger(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	assert.Equal(t, types.LedgerTypeUsage, ledger[1].Type)
	assert.Equal(t, -10, ledger[1].Amount)
	assert.Equal(t, string(rec.ID), ledger[1].Metadata["record_id"])
}

func TestInsufficientCreditsCreatesNothing(t *testing.T) {
	s := newStudio(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, User{Credits: 10})
	require.NoError(t, err)

	_, err = s.GenerateCustomAvatar(ctx, CustomAvatarRequest{UserID: user.ID, Name: "x", TrainingImages: []string{"a.jpg"}})
	require.ErrorIs(t, err, ErrInsufficientCredits)

	list, err := s.Records(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	balance, err := s.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
}

func TestUndispatchedJobIsRefundedUnderItsTrigger(t *testing.T) {
	s := newStudio(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, User{Credits: 50})
	require.NoError(t, err)
	require.NoError(t, s.engine.Shutdown())

	_, err = s.GenerateCustomAvatar(ctx, CustomAvatarRequest{UserID: user.ID, Name: "x", TrainingImages: []string{"a.jpg"}})
	require.Error(t, err)

	balance, err := s.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, balance)

	list, err := s.Records(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, RecordStatusFailed, list[0].Status)

	ledger, err := s.Ledger(ctx, user.ID)
	require.NoError(t, err)
	refund := ledger[len(ledger)-1]
	assert.Equal(t, types.LedgerTypeRefund, refund.Type)
	assert.Equal(t, "dispatch_failed", refund.Metadata["reason"])
	assert.NotEmpty(t, refund.Metadata["trigger_id"])
}

func TestInvalidRequestIsNotCharged(t *testing.T) {
	s := newStudio(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, User{Credits: 50})
	require.NoError(t, err)

	_, err = s.GenerateVideo(ctx, VideoRequest{UserID: user.ID, VideoSize: "4:3"})
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = s.GenerateHybridAvatar(ctx, HybridAvatarRequest{UserID: user.ID})
	require.ErrorIs(t, err, ErrInvalidPayload)

	balance, err := s.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, balance)
}

func TestRetryResetsAndEmitsOneTrigger(t *testing.T) {
	studio := simulated.New(simulated.WithFailures("trainer", 2))
	gate := &gatedVideo{
		VideoSynthesizer: studio,
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	adapters := studio.Adapters()
	adapters.Video = gate

	s := newStudio(t, WithWorkers(1), WithAdapters(adapters))
	ctx := context.Background()

	user, err := s.CreateUser(ctx, User{Credits: 100})
	require.NoError(t, err)

	failed, err := s.GenerateCustomAvatar(ctx, CustomAvatarRequest{UserID: user.ID, Name: "lora", TrainingImages: []string{"a.jpg", "b.jpg"}})
	require.NoError(t, err)
	rec := await(t, s, failed)
	require.Equal(t, types.RecordStatusFailed, rec.Status)
	require.NotEmpty(t, rec.ErrorMessage)

	balance, err := s.Balance(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 100, balance)

	// park the only worker so the retried job cannot start yet
	blocker, err := s.GenerateVideo(ctx, VideoRequest{UserID: user.ID, VideoSize: "1:1"})
	require.NoError(t, err)
	select {
	case <-gate.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("video job never reached synthesis")
	}

	retried, err := s.Retry(ctx, failed.RecordID)
	require.NoError(t, err)
	assert.Equal(t, failed.RecordID, retried.RecordID)
	assert.NotEqual(t, failed.TriggerID, retried.TriggerID)

	reset, err := s.Record(ctx, failed.RecordID)
	require.NoError(t, err)
	assert.Equal(t, types.RecordStatusPending, reset.Status)
	assert.Zero(t, reset.Progress)
	assert.Empty(t, reset.ErrorMessage)
	assert.Empty(t, reset.CurrentStep)
	assert.Nil(t, reset.CompletedAt)

	_, err = s.Retry(ctx, failed.RecordID)
	require.ErrorIs(t, err, ErrNotRetryable)

	original, err := s.Execution(ctx, failed.ExecutionID)
	require.NoError(t, err)
	again, err := s.Execution(ctx, retried.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, original.Trigger.Event, again.Trigger.Event)
	assert.Equal(t, original.Trigger.Payload, again.Trigger.Payload)
	assert.Equal(t, retried.TriggerID, again.Trigger.ID)

	balance, err = s.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, balance)

	close(gate.release)
	assert.Equal(t, types.RecordStatusCompleted, await(t, s, blocker).Status)
	done := await(t, s, retried)
	assert.Equal(t, types.RecordStatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)

	balance, err = s.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, balance)
}

func TestRetryRejectsUnfailedRecords(t *testing.T) {
	s := newStudio(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, User{Credits: 100})
	require.NoError(t, err)
	job, err := s.GenerateHybridAvatar(ctx, HybridAvatarRequest{
		UserID:     user.ID,
		References: []BodyPartReference{{Part: "body", ImageURL: "b.jpg", Weight: 0.7}},
	})
	require.NoError(t, err)
	await(t, s, job)

	_, err = s.Retry(ctx, job.RecordID)
	require.ErrorIs(t, err, ErrNotRetryable)

	_, err = s.Retry(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPurchaseCredits(t *testing.T) {
	s := newStudio(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, User{})
	require.NoError(t, err)

	entry, err := s.PurchaseCredits(ctx, user.ID, 40, Metadata{"order": "o-1"})
	require.NoError(t, err)
	assert.Equal(t, 40, entry.BalanceAfter)
	assert.Equal(t, types.LedgerTypePurchase, entry.Type)

	_, err = s.PurchaseCredits(ctx, user.ID, 0, nil)
	require.Error(t, err)
}

func TestSQLiteSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studio.db")
	ctx := context.Background()

	s, err := New(ctx, WithSQLite(path), WithLogger(quietLogger()), WithRetryInterval(time.Millisecond, time.Millisecond))
	require.NoError(t, err)
	user, err := s.CreateUser(ctx, User{Email: "mina@example.com", Credits: 70})
	require.NoError(t, err)
	job, err := s.TransferVideo(ctx, TransferRequest{
		UserID:         user.ID,
		SourceVideoURL: "https://example.test/src.mp4",
		AvatarID:       "avatar-1",
		Products:       []ProductRef{{ID: "p", Name: "linen shirt"}},
	})
	require.NoError(t, err)
	// the avatar does not exist so the transfer fails and is refunded
	rec := await(t, s, job)
	assert.Equal(t, types.RecordStatusFailed, rec.Status)
	require.NoError(t, s.Close())

	s, err = New(ctx, WithSQLite(path), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer s.Close()

	balance, err := s.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, balance)

	exec, err := s.Execution(ctx, job.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionStatusFailed, exec.Status)
	assert.True(t, exec.Compensated)
	assert.Equal(t, 2, exec.Attempt)
}

func TestMetricsHandler(t *testing.T) {
	assert.Nil(t, newStudio(t).MetricsHandler())

	s := newStudio(t, WithMetrics(prometheus.NewRegistry()))
	ctx := context.Background()

	user, err := s.CreateUser(ctx, User{Credits: 20})
	require.NoError(t, err)
	job, err := s.GenerateVideo(ctx, VideoRequest{UserID: user.ID, VideoSize: "16:9"})
	require.NoError(t, err)
	await(t, s, job)

	rr := httptest.NewRecorder()
	s.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `studioflow_executions_total{status="succeeded",workflow="generate-video"} 1`)
	assert.Contains(t, rr.Body.String(), "studioflow_step_duration_seconds")
}
