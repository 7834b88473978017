package records

import (
	"context"
	"testing"

	"github.com/davidroman0O/studioflow/internal/persistence/repository"
	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/davidroman0O/studioflow/pkg/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Service, types.Record) {
	t.Helper()
	repo, err := repository.NewMemoryRepository()
	require.NoError(t, err)
	rec, err := repo.Records().Create(context.Background(), types.Record{Kind: types.RecordKindAvatar, UserID: "u1"})
	require.NoError(t, err)
	return New(repo.Records(), logs.Discard()), rec
}

func TestLifecycleHappyPath(t *testing.T) {
	ctx := context.Background()
	svc, rec := setup(t)

	got, err := svc.Start(ctx, rec.ID, "Fetching avatar", 10, nil)
	require.NoError(t, err)
	assert.Equal(t, types.RecordStatusProcessing, got.Status)

	// re-entering processing on a new attempt is allowed
	_, err = svc.Start(ctx, rec.ID, "Fetching avatar", 10, nil)
	require.NoError(t, err)

	got, err = svc.Progress(ctx, rec.ID, "Generating images", 60, types.Metadata{"style": "fashion"})
	require.NoError(t, err)
	assert.Equal(t, 60, got.Progress)

	got, err = svc.Complete(ctx, rec.ID, types.Patch{PreviewImages: []string{"1.png"}})
	require.NoError(t, err)
	assert.Equal(t, types.RecordStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "fashion", got.Metadata["style"])

	_, err = svc.Start(ctx, rec.ID, "again", 0, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, types.IsPermanent(err))

	_, err = svc.Fail(ctx, rec.ID, "late failure")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFailAndReset(t *testing.T) {
	ctx := context.Background()
	svc, rec := setup(t)

	_, err := svc.Reset(ctx, rec.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Start(ctx, rec.ID, "Quality check", 50, nil)
	require.NoError(t, err)

	got, err := svc.Fail(ctx, rec.ID, "Quality check failed - will retry")
	require.NoError(t, err)
	assert.Equal(t, types.RecordStatusFailed, got.Status)
	assert.Equal(t, "Quality check failed - will retry", got.ErrorMessage)
	assert.Equal(t, 50, got.Progress)

	again, err := svc.Fail(ctx, rec.ID, "second message")
	require.NoError(t, err)
	assert.Equal(t, "Quality check failed - will retry", again.ErrorMessage)

	got, err = svc.Reset(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RecordStatusPending, got.Status)
	assert.Zero(t, got.Progress)
	assert.Empty(t, got.ErrorMessage)
	assert.Empty(t, got.CurrentStep)
}

func TestProgressRange(t *testing.T) {
	svc, rec := setup(t)
	_, err := svc.Progress(context.Background(), rec.ID, "x", 101, nil)
	require.Error(t, err)
	assert.True(t, types.IsPermanent(err))
}
