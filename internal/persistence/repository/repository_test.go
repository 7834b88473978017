package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepositories(t *testing.T) map[string]Repository {
	t.Helper()

	memory, err := NewMemoryRepository()
	require.NoError(t, err)

	sqlite, err := NewSQLiteRepository(context.Background(), WithSQLitePath(filepath.Join(t.TempDir(), "studioflow.db")))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, memory.Close())
		assert.NoError(t, sqlite.Close())
	})

	return map[string]Repository{
		"memory": memory,
		"sqlite": sqlite,
	}
}

func TestUsersAndLedger(t *testing.T) {
	for name, repo := range setupRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			user, err := repo.Users().Create(ctx, types.User{Email: "mina@example.com", Credits: 50})
			require.NoError(t, err)
			assert.NotEmpty(t, user.ID)
			assert.Equal(t, types.LanguageEnglish, user.Language)

			_, err = repo.Users().Create(ctx, types.User{ID: user.ID})
			require.ErrorIs(t, err, ErrAlreadyExists)

			debit, err := repo.Users().ApplyCredits(ctx, user.ID, -20, types.LedgerTypeUsage, types.Metadata{"record_id": "r1"})
			require.NoError(t, err)
			assert.Equal(t, 30, debit.BalanceAfter)
			assert.Equal(t, -20, debit.Amount)

			_, err = repo.Users().ApplyCredits(ctx, user.ID, -31, types.LedgerTypeUsage, nil)
			require.ErrorIs(t, err, ErrInsufficientCredits)

			refund, err := repo.Users().ApplyCredits(ctx, user.ID, 20, types.LedgerTypeRefund, types.Metadata{"record_id": "r1"})
			require.NoError(t, err)
			assert.Equal(t, 50, refund.BalanceAfter)

			_, err = repo.Users().ApplyCredits(ctx, user.ID, 0, types.LedgerTypeUsage, nil)
			require.ErrorIs(t, err, ErrInvalidInput)

			_, err = repo.Users().ApplyCredits(ctx, "missing", 5, types.LedgerTypeBonus, nil)
			require.ErrorIs(t, err, ErrNotFound)

			stored, err := repo.Users().Get(ctx, user.ID)
			require.NoError(t, err)
			assert.Equal(t, 50, stored.Credits)

			entries, err := repo.Users().Ledger(ctx, user.ID)
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, types.LedgerTypeBonus, entries[0].Type)
			assert.Equal(t, types.LedgerTypeUsage, entries[1].Type)
			assert.Equal(t, types.LedgerTypeRefund, entries[2].Type)
			assert.Equal(t, "r1", entries[2].Metadata["record_id"])

			sum := 0
			for _, e := range entries {
				sum += e.Amount
			}
			assert.Equal(t, stored.Credits, sum)
		})
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	for name, repo := range setupRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user, err := repo.Users().Create(ctx, types.User{Credits: 100})
			require.NoError(t, err)

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				success int
			)
			for i := 0; i < 12; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := repo.Users().ApplyCredits(ctx, user.ID, -20, types.LedgerTypeUsage, nil); err == nil {
						mu.Lock()
						success++
						mu.Unlock()
					} else {
						assert.ErrorIs(t, err, ErrInsufficientCredits)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 5, success)
			stored, err := repo.Users().Get(ctx, user.ID)
			require.NoError(t, err)
			assert.Zero(t, stored.Credits)
		})
	}
}

func TestRecords(t *testing.T) {
	for name, repo := range setupRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user, err := repo.Users().Create(ctx, types.User{})
			require.NoError(t, err)

			rec, err := repo.Records().Create(ctx, types.Record{
				Kind:    types.RecordKindVideo,
				UserID:  user.ID,
				Name:    "summer lookbook",
				Event:   types.EventVideoGenerate,
				Payload: []byte(`{"jobId":"x"}`),
				Cost:    20,
			})
			require.NoError(t, err)
			assert.Equal(t, types.RecordStatusPending, rec.Status)

			updated, err := repo.Records().Update(ctx, rec.ID, types.Patch{
				Status:      types.Ptr(types.RecordStatusProcessing),
				Progress:    types.Ptr(30),
				CurrentStep: types.Ptr("Generating scene image"),
				Metadata:    types.Metadata{"prompt": "a runway"},
			})
			require.NoError(t, err)
			assert.Equal(t, 30, updated.Progress)

			updated, err = repo.Records().Update(ctx, rec.ID, types.Patch{
				Metadata:      types.Metadata{"quality_score": 95},
				PreviewImages: []string{"a.png", "b.png"},
			})
			require.NoError(t, err)

			got, err := repo.Records().Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, types.RecordStatusProcessing, got.Status)
			assert.Equal(t, "Generating scene image", got.CurrentStep)
			assert.Equal(t, "a runway", got.Metadata["prompt"])
			assert.EqualValues(t, 95, got.Metadata["quality_score"])
			assert.Equal(t, []string{"a.png", "b.png"}, got.PreviewImages)
			assert.Equal(t, `{"jobId":"x"}`, string(got.Payload))
			assert.Equal(t, 20, got.Cost)

			list, err := repo.Records().ListByUser(ctx, user.ID)
			require.NoError(t, err)
			require.Len(t, list, 1)

			_, err = repo.Records().Update(ctx, "missing", types.Patch{})
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, repo.Records().Delete(ctx, rec.ID))
			_, err = repo.Records().Get(ctx, rec.ID)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestExecutionsAndCheckpoints(t *testing.T) {
	for name, repo := range setupRepositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			trigger, err := types.NewTrigger(types.EventAvatarGenerate, map[string]string{"avatarId": "a1"})
			require.NoError(t, err)

			exec, err := repo.Executions().Create(ctx, types.Execution{Workflow: "generate-avatar", Trigger: trigger})
			require.NoError(t, err)
			assert.NotEqual(t, types.NoExecutionID, exec.ID)
			assert.Equal(t, types.ExecutionStatusPending, exec.Status)

			_, err = repo.Executions().Create(ctx, types.Execution{Workflow: "generate-avatar", Trigger: trigger})
			require.ErrorIs(t, err, ErrAlreadyExists)

			exec.Status = types.ExecutionStatusRunning
			exec.Attempt = 1
			require.NoError(t, repo.Executions().Update(ctx, exec))

			unfinished, err := repo.Executions().ListUnfinished(ctx)
			require.NoError(t, err)
			require.Len(t, unfinished, 1)
			assert.Equal(t, trigger.ID, unfinished[0].Trigger.ID)
			assert.Equal(t, trigger.Payload, unfinished[0].Trigger.Payload)

			attempt, err := repo.Executions().CreateAttempt(ctx, types.Attempt{ExecutionID: exec.ID, Number: 1, Status: types.AttemptStatusRunning})
			require.NoError(t, err)
			require.NoError(t, repo.Executions().FinishAttempt(ctx, attempt.ID, types.AttemptStatusFailed, "boom"))

			require.NoError(t, repo.Checkpoints().Save(ctx, types.Checkpoint{ExecutionID: exec.ID, Attempt: 1, Step: "fetch-avatar", Output: []byte{1}}))
			require.NoError(t, repo.Checkpoints().Save(ctx, types.Checkpoint{ExecutionID: exec.ID, Attempt: 1, Step: "generate-images", Output: []byte{2}}))
			require.NoError(t, repo.Checkpoints().Save(ctx, types.Checkpoint{ExecutionID: exec.ID, Attempt: 2, Step: "fetch-avatar", Output: []byte{3}}))

			cp, err := repo.Checkpoints().Get(ctx, exec.ID, 1, "generate-images")
			require.NoError(t, err)
			assert.Equal(t, []byte{2}, cp.Output)

			_, err = repo.Checkpoints().Get(ctx, exec.ID, 2, "generate-images")
			require.ErrorIs(t, err, ErrNotFound)

			list, err := repo.Checkpoints().List(ctx, exec.ID, 1)
			require.NoError(t, err)
			assert.Len(t, list, 2)

			exec.Status = types.ExecutionStatusFailed
			exec.Compensated = true
			exec.Error = "boom"
			require.NoError(t, repo.Executions().Update(ctx, exec))

			got, err := repo.Executions().Get(ctx, exec.ID)
			require.NoError(t, err)
			assert.True(t, got.Compensated)
			assert.Equal(t, "boom", got.Error)

			attempts, err := repo.Executions().Attempts(ctx, exec.ID)
			require.NoError(t, err)
			require.Len(t, attempts, 1)
			assert.Equal(t, types.AttemptStatusFailed, attempts[0].Status)
			assert.NotNil(t, attempts[0].EndedAt)

			unfinished, err = repo.Executions().ListUnfinished(ctx)
			require.NoError(t, err)
			assert.Empty(t, unfinished)
		})
	}
}
