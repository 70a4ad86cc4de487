package task

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	tk := New("add rate limiting", Repository{URL: "https://example.com/owner/repo.git"}, "", "")

	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, StageRequirementsAnalysis, tk.Stage)
	assert.Equal(t, AgentPrimary, tk.AgentKind)
	assert.Equal(t, PriorityMedium, tk.Priority)
	assert.False(t, tk.CreatedAt.IsZero())
}

func TestSetStage_RecordsChange(t *testing.T) {
	tk := New("desc", Repository{URL: "u"}, AgentPrimary, PriorityLow)

	tk.SetStage(StageImplementationPlanning)
	tk.SetStage(StageFailed)

	require.Len(t, tk.StageChanges, 2)
	assert.Equal(t, StageRequirementsAnalysis, tk.StageChanges[0].From)
	assert.Equal(t, StageImplementationPlanning, tk.StageChanges[0].To)
	assert.Equal(t, StageFailed, tk.Stage)
	require.NotNil(t, tk.CompletedAt, "terminal stage sets CompletedAt")
}

func TestStage_Predicates(t *testing.T) {
	assert.True(t, StageCompleted.Terminal())
	assert.True(t, StageFailed.Terminal())
	assert.True(t, StageCancelled.Terminal())
	assert.False(t, StageTesting.Terminal())

	assert.True(t, StageAwaitingClarification.Waiting())
	assert.True(t, StageAwaitingVerification.Waiting())
	assert.True(t, StageAwaitingReview.Waiting())
	assert.False(t, StageImplementation.Waiting())
}

func TestMemStore_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	tk := New("desc", Repository{URL: "u"}, AgentPrimary, PriorityMedium)

	require.NoError(t, store.Create(ctx, tk))
	assert.ErrorIs(t, store.Create(ctx, tk), ErrConflict)

	got, err := store.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)

	_, err = store.Get(ctx, "t-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	updated, err := store.Update(ctx, tk.ID, func(t *Task) error {
		t.SetStage(StageImplementationPlanning)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StageImplementationPlanning, updated.Stage)

	// Mutations are not visible until Update persists them.
	got, err = store.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, StageImplementationPlanning, got.Stage)
}

func TestMemStore_UpdateSerialized(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	tk := New("desc", Repository{URL: "u"}, AgentPrimary, PriorityMedium)
	require.NoError(t, store.Create(ctx, tk))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, tk.ID, func(t *Task) error {
				t.Context.ReviewRounds++
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Context.ReviewRounds, "updates must apply in some serial order")
}

func TestLocks(t *testing.T) {
	locks := NewLocks()

	require.True(t, locks.TryAcquire("t-1"))
	assert.False(t, locks.TryAcquire("t-1"))
	assert.True(t, locks.TryAcquire("t-2"), "locks are per task")

	locks.Release("t-1")
	assert.True(t, locks.TryAcquire("t-1"))
}

func TestKVStoreErrorClassifiers(t *testing.T) {
	assert.False(t, isNotFound(nil))
	assert.False(t, isWrongRevision(nil))
	assert.False(t, isAlreadyExists(nil))
}
