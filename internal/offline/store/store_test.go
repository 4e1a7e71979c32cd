package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/medflow/medtrack/internal/offline/store"
	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 2, 3, 14, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "offline.db"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCache(t *testing.T, s *store.Store) {
	t.Helper()
	require.NoError(t, s.ReplaceCache(context.Background(), []*domain.Medication{
		{ID: "m-ibu", Name: "ibuprofen", Strength: "200 mg", CurrentStock: 12},
		{ID: "m-amox", Name: "Amoxicillin", Strength: "500 mg", CurrentStock: 2},
	}, now))
}

func intent(id, medicationID string, qty int) *domain.PendingIntent {
	return &domain.PendingIntent{
		ID:         id,
		Request:    domain.DispenseRequest{MedicationID: medicationID, Quantity: qty, PatientID: "Jane Doe", ClientRef: id},
		EnqueuedAt: now,
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.db")
	ctx := context.Background()

	s, err := store.Open(ctx, path, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, s.SetLastSync(ctx, now))
	require.NoError(t, s.Close())

	s, err = store.Open(ctx, path, logger.Nop())
	require.NoError(t, err)
	defer s.Close()

	last, err := s.LastSync(ctx)
	require.NoError(t, err)
	assert.True(t, now.Equal(last))
}

func TestCache(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seedCache(t, s)

	meds, err := s.CachedMedications(ctx)
	require.NoError(t, err)
	require.Len(t, meds, 2)
	assert.Equal(t, "Amoxicillin", meds[0].Name)
	assert.Equal(t, 12, meds[1].CurrentStock)
	assert.True(t, meds[1].IsAvailable)

	require.NoError(t, s.SetCachedStock(ctx, "m-amox", -4, now))
	med, err := s.CachedMedication(ctx, "m-amox")
	require.NoError(t, err)
	assert.Zero(t, med.CurrentStock)
	assert.False(t, med.IsAvailable)

	_, err = s.CachedMedication(ctx, "m-none")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Error(t, s.SetCachedStock(ctx, "m-none", 1, now))

	require.NoError(t, s.ReplaceCache(ctx, []*domain.Medication{{ID: "m-new", Name: "Cetirizine"}}, now))
	meds, err = s.CachedMedications(ctx)
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, "m-new", meds[0].ID)
}

func TestQueueIntent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seedCache(t, s)

	t.Run("decrements cached stock and appends", func(t *testing.T) {
		require.NoError(t, s.QueueIntent(ctx, intent("i-1", "m-ibu", 3)))

		med, err := s.CachedMedication(ctx, "m-ibu")
		require.NoError(t, err)
		assert.Equal(t, 9, med.CurrentStock)

		n, err := s.CountPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("clamps at zero", func(t *testing.T) {
		require.NoError(t, s.QueueIntent(ctx, intent("i-2", "m-amox", 5)))

		med, err := s.CachedMedication(ctx, "m-amox")
		require.NoError(t, err)
		assert.Zero(t, med.CurrentStock)
	})

	t.Run("uncached medication queues nothing", func(t *testing.T) {
		err := s.QueueIntent(ctx, intent("i-3", "m-none", 1))
		assert.True(t, errors.Is(err, errors.ErrNotFound))

		n, err := s.CountPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("duplicate id rolls back the decrement", func(t *testing.T) {
		assert.Error(t, s.QueueIntent(ctx, intent("i-1", "m-ibu", 4)))

		med, err := s.CachedMedication(ctx, "m-ibu")
		require.NoError(t, err)
		assert.Equal(t, 9, med.CurrentStock)
	})

	t.Run("lists in enqueue order with payload", func(t *testing.T) {
		require.NoError(t, s.QueueIntent(ctx, intent("i-0", "m-ibu", 1)))

		intents, err := s.PendingIntents(ctx)
		require.NoError(t, err)
		require.Len(t, intents, 3)
		assert.Equal(t, []string{"i-1", "i-2", "i-0"}, []string{intents[0].ID, intents[1].ID, intents[2].ID})
		assert.Equal(t, "Jane Doe", intents[0].Request.PatientID)
		assert.Equal(t, domain.IntentQueued, intents[0].Status)
		assert.True(t, now.Equal(intents[0].EnqueuedAt))

		pending, err := s.PendingQuantities(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"m-ibu": 4, "m-amox": 5}, pending)
	})
}

func TestIntentLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	seedCache(t, s)
	require.NoError(t, s.QueueIntent(ctx, intent("i-1", "m-ibu", 2)))

	require.NoError(t, s.MarkSyncing(ctx, "i-1"))
	require.NoError(t, s.MarkFailed(ctx, "i-1", "network unreachable"))
	require.NoError(t, s.MarkFailed(ctx, "i-1", "insufficient stock"))

	intents, err := s.PendingIntents(ctx)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, domain.IntentFailed, intents[0].Status)
	assert.Equal(t, 2, intents[0].Attempts)
	assert.Equal(t, "insufficient stock", intents[0].LastError)

	require.NoError(t, s.RemoveIntent(ctx, "i-1"))
	assert.Error(t, s.RemoveIntent(ctx, "i-1"))
	assert.Error(t, s.MarkSyncing(ctx, "i-1"))

	n, err := s.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLastSyncDefaultsToZero(t *testing.T) {
	s := openStore(t)
	last, err := s.LastSync(context.Background())
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}
