package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/flawtracker/internal/domain/collector"
	"github.com/ahrav/flawtracker/internal/infra/storage"
)

func TestStateStore(t *testing.T) {
	t.Parallel()

	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()
	store := NewStateStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	_, err := store.PeriodEnd(ctx, "cveorg")
	assert.ErrorIs(t, err, collector.ErrStateNotFound)

	first := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetPeriodEnd(ctx, "cveorg", first))

	got, err := store.PeriodEnd(ctx, "cveorg")
	require.NoError(t, err)
	assert.True(t, first.Equal(got))

	second := first.Add(24 * time.Hour)
	require.NoError(t, store.SetPeriodEnd(ctx, "cveorg", second))

	got, err = store.PeriodEnd(ctx, "cveorg")
	require.NoError(t, err)
	assert.True(t, second.Equal(got))
}
