package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbotransfer/host/internal/database"
	"github.com/turbotransfer/host/internal/model"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Connect("sqlite://" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func entry(name string, size int64, dir model.Direction, status model.TransferStatus) model.AnalyticsEntry {
	return model.AnalyticsEntry{
		Timestamp: time.Now(),
		Device:    "iPhone",
		Filename:  name,
		Size:      size,
		Direction: dir,
		Status:    status,
	}
}

func TestAnalyticsRepository_Create(t *testing.T) {
	repo := NewAnalyticsRepository(setupTestDB(t).DB)
	ctx := context.Background()

	created, err := repo.Create(ctx, entry("report.pdf", 10485760, model.DirectionReceived, model.TransferStatusSuccess))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "report.pdf", created.Filename)
}

func TestAnalyticsRepository_FindRecent(t *testing.T) {
	repo := NewAnalyticsRepository(setupTestDB(t).DB)
	ctx := context.Background()

	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		_, err := repo.Create(ctx, entry(name, 1, model.DirectionSent, model.TransferStatusSuccess))
		require.NoError(t, err)
	}

	t.Run("returns most recent entries oldest first", func(t *testing.T) {
		entries, err := repo.FindRecent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "c.txt", entries[0].Filename)
		assert.Equal(t, "d.txt", entries[1].Filename)
	})

	t.Run("returns everything when limit exceeds count", func(t *testing.T) {
		entries, err := repo.FindRecent(ctx, 100)
		require.NoError(t, err)
		require.Len(t, entries, 4)
		assert.Equal(t, "a.txt", entries[0].Filename)
	})
}

func TestAnalyticsRepository_Stats(t *testing.T) {
	repo := NewAnalyticsRepository(setupTestDB(t).DB)
	ctx := context.Background()

	t.Run("empty history has zero stats", func(t *testing.T) {
		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.AnalyticsStats{}, stats)
	})

	_, err := repo.Create(ctx, entry("a", 100, model.DirectionSent, model.TransferStatusSuccess))
	require.NoError(t, err)
	_, err = repo.Create(ctx, entry("b", 40, model.DirectionReceived, model.TransferStatusSuccess))
	require.NoError(t, err)
	_, err = repo.Create(ctx, entry("c", 7, model.DirectionReceived, model.TransferStatusFailed))
	require.NoError(t, err)

	t.Run("sums successful sizes per direction", func(t *testing.T) {
		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(100), stats.TotalSent)
		assert.Equal(t, int64(40), stats.TotalReceived)
		assert.Equal(t, int64(3), stats.Count)
	})

	t.Run("DeleteAll clears history", func(t *testing.T) {
		n, err := repo.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Count)
	})
}

func TestBlocklistRepository(t *testing.T) {
	repo := NewBlocklistRepository(setupTestDB(t).DB)
	ctx := context.Background()

	t.Run("returns nil for unknown fingerprint", func(t *testing.T) {
		device, err := repo.FindByFingerprint(ctx, "unknown")
		require.NoError(t, err)
		assert.Nil(t, device)
	})

	t.Run("adds and finds device", func(t *testing.T) {
		require.NoError(t, repo.Add(ctx, model.BlockedDevice{
			Fingerprint: "fp-1",
			DeviceName:  "iPhone",
			BlockedAt:   time.Now(),
		}))

		device, err := repo.FindByFingerprint(ctx, "fp-1")
		require.NoError(t, err)
		require.NotNil(t, device)
		assert.Equal(t, "iPhone", device.DeviceName)
	})

	t.Run("re-adding updates the existing row", func(t *testing.T) {
		require.NoError(t, repo.Add(ctx, model.BlockedDevice{
			Fingerprint: "fp-1",
			DeviceName:  "Android Device",
			BlockedAt:   time.Now(),
		}))

		devices, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "Android Device", devices[0].DeviceName)
	})

	t.Run("deletes device", func(t *testing.T) {
		removed, err := repo.Delete(ctx, "fp-1")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = repo.Delete(ctx, "fp-1")
		require.NoError(t, err)
		assert.False(t, removed)
	})
}
