package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/types"
)

func effectivenessStores(t *testing.T) map[string]EffectivenessStore {
	t.Helper()

	sqlStore, err := NewSQLEffectivenessStore(context.Background(), "sqlite",
		filepath.Join(t.TempDir(), "effectiveness.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })

	return map[string]EffectivenessStore{
		"memory": NewMemoryEffectivenessStore(),
		"sqlite": sqlStore,
	}
}

func TestEffectivenessStore_CompareAndSwap(t *testing.T) {
	key := types.EffectivenessKey{ConflictType: types.ConflictSignalFailure, Strategy: types.StrategyReroute}

	for name, store := range effectivenessStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, key)
			assert.ErrorIs(t, err, adverrors.ErrNotFound)

			first, err := store.CompareAndSwap(ctx, key, 0, 0.82)
			require.NoError(t, err)
			assert.Equal(t, int64(1), first.Version)
			assert.Equal(t, int64(1), first.Samples)

			// a second creator loses
			_, err = store.CompareAndSwap(ctx, key, 0, 0.5)
			assert.ErrorIs(t, err, adverrors.ErrVersionConflict)

			second, err := store.CompareAndSwap(ctx, key, 1, 0.84)
			require.NoError(t, err)
			assert.Equal(t, int64(2), second.Version)
			assert.Equal(t, int64(2), second.Samples)

			// stale version
			_, err = store.CompareAndSwap(ctx, key, 1, 0.1)
			assert.ErrorIs(t, err, adverrors.ErrVersionConflict)

			got, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.InDelta(t, 0.84, got.Value, 1e-9)
			assert.Equal(t, int64(2), got.Version)

			_, err = store.CompareAndSwap(ctx, key, 2, 1.5)
			assert.True(t, adverrors.IsValidationError(err))
		})
	}
}

func TestEffectivenessStore_Snapshot(t *testing.T) {
	for name, store := range effectivenessStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			hold := types.EffectivenessKey{ConflictType: types.ConflictCrewShortage, Strategy: types.StrategyHold}
			cancel := types.EffectivenessKey{ConflictType: types.ConflictCrewShortage, Strategy: types.StrategyCancellation}

			_, err := store.CompareAndSwap(ctx, hold, 0, 0.45)
			require.NoError(t, err)
			_, err = store.CompareAndSwap(ctx, cancel, 0, 0.91)
			require.NoError(t, err)

			snap, err := store.Snapshot(ctx)
			require.NoError(t, err)
			assert.Len(t, snap, 2)
			assert.InDelta(t, 0.45, snap[hold], 1e-9)
			assert.InDelta(t, 0.91, snap[cancel], 1e-9)

			// the snapshot does not follow later writes
			_, err = store.CompareAndSwap(ctx, hold, 1, 0.5)
			require.NoError(t, err)
			assert.InDelta(t, 0.45, snap[hold], 1e-9)
		})
	}
}

func TestEffectivenessStore_ConcurrentWriters(t *testing.T) {
	key := types.EffectivenessKey{ConflictType: types.ConflictTrack, Strategy: types.StrategyDelay}

	for name, store := range effectivenessStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.CompareAndSwap(ctx, key, 0, 0.5)
			require.NoError(t, err)

			const writers = 8
			var wg sync.WaitGroup
			var mu sync.Mutex
			wins := 0
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := store.CompareAndSwap(ctx, key, 1, 0.6); err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					} else {
						assert.ErrorIs(t, err, adverrors.ErrVersionConflict)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, wins)
			got, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, int64(2), got.Version)
		})
	}
}

func TestSQLEffectivenessStore_Rebind(t *testing.T) {
	pg := &SQLEffectivenessStore{dialect: "postgres"}
	assert.Equal(t, "UPDATE t SET a = $1 WHERE b = $2", pg.rebind("UPDATE t SET a = ? WHERE b = ?"))

	lite := &SQLEffectivenessStore{dialect: "sqlite3"}
	assert.Equal(t, "SELECT ? ", lite.rebind("SELECT ? "))
}

func TestSQLEffectivenessStore_UnsupportedDriver(t *testing.T) {
	_, err := NewSQLEffectivenessStore(context.Background(), "oracle", "x", nil)
	assert.ErrorIs(t, err, adverrors.ErrConfiguration)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Contains(t, sqliteDSN("/tmp/a.db"), "_journal_mode=WAL")
	assert.Equal(t, "file:a.db?mode=memory", sqliteDSN("file:a.db?mode=memory"))
}
