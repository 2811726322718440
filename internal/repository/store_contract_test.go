package repository_test

import (
	"context"
	"sync"
	"testing"

	"dreamweaver-server/internal/models"
	"dreamweaver-server/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clearingSeed = models.Seed{
	Description: "demo",
	Regions:     []models.Region{{ID: "clearing", Name: "Clearing"}},
}

// runStoreContract exercises the behaviour every WorldStateStore must share.
func runStoreContract(t *testing.T, store repository.WorldStateStore) {
	ctx := context.Background()

	t.Run("load missing world", func(t *testing.T) {
		_, err := store.Load(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("create then load", func(t *testing.T) {
		created, err := store.Create(ctx, "demo_world", clearingSeed)
		require.NoError(t, err)
		assert.Equal(t, int64(0), created.Version)

		loaded, err := store.Load(ctx, "demo_world")
		require.NoError(t, err)
		assert.Equal(t, int64(0), loaded.Version)
		assert.Equal(t, "Clearing", loaded.Regions["clearing"].Name)
		assert.NotNil(t, loaded.Characters)
		assert.NotNil(t, loaded.TurnLog)
	})

	t.Run("create twice fails", func(t *testing.T) {
		_, err := store.Create(ctx, "demo_world", clearingSeed)
		assert.ErrorIs(t, err, models.ErrAlreadyExists)
	})

	t.Run("save requires next version", func(t *testing.T) {
		state, err := store.Load(ctx, "demo_world")
		require.NoError(t, err)

		stale := state.Clone()
		stale.Version = state.Version + 2
		assert.ErrorIs(t, store.Save(ctx, stale), models.ErrVersionConflict)

		same := state.Clone()
		assert.ErrorIs(t, store.Save(ctx, same), models.ErrVersionConflict)

		next := state.Clone()
		next.Version++
		next.Metrics.Chaos = 55
		require.NoError(t, store.Save(ctx, next))

		loaded, err := store.Load(ctx, "demo_world")
		require.NoError(t, err)
		assert.Equal(t, int64(1), loaded.Version)
		assert.Equal(t, 55.0, loaded.Metrics.Chaos)

		// a second writer holding the old snapshot loses
		lost := state.Clone()
		lost.Version++
		lost.Metrics.Chaos = 1
		assert.ErrorIs(t, store.Save(ctx, lost), models.ErrVersionConflict)

		loaded, err = store.Load(ctx, "demo_world")
		require.NoError(t, err)
		assert.Equal(t, 55.0, loaded.Metrics.Chaos, "conflicting save must not modify persisted data")
	})

	t.Run("save of unknown world", func(t *testing.T) {
		ghost := &models.WorldState{ID: "ghost", Version: 1}
		assert.ErrorIs(t, store.Save(ctx, ghost), models.ErrNotFound)
	})

	t.Run("concurrent saves of the same version", func(t *testing.T) {
		_, err := store.Create(ctx, "race", clearingSeed)
		require.NoError(t, err)
		base, err := store.Load(ctx, "race")
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				next := base.Clone()
				next.Version++
				if store.Save(ctx, next) == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, successes)
	})

	t.Run("list", func(t *testing.T) {
		worlds, err := store.List(ctx)
		require.NoError(t, err)
		ids := make([]string, 0, len(worlds))
		for _, w := range worlds {
			ids = append(ids, w.ID)
		}
		assert.Equal(t, []string{"demo_world", "race"}, ids)
	})
}
