package repository_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"dreamweaver-server/internal/models"
	"dreamweaver-server/internal/repository"
	"dreamweaver-server/internal/world"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileWorldStateStore(t *testing.T) {
	store, err := repository.NewFileWorldStateStore(t.TempDir(), world.NewModel(0), zap.NewNop())
	require.NoError(t, err)
	runStoreContract(t, store)
}

func TestFileWorldStateStore_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := repository.NewFileWorldStateStore(dir, world.NewModel(0), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	state, err := store.Create(ctx, "demo_world", clearingSeed)
	require.NoError(t, err)
	state.Version++
	require.NoError(t, store.Save(ctx, state))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "demo_world.world.zst", entries[0].Name())
}

func TestFileWorldStateStore_SavedStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := repository.NewFileWorldStateStore(dir, world.NewModel(0), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	state, err := store.Create(ctx, "demo_world", clearingSeed)
	require.NoError(t, err)
	state.Version++
	state.Tick = 4
	state.Characters["player:bob"] = models.Character{
		ID: "player:bob", Name: "bob", Role: models.RolePlayer, Location: state.StartRegion,
		Stats: map[models.PlayerStat]int{models.StatCourage: 55},
	}
	require.NoError(t, store.Save(ctx, state))

	reopened, err := repository.NewFileWorldStateStore(dir, world.NewModel(0), zap.NewNop())
	require.NoError(t, err)
	loaded, err := reopened.Load(ctx, "demo_world")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
	assert.Equal(t, int64(4), loaded.Tick)
	assert.Equal(t, 55, loaded.Characters["player:bob"].Stats[models.StatCourage])
}

func TestFileWorldStateStore_IgnoresInterruptedWrites(t *testing.T) {
	dir := t.TempDir()
	store, err := repository.NewFileWorldStateStore(dir, world.NewModel(0), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Create(ctx, "demo_world", clearingSeed)
	require.NoError(t, err)

	// a crash between temp write and rename leaves only a stray temp file
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo_world-123.tmp"), []byte("partial"), 0o644))

	loaded, err := store.Load(ctx, "demo_world")
	require.NoError(t, err)
	assert.Equal(t, int64(0), loaded.Version)

	worlds, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, worlds, 1)
}

func TestFileWorldStateStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := repository.NewFileWorldStateStore(dir, world.NewModel(0), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.world.zst"), []byte("not zstd"), 0o644))
	_, err = store.Load(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrNotFound)
}

func TestFileWorldStateStore_RejectsPathTraversal(t *testing.T) {
	store, err := repository.NewFileWorldStateStore(t.TempDir(), world.NewModel(0), zap.NewNop())
	require.NoError(t, err)
	_, err = store.Load(context.Background(), "../secret")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
