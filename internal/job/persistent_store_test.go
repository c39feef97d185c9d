package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapcollect/collector/internal/db"
)

func newPersistentStore(t *testing.T) *PersistentStore {
	t.Helper()
	dbStore, err := db.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { dbStore.Close() })
	return NewPersistentStore(dbStore)
}

func TestPersistentStore_AddAndGet(t *testing.T) {
	store := newPersistentStore(t)
	j := New("gd_123", 10)
	j.SnapshotID = "s_abc"

	require.NoError(t, store.Add(j))

	got, err := store.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, "s_abc", got.SnapshotID)
	assert.Equal(t, StatePending, got.State)
}

func TestPersistentStore_GetNotFound(t *testing.T) {
	store := newPersistentStore(t)

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersistentStore_UpdateAndStats(t *testing.T) {
	store := newPersistentStore(t)
	j1 := New("gd_1", 10)
	j2 := New("gd_1", 10)
	require.NoError(t, store.Add(j1))
	require.NoError(t, store.Add(j2))

	j1.Finish(StateCompleted, "")
	j1.OutputPath = "output/results-x.json"
	require.NoError(t, store.Update(j1))

	got, err := store.Get(j1.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
	assert.Equal(t, "output/results-x.json", got.OutputPath)
	require.NotNil(t, got.CompletedAt)

	stats := store.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByState[StateCompleted])

	jobs, total := store.List(10, 0, string(StatePending))
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, j2.ID, jobs[0].ID)
}

func TestPersistentStore_UpdateUnknown(t *testing.T) {
	store := newPersistentStore(t)

	assert.ErrorIs(t, store.Update(New("gd_1", 1)), ErrNotFound)
}

func TestPersistentStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	dbStore, err := db.NewStore(dir)
	require.NoError(t, err)
	j := New("gd_1", 10)
	require.NoError(t, NewPersistentStore(dbStore).Add(j))
	require.NoError(t, dbStore.Close())

	reopened, err := db.NewStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := NewPersistentStore(reopened).Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
}
