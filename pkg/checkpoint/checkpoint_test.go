package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	errs "blocktally/pkg/errors"
	"blocktally/pkg/logger"
	"blocktally/pkg/tally"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "progress.json")
	return NewStore(path, logger.NewTestLogger()), path
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	cp, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, cp.Processed)
	assert.Empty(t, cp.Aggregate)
	assert.False(t, store.Exists())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store, path := newTestStore(t)

	cp := Empty().
		Next("/world/r.0.0.mca", tally.Aggregate{"stone": 10}).
		Next("/world/r.0.1.mca", tally.Aggregate{"stone": 5, "dirt": 2})
	require.NoError(t, store.Save(cp))
	assert.True(t, store.Exists())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"/world/r.0.0.mca", "/world/r.0.1.mca"}, loaded.Processed)
	assert.Equal(t, tally.Aggregate{"stone": 15, "dirt": 2}, loaded.Aggregate)
	assert.Equal(t, CurrentVersion, loaded.Version)
	assert.False(t, loaded.UpdatedAt.IsZero())

	var raw map[string]json.RawMessage
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "processed_files")
	assert.Contains(t, raw, "block_count")
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	store, path := newTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(Empty().Next("a.dat", tally.Aggregate{"stone": uint64(i + 1)})))
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "progress.json", entries[0].Name())
}

func TestSaveFailureKeepsPreviousState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.json")
	store := NewStore(path, logger.NewTestLogger())

	good := Empty().Next("a.dat", tally.Aggregate{"stone": 1})
	require.NoError(t, store.Save(good))

	// A directory squatting on the target makes the rename fail.
	blocked := NewStore(filepath.Join(dir, "blocked"), logger.NewTestLogger())
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "blocked", "child"), 0755))
	err := blocked.Save(good.Next("b.dat", nil))
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeStorage, errs.TypeOf(err))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.dat"}, loaded.Processed)
}

func TestNextDoesNotMutateReceiver(t *testing.T) {
	base := Empty().Next("a.dat", tally.Aggregate{"stone": 10})
	next := base.Next("b.dat", tally.Aggregate{"stone": 5, "dirt": 2})

	assert.Equal(t, []string{"a.dat"}, base.Processed)
	assert.Equal(t, tally.Aggregate{"stone": 10}, base.Aggregate)
	assert.Equal(t, []string{"a.dat", "b.dat"}, next.Processed)
	assert.Equal(t, tally.Aggregate{"stone": 15, "dirt": 2}, next.Aggregate)

	assert.True(t, next.IsProcessed("a.dat"))
	assert.True(t, next.IsProcessed("b.dat"))
	assert.False(t, base.IsProcessed("b.dat"))
}

func TestLoadCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{processed"},
		{"negative count", `{"version":1,"processed_files":["a.dat"],"block_count":{"stone":-3}}`},
		{"fractional count", `{"version":1,"processed_files":["a.dat"],"block_count":{"stone":1.5}}`},
		{"duplicate processed", `{"version":1,"processed_files":["a.dat","a.dat"],"block_count":{}}`},
		{"counts without files", `{"version":1,"processed_files":[],"block_count":{"stone":4}}`},
		{"future version", `{"version":9,"processed_files":[],"block_count":{}}`},
		{"empty entry", `{"version":1,"processed_files":[""],"block_count":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, path := newTestStore(t)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := store.Load()
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrCorruptState)
		})
	}
}

func TestLoadAcceptsLegacyFileWithoutVersion(t *testing.T) {
	store, path := newTestStore(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"processed_files":["a.dat"],"block_count":{"stone":10}}`), 0644))

	cp, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.dat"}, cp.Processed)
	assert.Equal(t, uint64(10), cp.Aggregate["stone"])
}

func TestClear(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Clear(), "clearing a missing file is fine")

	require.NoError(t, store.Save(Empty()))
	require.True(t, store.Exists())
	require.NoError(t, store.Clear())
	assert.False(t, store.Exists())
}

func TestQuarantine(t *testing.T) {
	store, path := newTestStore(t)

	moved, err := store.Quarantine()
	require.NoError(t, err)
	assert.Empty(t, moved)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))
	moved, err = store.Quarantine()
	require.NoError(t, err)
	assert.Equal(t, path+".corrupt", moved)
	assert.False(t, store.Exists())

	data, err := os.ReadFile(moved)
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(data))
}
