package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "watchlists"))
	created := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	list := WatchList{
		Name:        "release",
		Description: "Release blockers",
		Keys:        []string{"ABC-1", "ABC-2"},
		JQL:         `project = ABC AND labels = blocker`,
		Created:     created,
	}
	require.NoError(t, store.Save(list))
	assert.True(t, store.Exists("release"))

	loaded, err := store.Load("release")
	require.NoError(t, err)
	assert.Equal(t, list, *loaded)

	list.Keys = []string{"ABC-3"}
	require.NoError(t, store.Save(list))
	loaded, err = store.Load("release")
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC-3"}, loaded.Keys)
}

func TestLoadMissing(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Load("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, store.Exists("nope"))
}

func TestLoadCorrupted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("keys: [unterminated"), 0644))
	store := NewStore(dir)

	_, err := store.Load("broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestListAndNames(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	require.NoError(t, store.Save(WatchList{Name: "zeta", Keys: []string{"Z-1"}}))
	require.NoError(t, store.Save(WatchList{Name: "alpha", JQL: "project = A", Description: "all of A"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0755))

	names, err := store.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, names)

	items, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []WatchListItem{
		{Name: "alpha", Description: "all of A", JQL: "project = A"},
		{Name: "zeta", KeyCount: 1},
	}, items)
}

func TestListReportsUnreadableLists(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	require.NoError(t, store.Save(WatchList{Name: "good", Keys: []string{"A-1"}}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("keys: [unterminated"), 0644))

	items, err := store.List()
	assert.Error(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "good", items[0].Name)
}

func TestNamesWithoutDataDir(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing"))

	names, err := store.Names()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDelete(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Save(WatchList{Name: "gone"}))

	require.NoError(t, store.Delete("gone"))
	assert.False(t, store.Exists("gone"))
	require.NoError(t, store.Delete("gone"))
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{name: "release-4.18", valid: true},
		{name: "my list", valid: true},
		{name: "", valid: false},
		{name: "  ", valid: false},
		{name: "../escape", valid: false},
		{name: "a/b", valid: false},
		{name: ".hidden", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.name)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	store := NewStore(t.TempDir())
	assert.Error(t, store.Save(WatchList{Name: "../escape"}))
}

func TestWatchListDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")

	dir, err := WatchListDataDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/xdg-data/jirasync/watchlists", dir)
}
