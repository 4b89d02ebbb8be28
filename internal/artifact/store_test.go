package artifact

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore(t *testing.T) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store, err := New(fs, "/cache/diff")
	require.NoError(t, err)
	return store, fs
}

func TestNewCreatesRoot(t *testing.T) {
	_, fs := newMemStore(t)

	info, err := fs.Stat("/cache/diff")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, DirMode, info.Mode().Perm())
}

func TestNewRejectsEmptyRoot(t *testing.T) {
	_, err := New(afero.NewMemMapFs(), "")
	assert.Error(t, err)
}

func TestWriteAndRemove(t *testing.T) {
	store, fs := newMemStore(t)
	path := store.Path("original_1.md")

	require.NoError(t, store.Write(path, []byte("hello"), FileMode))
	assert.True(t, store.Exists(path))

	info, err := fs.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, FileMode, info.Mode().Perm())

	content, err := store.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	require.NoError(t, store.Remove(path))
	assert.False(t, store.Exists(path))

	// Removing twice is fine
	assert.NoError(t, store.Remove(path))
}

func TestWriteNeverOverwrites(t *testing.T) {
	store, _ := newMemStore(t)
	path := store.Path("modified_1.md")

	require.NoError(t, store.Write(path, []byte("first"), FileMode))
	err := store.Write(path, []byte("second"), FileMode)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrExist)

	content, err := store.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(content))
}

func TestPathStaysInsideRoot(t *testing.T) {
	store, _ := newMemStore(t)
	assert.Equal(t, "/cache/diff/evil.txt", store.Path("../../evil.txt"))
}

func TestListOrdersByModTime(t *testing.T) {
	store, fs := newMemStore(t)
	now := time.Now()

	require.NoError(t, store.Write(store.Path("new.txt"), []byte("n"), FileMode))
	require.NoError(t, store.Write(store.Path("old.txt"), []byte("o"), FileMode))
	require.NoError(t, fs.Chtimes(store.Path("old.txt"), now.Add(-2*time.Hour), now.Add(-2*time.Hour)))
	require.NoError(t, fs.Mkdir(store.Path("subdir"), os.ModePerm))

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, store.Path("old.txt"), entries[0].Path)
	assert.Equal(t, store.Path("new.txt"), entries[1].Path)

	mtime, err := store.StatMTime(store.Path("old.txt"))
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(-2*time.Hour), mtime, time.Second)
}
