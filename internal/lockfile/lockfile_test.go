package lockfile

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDir = "/state/run"

// deadPID is far above any pid_max the tests run under
const deadPID = 1 << 30

func writeInfo(t *testing.T, fs afero.Fs, info Info) {
	t.Helper()
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, fs.MkdirAll(testDir, 0o755))
	require.NoError(t, afero.WriteFile(fs, Path(testDir, info.Port), data, 0o644))
}

func TestAcquireRelease(t *testing.T) {
	fs := afero.NewMemMapFs()

	lock, err := Acquire(fs, testDir, Info{Host: "127.0.0.1", Port: 4711, ProcessID: "99"})
	require.NoError(t, err)
	assert.True(t, lock.Locked())
	assert.Equal(t, os.Getpid(), lock.Info().PID)
	assert.False(t, lock.Info().StartedAt.IsZero())
	assert.Equal(t, Path(testDir, 4711), lock.Path())

	info, err := Find(fs, testDir)
	require.NoError(t, err)
	assert.Equal(t, 4711, info.Port)
	assert.Equal(t, "99", info.ProcessID)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())
	assert.False(t, lock.Locked())

	exists, err := afero.Exists(fs, lock.Path())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAcquireLivePortFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	// Our parent is alive and is not us
	writeInfo(t, fs, Info{PID: os.Getppid(), Host: "127.0.0.1", Port: 4711})

	_, err := Acquire(fs, testDir, Info{Host: "127.0.0.1", Port: 4711})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
}

func TestAcquireReplacesStaleFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeInfo(t, fs, Info{PID: deadPID, Host: "127.0.0.1", Port: 4711})

	lock, err := Acquire(fs, testDir, Info{Host: "127.0.0.1", Port: 4711})
	require.NoError(t, err)
	defer lock.Release()

	info, err := Find(fs, testDir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.PID)
}

func TestListPrunesStaleAndInvalidFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeInfo(t, fs, Info{PID: os.Getpid(), Port: 5000})
	writeInfo(t, fs, Info{PID: os.Getpid(), Port: 4000})
	writeInfo(t, fs, Info{PID: deadPID, Port: 6000})
	require.NoError(t, afero.WriteFile(fs, Path(testDir, 7000), []byte("garbage"), 0o644))
	require.NoError(t, afero.WriteFile(fs, testDir+"/notes.txt", []byte("keep"), 0o644))

	infos, err := List(fs, testDir)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, 4000, infos[0].Port)
	assert.Equal(t, 5000, infos[1].Port)

	for _, port := range []int{6000, 7000} {
		exists, err := afero.Exists(fs, Path(testDir, port))
		require.NoError(t, err)
		assert.False(t, exists, port)
	}
	exists, err := afero.Exists(fs, testDir+"/notes.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = Find(fs, testDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4000, 5000")
}

func TestFindMissingDir(t *testing.T) {
	_, err := Find(afero.NewMemMapFs(), "/nowhere")
	assert.ErrorIs(t, err, ErrNotFound)
}
