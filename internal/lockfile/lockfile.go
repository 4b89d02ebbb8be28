// Package lockfile advertises running servers. Each server writes one lock
// file named after its port so local tools can find it without being told
// the port.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

const extension = ".lock"

var (
	// ErrLocked is returned when a live server already owns the port's file
	ErrLocked = errors.New("port is already advertised by a running process")
	// ErrNotFound is returned by Find when no live server is advertised
	ErrNotFound = errors.New("no running server found")
)

// Info is the content of a lock file
type Info struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	ProcessID string    `json:"process_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Lockfile is a lock file held by this process
type Lockfile struct {
	fs     afero.Fs
	path   string
	info   Info
	locked bool
}

// Path returns the lock file path for port inside dir
func Path(dir string, port int) string {
	return filepath.Join(dir, strconv.Itoa(port)+extension)
}

// Acquire writes info to dir. A file left behind by a process that is no
// longer running is replaced; a live one yields ErrLocked.
func Acquire(fs afero.Fs, dir string, info Info) (*Lockfile, error) {
	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lockfile directory: %w", err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}

	path := Path(dir, info.Port)
	file, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lockfile: %w", err)
		}

		existing, readErr := read(fs, path)
		if readErr == nil && existing.PID != info.PID {
			if running, _ := isProcessRunning(existing.PID); running {
				return nil, fmt.Errorf("%w: pid %d", ErrLocked, existing.PID)
			}
		}
		if removeErr := fs.Remove(path); removeErr != nil {
			return nil, fmt.Errorf("failed to remove stale lockfile: %w", removeErr)
		}
		file, err = fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to create lockfile after removing stale one: %w", err)
		}
	}
	defer file.Close()

	l := &Lockfile{fs: fs, path: path, info: info, locked: true}
	if _, err := file.Write(data); err != nil {
		l.Release()
		return nil, fmt.Errorf("failed to write to lockfile: %w", err)
	}
	if err := file.Sync(); err != nil {
		l.Release()
		return nil, fmt.Errorf("failed to sync lockfile: %w", err)
	}
	return l, nil
}

// Release removes the lock file. Calling it twice is a no-op.
func (l *Lockfile) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false

	if err := l.fs.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lockfile: %w", err)
	}
	return nil
}

// Info returns what the lock file advertises
func (l *Lockfile) Info() Info {
	return l.info
}

// Locked returns true if the lock is held
func (l *Lockfile) Locked() bool {
	return l.locked
}

// Path returns the lockfile path
func (l *Lockfile) Path() string {
	return l.path
}

// List returns the servers advertised in dir, ordered by port. Files of
// processes that are gone, and unreadable files, are removed.
func List(fs afero.Fs, dir string) ([]Info, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), extension) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := read(fs, path)
		if err == nil {
			if running, _ := isProcessRunning(info.PID); running {
				infos = append(infos, info)
				continue
			}
		}
		_ = fs.Remove(path)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Port < infos[j].Port })
	return infos, nil
}

// Find returns the only server advertised in dir
func Find(fs afero.Fs, dir string) (Info, error) {
	infos, err := List(fs, dir)
	if err != nil {
		return Info{}, err
	}

	switch len(infos) {
	case 0:
		return Info{}, ErrNotFound
	case 1:
		return infos[0], nil
	default:
		ports := make([]string, len(infos))
		for i, info := range infos {
			ports[i] = strconv.Itoa(info.Port)
		}
		return Info{}, fmt.Errorf("several servers running (ports %s), pick one with --port", strings.Join(ports, ", "))
	}
}

func read(fs afero.Fs, path string) (Info, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("invalid lockfile %s: %w", path, err)
	}
	if info.PID <= 0 || info.Port <= 0 {
		return Info{}, fmt.Errorf("invalid lockfile %s: missing pid or port", path)
	}
	return info, nil
}
