// Package artifact stores the temporary files staged for diff review.
//
// The store is the only component that touches the filesystem. It is backed
// by an afero.Fs so the same code runs against the OS or an in-memory
// filesystem.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
)

const (
	// DirMode is the permission of the store root
	DirMode os.FileMode = 0o700
	// FileMode is the permission of staged files
	FileMode os.FileMode = 0o600
)

// Entry describes one file in the store
type Entry struct {
	Path    string
	ModTime time.Time
}

// Store writes, removes and enumerates files below a single root directory
type Store struct {
	fs   afero.Fs
	root string
}

// New creates a store rooted at root, creating the directory if needed
func New(fs afero.Fs, root string) (*Store, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if root == "" {
		return nil, errors.New("artifact root must not be empty")
	}
	if err := fs.MkdirAll(root, DirMode); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory %s: %w", root, err)
	}
	return &Store{fs: fs, root: root}, nil
}

// Root returns the store directory
func (s *Store) Root() string {
	return s.root
}

// Path returns the absolute location of name inside the store
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, filepath.Base(name))
}

// Write creates path exclusively with data and mode. An existing file is
// never overwritten; the error then matches os.ErrExist. A partially written
// file is removed.
func (s *Store) Write(path string, data []byte, mode os.FileMode) error {
	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		// Creation mode is subject to the umask
		err = s.fs.Chmod(path, mode)
	}
	if err != nil {
		_ = s.fs.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Remove deletes path. A file that is already gone is not an error.
func (s *Store) Remove(path string) error {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path is present
func (s *Store) Exists(path string) bool {
	ok, err := afero.Exists(s.fs, path)
	return err == nil && ok
}

// ReadFile returns the content of path
func (s *Store) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(s.fs, path)
}

// List returns the regular files in the store root, oldest first
func (s *Store) List() ([]Entry, error) {
	infos, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.root, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		entries = append(entries, Entry{
			Path:    filepath.Join(s.root, info.Name()),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
	return entries, nil
}

// StatMTime returns the modification time of path
func (s *Store) StatMTime(path string) (time.Time, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
