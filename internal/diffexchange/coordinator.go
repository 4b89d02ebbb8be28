// Package diffexchange correlates diff review requests with the pair of
// staged files shown to the editor.
package diffexchange

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/codefionn/diffbridge/internal/artifact"
	"github.com/codefionn/diffbridge/internal/logger"
)

const defaultExtension = ".txt"

var (
	// ErrMissingFields is returned when a request lacks a required field
	ErrMissingFields = errors.New("missing required fields in diff request")
	// ErrExchangeExists is returned when the request ID is already open
	ErrExchangeExists = errors.New("diff exchange already open")
)

// Request carries the fields of a diff_request. Nil contents are absent;
// empty strings are valid content.
type Request struct {
	ID              string
	FilePath        string
	OriginalContent *string
	ModifiedContent *string
}

// Validate checks that every required field is present
func (r Request) Validate() error {
	var missing []string
	if r.ID == "" {
		missing = append(missing, "id")
	}
	if r.FilePath == "" {
		missing = append(missing, "file_path")
	}
	if r.OriginalContent == nil {
		missing = append(missing, "original_content")
	}
	if r.ModifiedContent == nil {
		missing = append(missing, "modified_content")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingFields, missing)
	}
	return nil
}

// Staged is the pair of files written for one exchange
type Staged struct {
	Original string
	Modified string
}

// Exchange is one in-flight diff review
type Exchange struct {
	ID        string
	FilePath  string
	Staged    Staged
	CreatedAt time.Time
}

// Coordinator owns the open exchanges and their files. It is not safe for
// concurrent use; the session drives it from a single goroutine.
type Coordinator struct {
	store     *artifact.Store
	exchanges map[string]*Exchange
	now       func() time.Time
	log       *logger.Logger
}

// New creates a coordinator staging files in store
func New(store *artifact.Store) *Coordinator {
	return &Coordinator{
		store:     store,
		exchanges: make(map[string]*Exchange),
		now:       time.Now,
		log:       logger.Global().WithPrefix("diff"),
	}
}

// SetClock replaces time.Now
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Open stages both contents and records the exchange under req.ID. On a
// write failure no file and no exchange is left behind.
func (c *Coordinator) Open(req Request) (Staged, error) {
	if err := req.Validate(); err != nil {
		return Staged{}, err
	}
	if _, ok := c.exchanges[req.ID]; ok {
		return Staged{}, fmt.Errorf("%w: %s", ErrExchangeExists, req.ID)
	}

	created := c.now()
	staged := c.stagedNames(req.ID, req.FilePath, created)

	// Write cleans up its own partial file and never touches an existing
	// one, so only files this call created are rolled back
	if err := c.store.Write(staged.Original, []byte(*req.OriginalContent), artifact.FileMode); err != nil {
		return Staged{}, fmt.Errorf("failed to create temp files: %w", err)
	}
	if err := c.store.Write(staged.Modified, []byte(*req.ModifiedContent), artifact.FileMode); err != nil {
		c.removeFiles(staged.Original)
		return Staged{}, fmt.Errorf("failed to create temp files: %w", err)
	}

	c.exchanges[req.ID] = &Exchange{
		ID:        req.ID,
		FilePath:  req.FilePath,
		Staged:    staged,
		CreatedAt: created,
	}
	c.log.Debug("Opened diff exchange %s for %s", req.ID, req.FilePath)
	return staged, nil
}

// stagedNames derives sibling names from the shared timestamp and the source
// extension. The request hash keeps same-millisecond requests apart.
func (c *Coordinator) stagedNames(id, filePath string, created time.Time) Staged {
	ext := filepath.Ext(filePath)
	if ext == "" {
		ext = defaultExtension
	}
	suffix := fmt.Sprintf("%d_%08x%s", created.UnixMilli(), uint32(xxhash.Sum64String(id)), ext)
	return Staged{
		Original: c.store.Path("original_" + suffix),
		Modified: c.store.Path("modified_" + suffix),
	}
}

// Close releases the exchange and its files. Unknown IDs are ignored.
func (c *Coordinator) Close(id string) {
	ex, ok := c.exchanges[id]
	if !ok {
		return
	}
	c.removeFiles(ex.Staged.Original, ex.Staged.Modified)
	delete(c.exchanges, id)
	c.log.Debug("Closed diff exchange %s", id)
}

// Get returns the exchange for id
func (c *Coordinator) Get(id string) (Exchange, bool) {
	ex, ok := c.exchanges[id]
	if !ok {
		return Exchange{}, false
	}
	return *ex, true
}

// ListOpen returns the IDs of all open exchanges, sorted
func (c *Coordinator) ListOpen() []string {
	ids := make([]string, 0, len(c.exchanges))
	for id := range c.exchanges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sweep removes every stored file older than maxAge, whether or not an
// exchange still references it, and forgets exchanges older than maxAge.
// It returns the number of files removed.
func (c *Coordinator) Sweep(maxAge time.Duration) int {
	now := c.now()

	for id, ex := range c.exchanges {
		if now.Sub(ex.CreatedAt) > maxAge {
			delete(c.exchanges, id)
			c.log.Info("Reclaimed stale diff exchange %s", id)
		}
	}

	entries, err := c.store.List()
	if err != nil {
		c.log.Error("Error cleaning up old files: %v", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if now.Sub(entry.ModTime) <= maxAge {
			continue
		}
		if err := c.store.Remove(entry.Path); err != nil {
			c.log.Error("Error removing file %s: %v", entry.Path, err)
			continue
		}
		removed++
		c.log.Info("Cleaned up old temp file: %s", filepath.Base(entry.Path))
	}
	return removed
}

// Abandon forgets all exchanges without touching their files; the sweep
// reclaims them later.
func (c *Coordinator) Abandon() {
	c.exchanges = make(map[string]*Exchange)
}

func (c *Coordinator) removeFiles(paths ...string) {
	for _, path := range paths {
		if err := c.store.Remove(path); err != nil {
			c.log.Error("Error removing file %s: %v", path, err)
		}
	}
}
