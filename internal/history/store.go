// Package history persists transcribed recordings: a JSON ledger plus one sidecar
// audio file per entry.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/goscribe/internal/bus"
	"github.com/roelfdiedericks/goscribe/internal/config"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
	"github.com/roelfdiedericks/goscribe/internal/paths"
)

// LedgerFile is the ledger's name inside the recordings directory.
const LedgerFile = "history.json"

// Entry is one recording in the ledger.
type Entry struct {
	ID         string  `json:"id"`
	CreatedAt  int64   `json:"createdAt"` // unix milliseconds, sole sort key
	Duration   float64 `json:"duration"`
	Transcript string  `json:"transcript"`

	// AudioExt is the sidecar extension (".webm", ".wav"). Absent in ledgers written
	// before it existed; lookups then probe both.
	AudioExt string `json:"audioExt,omitempty"`
}

// FilesystemError wraps ledger or sidecar I/O failures.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("history %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// NewID returns a time-ordered UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewEntry builds an entry stamped with the current time.
func NewEntry(transcript string, duration float64, audioExt string) Entry {
	return Entry{
		ID:         NewID(),
		CreatedAt:  time.Now().UnixMilli(),
		Duration:   duration,
		Transcript: transcript,
		AudioExt:   audioExt,
	}
}

// Store serializes every ledger read-modify-write behind one mutex.
type Store struct {
	dir    string
	events *bus.Bus
	mu     sync.Mutex
}

// NewStore creates a store rooted at dir. events may be nil.
func NewStore(dir string, events *bus.Bus) *Store {
	return &Store{dir: dir, events: events}
}

// OpenDefault creates a store under the recordings directory.
func OpenDefault(events *bus.Bus) (*Store, error) {
	dir, err := paths.RecordingsDir()
	if err != nil {
		return nil, err
	}
	return NewStore(dir, events), nil
}

// Dir returns the recordings directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) ledgerPath() string { return filepath.Join(s.dir, LedgerFile) }

// loadLocked reads the ledger. Missing or unparsable ledgers are treated as empty.
func (s *Store) loadLocked() ([]Entry, error) {
	path := s.ledgerPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &FilesystemError{Op: "read", Path: path, Err: err}
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		L_warn("history: ledger unreadable, treating as empty", "path", path, "error", err)
		return nil, nil
	}
	return entries, nil
}

func (s *Store) saveLocked(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	path := s.ledgerPath()
	if err := config.AtomicWriteJSON(path, entries, 0644); err != nil {
		return &FilesystemError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (s *Store) changed(op string) {
	if s.events != nil {
		s.events.Publish(bus.TopicHistoryChanged, op, "history")
	}
}

// Append writes the sidecar audio and then the ledger entry. If the ledger cannot be
// written the sidecar is removed again, so neither exists without the other.
func (s *Store) Append(e Entry, audio []byte) error {
	if e.ID == "" {
		return errors.New("history: entry has no id")
	}
	if e.AudioExt == "" {
		e.AudioExt = ".webm"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := paths.EnsureDir(s.dir); err != nil {
		return &FilesystemError{Op: "mkdir", Path: s.dir, Err: err}
	}

	sidecar := filepath.Join(s.dir, e.ID+e.AudioExt)
	if err := os.WriteFile(sidecar, audio, 0644); err != nil {
		return &FilesystemError{Op: "write", Path: sidecar, Err: err}
	}

	entries, err := s.loadLocked()
	if err == nil {
		err = s.saveLocked(append(entries, e))
	}
	if err != nil {
		if rmErr := os.Remove(sidecar); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			L_warn("history: failed to remove orphaned sidecar", "path", sidecar, "error", rmErr)
		}
		return err
	}

	L_debug("history: appended", "id", e.ID, "ext", e.AudioExt, "count", len(entries)+1)
	s.changed("append")
	return nil
}

// List returns every entry, newest first. The persisted order is never trusted.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	entries, err := s.loadLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(entries, func(a, b Entry) int {
		switch {
		case a.CreatedAt > b.CreatedAt:
			return -1
		case a.CreatedAt < b.CreatedAt:
			return 1
		}
		return 0
	})
	return entries, nil
}

// Get returns the entry with id.
func (s *Store) Get(id string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadLocked()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// AudioPath returns the sidecar path for e. For entries without a recorded extension
// the first existing candidate wins.
func (s *Store) AudioPath(e Entry) string {
	candidates := sidecarCandidates(e)
	for _, ext := range candidates {
		p := filepath.Join(s.dir, e.ID+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(s.dir, e.ID+candidates[0])
}

func sidecarCandidates(e Entry) []string {
	exts := []string{".webm", ".wav"}
	if e.AudioExt != "" && !slices.Contains(exts, e.AudioExt) {
		return append([]string{e.AudioExt}, exts...)
	}
	if e.AudioExt == ".wav" {
		return []string{".wav", ".webm"}
	}
	return exts
}

// DeleteOne removes the entry and its sidecar. Unknown ids and missing sidecars are no-ops.
func (s *Store) DeleteOne(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadLocked()
	if err != nil {
		return err
	}

	idx := slices.IndexFunc(entries, func(e Entry) bool { return e.ID == id })
	if idx < 0 {
		L_debug("history: delete of unknown id ignored", "id", id)
		return nil
	}
	removed := entries[idx]

	if err := s.saveLocked(slices.Delete(entries, idx, idx+1)); err != nil {
		return err
	}

	for _, ext := range sidecarCandidates(removed) {
		p := filepath.Join(s.dir, removed.ID+ext)
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &FilesystemError{Op: "remove", Path: p, Err: err}
		}
	}

	L_debug("history: deleted", "id", id)
	s.changed("delete")
	return nil
}

// DeleteAll removes the whole recordings directory. Succeeds when it is already gone.
func (s *Store) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		return &FilesystemError{Op: "remove", Path: s.dir, Err: err}
	}
	L_info("history: cleared", "dir", s.dir)
	s.changed("clear")
	return nil
}
