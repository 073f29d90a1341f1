package jsondb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/SamarthBhatia/Trace2Pass/pkg/storage"
)

const (
	// MaxDBSizeBytes stops a corrupted or hostile baseline file from
	// blowing the heap. 64MB holds years of per-function history.
	MaxDBSizeBytes = 64 * 1024 * 1024

	// SecureFilePerms keeps the baseline owner-only. Other users on a
	// build host have no business reading which functions drift.
	SecureFilePerms = 0o600

	schemaVersion = 1
)

type fileFormat struct {
	Version int             `json:"version"`
	Entries []storage.Entry `json:"entries"`
}

// Store implements a JSON-file backed baseline store. Everything is held
// in memory and rewritten on each record; the format is for small projects
// and test rigs, Pebble carries the real workloads.
type Store struct {
	mu   sync.RWMutex
	path string
	db   fileFormat
}

// Open loads (or initializes) the baseline file at path.
func Open(path string) (*Store, error) {
	s := &Store{path: filepath.Clean(path), db: fileFormat{Version: schemaVersion}}

	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat baseline db: %w", err)
	}
	if info.Size() > MaxDBSizeBytes {
		return nil, fmt.Errorf("baseline db %s exceeds %d bytes", s.path, MaxDBSizeBytes)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read baseline db: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.db); err != nil {
		return nil, fmt.Errorf("parse baseline db %s: %w", s.path, err)
	}
	if s.db.Version != schemaVersion {
		return nil, fmt.Errorf("baseline db %s has schema %d, want %d", s.path, s.db.Version, schemaVersion)
	}
	return s, nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.db, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, SecureFilePerms)
}

// RecordSnapshot appends an entry and rewrites the file.
func (s *Store) RecordSnapshot(e storage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db.Entries = append(s.db.Entries, e)
	return s.saveLocked()
}

// History returns the recorded entries for one function, oldest first.
func (s *Store) History(function string) ([]storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.Entry
	for _, e := range s.db.Entries {
		if e.Function == function {
			out = append(out, e)
		}
	}
	return out, nil
}

// LastHash returns the newest recorded hash for the function.
func (s *Store) LastHash(function string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.db.Entries) - 1; i >= 0; i-- {
		if s.db.Entries[i].Function == function {
			return s.db.Entries[i].Hash, true, nil
		}
	}
	return 0, false, nil
}

// Close flushes the in-memory state a final time.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}
