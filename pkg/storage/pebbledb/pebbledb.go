package pebbledb

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"github.com/SamarthBhatia/Trace2Pass/pkg/storage"
	"github.com/cockroachdb/pebble"
)

// Key prefixes simulate logical buckets in Pebble's flat key space. Keys
// under fn: embed a nanosecond timestamp so a prefix scan returns history
// in recording order for free.
var (
	prefixFn   = []byte("fn:")   // fn:<function>:<nanos> -> gob(Entry)
	prefixRun  = []byte("run:")  // run:<run-id> -> RFC3339 start time
	prefixMeta = []byte("meta:") // meta:schema -> version
)

const schemaVersion = "1"

// Options configures the Pebble-backed baseline store.
type Options struct {
	ReadOnly bool
}

// Store is the LSM-backed baseline store: high write throughput for CI
// runs that record thousands of functions, cheap prefix scans for drift
// queries.
type Store struct {
	mu sync.Mutex
	db *pebble.DB
}

// Open opens or creates a baseline database under dir.
func Open(dir string, opts Options) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{ReadOnly: opts.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("open baseline db: %w", err)
	}
	s := &Store{db: db}
	if err := s.checkSchema(opts.ReadOnly); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) checkSchema(readOnly bool) error {
	key := append(prefixMeta, []byte("schema")...)
	val, closer, err := s.db.Get(key)
	switch err {
	case nil:
		defer closer.Close()
		if string(val) != schemaVersion {
			return fmt.Errorf("baseline db schema %q, want %q", val, schemaVersion)
		}
		return nil
	case pebble.ErrNotFound:
		if readOnly {
			return nil
		}
		return s.db.Set(key, []byte(schemaVersion), pebble.Sync)
	default:
		return fmt.Errorf("read baseline schema: %w", err)
	}
}

func fnKey(function string, at time.Time) []byte {
	return []byte(fmt.Sprintf("fn:%s:%020d", function, at.UnixNano()))
}

// RecordSnapshot stores one entry and notes its run id.
func (s *Store) RecordSnapshot(e storage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return fmt.Errorf("encode baseline entry: %w", err)
	}
	b := s.db.NewBatch()
	if err := b.Set(fnKey(e.Function, e.RecordedAt), buf.Bytes(), nil); err != nil {
		return err
	}
	if e.RunID != "" {
		runKey := append(prefixRun, []byte(e.RunID)...)
		if err := b.Set(runKey, []byte(e.RecordedAt.UTC().Format(time.RFC3339)), nil); err != nil {
			return err
		}
	}
	return s.db.Apply(b, pebble.Sync)
}

func (s *Store) fnBounds(function string) ([]byte, []byte) {
	lower := []byte("fn:" + function + ":")
	upper := append(append([]byte{}, lower...), 0xff)
	return lower, upper
}

// History returns the recorded entries for one function, oldest first.
func (s *Store) History(function string) ([]storage.Entry, error) {
	lower, upper := s.fnBounds(function)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []storage.Entry
	for iter.First(); iter.Valid(); iter.Next() {
		var e storage.Entry
		if err := gob.NewDecoder(bytes.NewReader(iter.Value())).Decode(&e); err != nil {
			return nil, fmt.Errorf("decode baseline entry %q: %w", iter.Key(), err)
		}
		out = append(out, e)
	}
	return out, iter.Error()
}

// LastHash returns the newest recorded hash for the function.
func (s *Store) LastHash(function string) (uint64, bool, error) {
	lower, upper := s.fnBounds(function)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, false, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, false, iter.Error()
	}
	var e storage.Entry
	if err := gob.NewDecoder(bytes.NewReader(iter.Value())).Decode(&e); err != nil {
		return 0, false, fmt.Errorf("decode baseline entry %q: %w", iter.Key(), err)
	}
	return e.Hash, true, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}
