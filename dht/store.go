package dht

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// MaxClockSkew is how far in the future an entry timestamp may lie.
const MaxClockSkew = time.Minute

// Backend persists entries held by a Store.
type Backend interface {
	Save(e *Entry) error
	Delete(key []byte) error
	Load() ([]*Entry, error)
	Close() error
}

// Store holds verified entries in memory, mirrored to an optional Backend.
type Store struct {
	entries map[string]*Entry
	backend Backend
	clock   clock.Clock
	mu      sync.RWMutex
}

// NewStore creates a store. Unexpired entries held by backend are loaded.
func NewStore(clk clock.Clock, backend Backend) (*Store, error) {
	if clk == nil {
		clk = clock.New()
	}
	s := &Store{
		entries: make(map[string]*Entry),
		backend: backend,
		clock:   clk,
	}

	if backend == nil {
		return s, nil
	}

	loaded, err := backend.Load()
	if err != nil {
		return nil, fmt.Errorf("load dht entries: %w", err)
	}
	now := clk.Now()
	for _, e := range loaded {
		if e.Expired(now) || e.Verify() != nil {
			_ = backend.Delete(e.Key)
			continue
		}
		s.entries[string(e.Key)] = e
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewStore",
		"loaded":   len(s.entries),
		"skipped":  len(loaded) - len(s.entries),
	}).Info("Loaded persisted DHT entries")

	return s, nil
}

// Put verifies and stores an entry. A key is owned by its publisher until
// the held entry expires; the same publisher may replace it with a newer one.
func (s *Store) Put(e *Entry) error {
	if err := e.Verify(); err != nil {
		return err
	}

	now := s.clock.Now()
	if e.Expired(now) {
		return ErrEntryExpired
	}
	if e.Timestamp.After(now.Add(MaxClockSkew)) {
		return ErrFutureEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.entries[string(e.Key)]; ok && !held.Expired(now) {
		if !held.Publisher.Equal(e.Publisher) {
			return ErrKeyOwned
		}
		if !e.Timestamp.After(held.Timestamp) {
			return ErrStaleEntry
		}
	}

	if s.backend != nil {
		if err := s.backend.Save(e); err != nil {
			return fmt.Errorf("persist dht entry: %w", err)
		}
	}
	s.entries[string(e.Key)] = e
	return nil
}

// Get returns the unexpired entry stored under key.
func (s *Store) Get(key []byte) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[string(key)]
	if !ok || e.Expired(s.clock.Now()) {
		return nil, false
	}
	return e, true
}

// Expire removes expired entries and returns how many were removed.
func (s *Store) Expire() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if !e.Expired(now) {
			continue
		}
		delete(s.entries, k)
		removed++
		if s.backend != nil {
			if err := s.backend.Delete(e.Key); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Expire",
					"error":    err.Error(),
				}).Warn("Failed to delete expired DHT entry from backend")
			}
		}
	}
	return removed
}

// Len returns the number of held entries, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close closes the backend.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
