package traffic

import (
	"maps"
	"sync"
)

// Store holds the last published Snapshot per rule. A single RWMutex guards
// the whole map: a publish for one rule briefly blocks readers of every rule.
type Store struct {
	mu    sync.RWMutex
	stats map[string]Snapshot
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{stats: make(map[string]Snapshot)}
}

// Publish overwrites the snapshot for rule.
func (s *Store) Publish(rule string, snap Snapshot) {
	s.mu.Lock()
	s.stats[rule] = snap
	s.mu.Unlock()
}

// Read returns a copy of every snapshot, waiting for an in-flight publish.
func (s *Store) Read() map[string]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.stats)
}

// TryRead is like Read but returns false instead of waiting when a writer
// holds or is waiting for the lock.
func (s *Store) TryRead() (map[string]Snapshot, bool) {
	if !s.mu.TryRLock() {
		return nil, false
	}
	defer s.mu.RUnlock()
	return maps.Clone(s.stats), true
}

// Get returns the snapshot for a single rule.
func (s *Store) Get(rule string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.stats[rule]
	return snap, ok
}
