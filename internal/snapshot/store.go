package snapshot

import (
	"sync"

	"PacketRadar/internal/model"
)

// Store holds the most recent snapshot for readers such as the API.
type Store struct {
	mu     sync.RWMutex
	latest model.Snapshot
	ok     bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Set replaces the latest snapshot.
func (s *Store) Set(snap model.Snapshot) {
	s.mu.Lock()
	s.latest = snap
	s.ok = true
	s.mu.Unlock()
}

// Latest returns the most recent snapshot, or false before the first one.
// Callers must treat the returned slices as read-only.
func (s *Store) Latest() (model.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.ok
}
