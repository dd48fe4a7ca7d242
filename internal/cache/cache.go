// Package cache holds the last known value of every polled sensor.
//
// The store is the only mutable state shared between the sensor writers
// (REST poller, MQTT subscriber) and the frame producers (MJPEG consumers,
// RTSP sessions). Readers never render while holding the lock: they take a
// Snapshot and release it immediately.
package cache

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the store, keyed by entity id
// (e.g. "sensor.outdoor_temp"). Callers own the map.
type Snapshot map[string]string

// Store is a concurrent entity id → value map with many-readers / one-writer
// locking. The zero value is not usable, use New.
type Store struct {
	mu        sync.RWMutex
	values    map[string]string
	updatedAt time.Time
	writes    uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		values: make(map[string]string),
	}
}

// Set replaces the value for entityID. Last write wins.
func (s *Store) Set(entityID, value string) {
	s.mu.Lock()
	s.values[entityID] = value
	s.updatedAt = time.Now()
	s.writes++
	s.mu.Unlock()
}

// Get returns the value for entityID and whether it has ever been set.
func (s *Store) Get(entityID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[entityID]
	return v, ok
}

// Snapshot copies the whole store under the read lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot, len(s.values))
	for k, v := range s.values {
		snap[k] = v
	}
	return snap
}

// Len returns the number of entity ids with a known value.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Stats is a summary of store activity.
type Stats struct {
	Entries   int
	Writes    uint64
	UpdatedAt time.Time // zero until the first Set
}

// Stats returns entry count, total writes and the time of the last write.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Entries:   len(s.values),
		Writes:    s.writes,
		UpdatedAt: s.updatedAt,
	}
}
