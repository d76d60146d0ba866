// Package keylock provides per-key reader/writer locks for serializing
// operations on a single trip, vehicle, alert, or boarding pair while leaving
// unrelated keys fully concurrent.
package keylock

import "sync"

// Map hands out one sync.RWMutex per key. Entries are reference counted and
// removed once the last holder unlocks, so the map stays proportional to the
// number of keys currently in use rather than every key ever seen.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	rw   sync.RWMutex
	refs int
}

// New returns an empty Map.
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Lock acquires the exclusive lock for key and returns its release func.
func (m *Map) Lock(key string) (unlock func()) {
	e := m.acquire(key)
	e.rw.Lock()
	return func() {
		e.rw.Unlock()
		m.release(key, e)
	}
}

// RLock acquires the shared lock for key and returns its release func.
func (m *Map) RLock(key string) (unlock func()) {
	e := m.acquire(key)
	e.rw.RLock()
	return func() {
		e.rw.RUnlock()
		m.release(key, e)
	}
}

// Len returns the number of keys currently held or waited on.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Map) acquire(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *Map) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}
