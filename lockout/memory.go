package lockout

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process memory. Counters are not shared
// between server instances.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string]*Attempt
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string]*Attempt)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Attempt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.attempts[key]
	if !ok {
		return Attempt{}, false, nil
	}
	return *rec, true, nil
}

func (m *MemoryStore) Incr(_ context.Context, key string, now time.Time) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.attempts[key]
	if !ok {
		rec = &Attempt{First: now}
		m.attempts[key] = rec
	}
	rec.Count++
	rec.Last = now
	return *rec, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, key)
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, rec := range m.attempts {
		if rec.Last.Before(cutoff) {
			delete(m.attempts, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of tracked keys.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}
