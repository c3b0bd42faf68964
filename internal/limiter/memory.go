package limiter

import (
	"context"
	"sync"
	"time"
)

const pruneThreshold = 10000

type counterEntry struct {
	count     int
	expiresAt time.Time // zero means no expiry
}

// MemoryCounter is a process-local Counter.
type MemoryCounter struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]*counterEntry
}

var _ Counter = (*MemoryCounter)(nil)

// NewMemoryCounter creates an in-process counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{now: time.Now, entries: make(map[string]*counterEntry)}
}

func (m *MemoryCounter) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if len(m.entries) > pruneThreshold {
		m.prune(now)
	}

	e, ok := m.entries[key]
	if !ok || e.expired(now) {
		e = &counterEntry{}
		if window > 0 {
			e.expiresAt = now.Add(window)
		}
		m.entries[key] = e
	}
	if e.count >= limit {
		return false, nil
	}
	e.count++
	return true, nil
}

func (m *MemoryCounter) Decrement(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	e.count--
	if e.count <= 0 {
		delete(m.entries, key)
	}
	return nil
}

// Value returns the live count for key.
func (m *MemoryCounter) Value(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.expired(m.now()) {
		return 0
	}
	return e.count
}

func (m *MemoryCounter) prune(now time.Time) {
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}

func (e *counterEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}
