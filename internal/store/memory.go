package store

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memoryEntry[V any] struct {
	value   V
	expires time.Time
}

// Memory is a map-backed Store. Expired entries are hidden on read and
// removed lazily.
type Memory[V any] struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry[V]
	clock   clockwork.Clock
}

// NewMemory returns an empty in-memory store. A nil clock uses wall time.
func NewMemory[V any](clock clockwork.Clock) *Memory[V] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory[V]{
		entries: make(map[string]memoryEntry[V]),
		clock:   clock,
	}
}

func (m *Memory[V]) live(e memoryEntry[V], now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

// Get returns the value stored under key.
func (m *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || !m.live(e, m.clock.Now()) {
		var zero V
		return zero, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key.
func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	e := memoryEntry[V]{value: value}
	if ttl > 0 {
		e.expires = m.clock.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Range iterates over a snapshot so fn may call back into the store.
func (m *Memory[V]) Range(_ context.Context, fn func(key string, value V) bool) error {
	now := m.clock.Now()

	m.mu.Lock()
	snapshot := make(map[string]V, len(m.entries))
	for k, e := range m.entries {
		if !m.live(e, now) {
			delete(m.entries, k)
			continue
		}
		snapshot[k] = e.value
	}
	m.mu.Unlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			break
		}
	}
	return nil
}

// Len counts live entries.
func (m *Memory[V]) Len(_ context.Context) (int, error) {
	now := m.clock.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.entries {
		if m.live(e, now) {
			n++
		}
	}
	return n, nil
}

// MemoryCounters is the default CounterStore.
type MemoryCounters struct {
	mu       sync.Mutex
	counters map[string]*Counter
}

// NewMemoryCounters returns an empty counter store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{counters: make(map[string]*Counter)}
}

func (m *MemoryCounters) Get(_ context.Context, key string) (Counter, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok {
		return Counter{}, false, nil
	}
	return *c, true, nil
}

func (m *MemoryCounters) Set(_ context.Context, key string, c Counter) error {
	m.mu.Lock()
	m.counters[key] = &c
	m.mu.Unlock()
	return nil
}

func (m *MemoryCounters) Increment(_ context.Context, key string) (Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok {
		c = &Counter{}
		m.counters[key] = c
	}
	c.Count++
	return *c, nil
}

func (m *MemoryCounters) Decrement(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.counters[key]; ok && c.Count > 0 {
		c.Count--
	}
	return nil
}

func (m *MemoryCounters) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.counters, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCounters) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, c := range m.counters {
		if c.Expired(now) {
			delete(m.counters, key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryCounters) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters), nil
}
