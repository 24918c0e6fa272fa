package utils

import (
	"sync"
	"time"
)

// TTLMap provides a thread-safe map with expiring entries.
// Expiry is lazy: entries are checked on access and reclaimed by Sweep,
// so the map never owns a background goroutine of its own.
type TTLMap[K comparable, V any] struct {
	mu      sync.RWMutex
	data    map[K]V
	expires map[K]time.Time
	ttl     time.Duration
}

// NewTTLMap creates a new TTLMap with the specified TTL duration.
func NewTTLMap[K comparable, V any](ttl time.Duration) *TTLMap[K, V] {
	return &TTLMap[K, V]{
		data:    make(map[K]V),
		expires: make(map[K]time.Time),
		ttl:     ttl,
	}
}

// Get retrieves a value from the map.
// Returns the value and whether it exists/is valid.
func (m *TTLMap[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[key]
	if !exists {
		var zero V
		return zero, false
	}

	if time.Now().After(m.expires[key]) {
		var zero V
		return zero, false
	}

	return value, true
}

// Set adds or updates a value in the map.
func (m *TTLMap[K, V]) Set(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = value
	m.expires[key] = time.Now().Add(m.ttl)
}

// SetWithTTL adds or updates a value with a per-entry TTL,
// overriding the map default.
func (m *TTLMap[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = value
	m.expires[key] = time.Now().Add(ttl)
}

// Delete removes a key from the map.
func (m *TTLMap[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	delete(m.expires, key)
}

// Len returns the number of live entries.
func (m *TTLMap[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	count := 0

	for key := range m.data {
		if !now.After(m.expires[key]) {
			count++
		}
	}

	return count
}

// Range calls fn for every live entry. Returning false stops iteration.
func (m *TTLMap[K, V]) Range(fn func(key K, value V) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()

	for key, value := range m.data {
		if now.After(m.expires[key]) {
			continue
		}

		if !fn(key, value) {
			return
		}
	}
}

// Sweep removes expired entries and returns how many were evicted.
// Callers run this from their own periodic maintenance tick.
func (m *TTLMap[K, V]) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	evicted := 0

	for key, expires := range m.expires {
		if now.After(expires) {
			delete(m.data, key)
			delete(m.expires, key)

			evicted++
		}
	}

	return evicted
}
