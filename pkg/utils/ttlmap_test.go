package utils_test

import (
	"testing"
	"time"

	"github.com/robalyx/sentinel/pkg/utils"
	"github.com/stretchr/testify/assert"
)

func TestTTLMap(t *testing.T) {
	// Create a map with a short TTL for testing
	ttl := 100 * time.Millisecond
	m := utils.NewTTLMap[string, int](ttl)

	// Test Set and Get
	t.Run("basic set and get", func(t *testing.T) {
		m.Set("test1", 123)
		value, exists := m.Get("test1")
		assert.True(t, exists)
		assert.Equal(t, 123, value)
	})

	// Test expiration
	t.Run("expiration", func(t *testing.T) {
		m.Set("test2", 456)
		time.Sleep(ttl + 50*time.Millisecond) // Wait for expiration
		_, exists := m.Get("test2")
		assert.False(t, exists)
	})

	// Test per-entry TTL override
	t.Run("per-entry ttl", func(t *testing.T) {
		m.SetWithTTL("test3", 789, time.Hour)
		time.Sleep(ttl + 50*time.Millisecond)
		value, exists := m.Get("test3")
		assert.True(t, exists)
		assert.Equal(t, 789, value)
	})

	// Test Delete
	t.Run("delete", func(t *testing.T) {
		m.Set("test4", 789)
		m.Delete("test4")
		_, exists := m.Get("test4")
		assert.False(t, exists)
	})

	// Test non-existent key
	t.Run("non-existent key", func(t *testing.T) {
		_, exists := m.Get("nonexistent")
		assert.False(t, exists)
	})
}

func TestTTLMapSweep(t *testing.T) {
	ttl := 50 * time.Millisecond
	m := utils.NewTTLMap[string, int](ttl)

	m.Set("a", 1)
	m.Set("b", 2)
	m.SetWithTTL("c", 3, time.Hour)

	time.Sleep(ttl + 20*time.Millisecond)

	evicted := m.Sweep()
	assert.Equal(t, 2, evicted)
	assert.Equal(t, 1, m.Len())
}

func TestTTLMapRange(t *testing.T) {
	m := utils.NewTTLMap[string, int](time.Hour)
	m.Set("a", 1)
	m.Set("b", 2)

	seen := make(map[string]int)
	m.Range(func(key string, value int) bool {
		seen[key] = value
		return true
	})

	assert.Equal(t, map[string]int{"a": 1, "b": 2}, seen)
}

func TestTTLMapConcurrent(t *testing.T) {
	ttl := 100 * time.Millisecond
	m := utils.NewTTLMap[string, int](ttl)

	// Test concurrent access
	t.Run("concurrent access", func(t *testing.T) {
		done := make(chan bool)
		go func() {
			for i := 0; i < 100; i++ {
				m.Set("key", i)
			}
			done <- true
		}()

		go func() {
			for i := 0; i < 100; i++ {
				m.Get("key")
			}
			done <- true
		}()

		// Wait for both goroutines to finish
		<-done
		<-done
	})
}
