package utils

import (
	"sync"
	"time"
)

// WindowCounter counts events inside a sliding decay window.
// Entries silently expire once they fall outside the window, so a read
// after the window has passed always returns zero.
type WindowCounter struct {
	mu      sync.Mutex
	window  time.Duration
	entries []windowEntry
}

type windowEntry struct {
	at    time.Time
	count int
}

// NewWindowCounter creates a counter with the given decay window.
func NewWindowCounter(window time.Duration) *WindowCounter {
	return &WindowCounter{window: window}
}

// Add records count occurrences at the current time.
func (w *WindowCounter) Add(count int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(time.Now())
	w.entries = append(w.entries, windowEntry{at: time.Now(), count: count})
}

// Total returns the number of occurrences still inside the window.
func (w *WindowCounter) Total() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(time.Now())

	total := 0
	for _, e := range w.entries {
		total += e.count
	}

	return total
}

// Sweep drops expired entries and reports whether the counter is empty.
func (w *WindowCounter) Sweep() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(time.Now())

	return len(w.entries) == 0
}

// prune removes entries older than the window. Caller holds the lock.
func (w *WindowCounter) prune(now time.Time) {
	cutoff := now.Add(-w.window)

	idx := 0
	for idx < len(w.entries) && w.entries[idx].at.Before(cutoff) {
		idx++
	}

	if idx > 0 {
		w.entries = append(w.entries[:0], w.entries[idx:]...)
	}
}
