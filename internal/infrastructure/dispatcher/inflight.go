package dispatcher

import (
	"fmt"
	"sync"
)

// InflightTracker counts concurrent dispatches per key, such as a run id
type InflightTracker struct {
	maxPerKey map[string]int // key -> max concurrent dispatches allowed
	current   map[string]int // key -> dispatches in flight
	peak      map[string]int // key -> highest observed concurrency
	mu        sync.Mutex
}

// NewInflightTracker creates a tracker allowing one dispatch per key
func NewInflightTracker() *InflightTracker {
	return &InflightTracker{
		maxPerKey: make(map[string]int),
		current:   make(map[string]int),
		peak:      make(map[string]int),
	}
}

// TryAcquire takes a slot for key and reports whether it was within its limit.
// The slot is counted either way so Release stays balanced.
func (t *InflightTracker) TryAcquire(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	max, exists := t.maxPerKey[key]
	if !exists {
		max = 1
	}

	t.current[key]++
	if t.current[key] > t.peak[key] {
		t.peak[key] = t.current[key]
	}
	return t.current[key] <= max
}

// Release frees a slot for key
func (t *InflightTracker) Release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current[key] > 0 {
		t.current[key]--
	}
}

// Current returns the dispatches in flight for key
func (t *InflightTracker) Current(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.current[key]
}

// Peak returns the highest concurrency ever observed for key
func (t *InflightTracker) Peak(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.peak[key]
}

// MaxPeak returns the highest concurrency observed across keys
func (t *InflightTracker) MaxPeak() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	max := 0
	for _, p := range t.peak {
		if p > max {
			max = p
		}
	}
	return max
}

// SetLimit updates the allowed concurrency for key
func (t *InflightTracker) SetLimit(key string, max int) error {
	if max < 1 {
		return fmt.Errorf("max must be >= 1, got: %d", max)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.maxPerKey[key] = max
	return nil
}
