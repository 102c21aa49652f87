package cache

import (
	"fmt"
	"github.com/hashicorp/golang-lru/simplelru"
)

// LRU is a fixed capacity least recently used map from K to reusable slots of V.
// Slots evicted or invalidated are recycled by later misses, so a warm LRU does not allocate.
//
// LRU is not safe for concurrent use, every tier guards its LRU with its own lock.
type LRU[K comparable, V any] struct {
	lru     *simplelru.LRU
	free    []*V
	newSlot func() *V
}

// NewLRU creates an LRU holding at most capacity slots. newSlot allocates a slot on a miss
// when no recycled slot is available.
func NewLRU[K comparable, V any](capacity int, newSlot func() *V) (*LRU[K, V], error) {
	l := &LRU[K, V]{newSlot: newSlot}

	lru, err := simplelru.NewLRU(capacity, func(_ interface{}, value interface{}) {
		l.free = append(l.free, value.(*V))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lru of capacity %d: %w", capacity, err)
	}
	l.lru = lru
	return l, nil
}

// Request looks key up and marks it most recently used.
// On a hit it returns true and the resident slot. On a miss the least recently used entry
// is evicted if the LRU is full, and a slot is inserted under key and returned for filling.
func (l *LRU[K, V]) Request(key K) (bool, *V) {
	if value, ok := l.lru.Get(key); ok {
		return true, value.(*V)
	}

	var slot *V
	if n := len(l.free); n > 0 {
		slot = l.free[n-1]
		l.free = l.free[:n-1]
	} else {
		slot = l.newSlot()
	}
	l.lru.Add(key, slot)
	return false, slot
}

// Contains reports whether key is resident without touching its recency
func (l *LRU[K, V]) Contains(key K) bool {
	return l.lru.Contains(key)
}

// Invalidate drops key, its slot is recycled
func (l *LRU[K, V]) Invalidate(key K) {
	l.lru.Remove(key)
}

// Clear drops all entries, their slots are kept for recycling
func (l *LRU[K, V]) Clear() {
	l.lru.Purge()
}

// Reset drops all entries and releases every recycled slot
func (l *LRU[K, V]) Reset() {
	l.lru.Purge()
	l.free = nil
}

// FreeSlots returns the number of slots waiting for reuse
func (l *LRU[K, V]) FreeSlots() int {
	return len(l.free)
}

// Len returns the number of resident entries
func (l *LRU[K, V]) Len() int {
	return l.lru.Len()
}
