// Package cache keeps a bounded, per-session list of assembled messages for
// read-through history queries.
package cache

import (
	"sync"

	"github.com/sessiontail/sessiontail/pkg/types"
)

// DefaultCapacity bounds each session's entry when no capacity is
// configured.
const DefaultCapacity = 200

// Cache stores ordered messages per session key. Reads are safe across
// sessions concurrently; a single session's entry has one writer (the
// session's processing sequence).
type Cache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string][]*types.AssembledMessage
}

// New creates a cache with the given per-session capacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string][]*types.AssembledMessage),
	}
}

// Append adds messages to a session's tail, dropping the oldest entries once
// the capacity is exceeded. A message whose ID is already cached replaces the
// existing element in place, so a turn finalized after its streaming snapshot
// was stored still occupies a single slot.
func (c *Cache) Append(key string, messages []*types.AssembledMessage) {
	if len(messages) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.entries[key]
	for _, msg := range messages {
		replaced := false
		for i, existing := range entry {
			if existing.ID == msg.ID {
				entry[i] = msg
				replaced = true
				break
			}
		}
		if !replaced {
			entry = append(entry, msg)
		}
	}
	if over := len(entry) - c.capacity; over > 0 {
		entry = append([]*types.AssembledMessage(nil), entry[over:]...)
	}
	c.entries[key] = entry
}

// Replace swaps a session's entry for a freshly loaded history, keeping the
// most recent messages up to capacity.
func (c *Cache) Replace(key string, messages []*types.AssembledMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if over := len(messages) - c.capacity; over > 0 {
		messages = messages[over:]
	}
	c.entries[key] = append([]*types.AssembledMessage(nil), messages...)
}

// Get returns a session's messages in order. limit > 0 truncates to the most
// recent limit messages. The second result reports whether the session has
// an entry at all.
func (c *Cache) Get(key string, limit int) ([]*types.AssembledMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if limit > 0 && len(entry) > limit {
		entry = entry[len(entry)-limit:]
	}
	out := make([]*types.AssembledMessage, len(entry))
	copy(out, entry)
	return out, true
}

// Len returns the number of cached messages for a session.
func (c *Cache) Len(key string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return len(entry), ok
}

// Clear removes a session's entry entirely.
func (c *Cache) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
