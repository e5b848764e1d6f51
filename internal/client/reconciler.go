// Package client implements the connecting side: the request/response
// channel, the push channel listener, and the reconciler that folds server
// state into the local cache and the pending-conflict queue.
package client

import (
	"sync"

	"github.com/evolvlabs/viewmymeetings/internal/meeting"
)

// Cache is the client's local view: the meetings it knows about plus the
// queue of conflict-causing meetings awaiting user attention. Safe for
// concurrent use; the push listener and the caller's goroutine both touch it.
type Cache struct {
	mu       sync.Mutex
	meetings []meeting.Meeting
	pending  []meeting.Meeting
}

// NewCache returns a cache seeded with the given meetings.
func NewCache(meetings []meeting.Meeting) *Cache {
	return &Cache{meetings: meeting.CloneAll(meetings)}
}

// UpsertAll folds a full listing into the cache: entries sharing an
// (organizer, topic, place) identity are replaced, the rest are appended.
func (c *Cache) UpsertAll(meetings []meeting.Meeting) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range meetings {
		c.upsertLocked(m)
	}
}

// Append adds a meeting the server just acknowledged creating.
func (c *Cache) Append(m meeting.Meeting) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meetings = append(c.meetings, m.Clone())
}

// ReplaceUpdated swaps every cache and queue entry matching the updated
// meeting's (organizer, topic) identity for the new version.
func (c *Cache) ReplaceUpdated(updated meeting.Meeting) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := updated.DeletionKey()
	for i, m := range c.meetings {
		if m.DeletionKey() == key {
			c.meetings[i] = updated.Clone()
		}
	}
	for i, m := range c.pending {
		if m.DeletionKey() == key {
			c.pending[i] = updated.Clone()
		}
	}
}

// Remove drops the cache entry matching the (organizer, topic) identity.
func (c *Cache) Remove(key meeting.DeletionKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meetings = dropByDeletionKey(c.meetings, key)
}

// ApplyConflict queues the causing meeting unless an identical entry is
// already pending. It reports whether the queue changed.
func (c *Cache) ApplyConflict(causing meeting.Meeting) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.pending {
		if m.Equal(causing) {
			return false
		}
	}
	c.pending = append(c.pending, causing.Clone())
	return true
}

// ApplyResolution drops queue entries matching the resolved meeting's
// (organizer, topic) identity.
func (c *Cache) ApplyResolution(key meeting.DeletionKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = dropByDeletionKey(c.pending, key)
}

// ApplyDeletion drops both the queue entries and the cache entry matching
// the deleted meeting's (organizer, topic) identity.
func (c *Cache) ApplyDeletion(key meeting.DeletionKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = dropByDeletionKey(c.pending, key)
	c.meetings = dropByDeletionKey(c.meetings, key)
}

// Meetings returns a copy of the cached meetings.
func (c *Cache) Meetings() []meeting.Meeting {
	c.mu.Lock()
	defer c.mu.Unlock()
	return meeting.CloneAll(c.meetings)
}

// Pending returns a copy of the pending-conflict queue.
func (c *Cache) Pending() []meeting.Meeting {
	c.mu.Lock()
	defer c.mu.Unlock()
	return meeting.CloneAll(c.pending)
}

func (c *Cache) upsertLocked(m meeting.Meeting) {
	key := m.Key()
	for i, existing := range c.meetings {
		if existing.Key() == key {
			c.meetings[i] = m.Clone()
			return
		}
	}
	c.meetings = append(c.meetings, m.Clone())
}

func dropByDeletionKey(meetings []meeting.Meeting, key meeting.DeletionKey) []meeting.Meeting {
	kept := meetings[:0]
	for _, m := range meetings {
		if m.DeletionKey() == key {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}
