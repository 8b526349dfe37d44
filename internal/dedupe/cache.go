// ABOUTME: TTL cache that suppresses duplicate chat submissions from flaky widgets
// ABOUTME: Keys are session+body fingerprints; size-bounded with O(1) eviction

package dedupe

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// entry tracks when a fingerprint was last seen and where it sits in the
// eviction order.
type entry struct {
	seenAt time.Time
	elem   *list.Element
}

// Cache remembers recently seen chat submissions so a retried POST (double
// click, widget reconnect) does not reach the agent twice.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // fingerprints oldest-first
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache. Expired fingerprints are swept by a background
// goroutine until Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Fingerprint derives the dedupe key for a chat submission.
func Fingerprint(sessionKey, body string) string {
	sum := sha256.Sum256([]byte(sessionKey + "\x00" + body))
	return hex.EncodeToString(sum[:])
}

// IsDuplicate atomically checks whether the submission was seen within the
// TTL and marks it seen if not. Returns true for duplicates.
func (c *Cache) IsDuplicate(sessionKey, body string) bool {
	key := Fingerprint(sessionKey, body)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && time.Since(e.seenAt) < c.ttl {
		return true
	}
	c.markLocked(key)
	return false
}

// Forget drops a fingerprint so the submission can be retried. Used when
// the agent call behind a marked submission fails.
func (c *Cache) Forget(sessionKey, body string) {
	key := Fingerprint(sessionKey, body)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.order.Remove(e.elem)
		delete(c.entries, key)
	}
}

// markLocked records a fingerprint, evicting the oldest entry at capacity.
// Must be called with mu held.
func (c *Cache) markLocked(key string) {
	now := time.Now()
	if e, ok := c.entries[key]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.entries, oldest)
		}
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &entry{seenAt: now, elem: elem}
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.Sub(e.seenAt) > c.ttl {
			c.order.Remove(e.elem)
			delete(c.entries, key)
		}
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
