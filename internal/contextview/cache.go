// Package contextview serves the 360° read endpoints: one call returns an
// entity plus everything an agent needs to decide its next action. Responses
// are cached in TTL buckets keyed by tenant and path, with ETag revalidation.
package contextview

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strings"
	"sync"
	"time"
)

// Bucket TTLs per view. Money views stay short; slower-moving views ride
// longer buckets. The full account view embeds live balances, so it rides
// the balances bucket rather than the metadata one.
var viewTTL = map[string]time.Duration{
	"account_metadata": 5 * time.Minute,
	"activity_stats":   time.Hour,
	"balances":         30 * time.Second,
	"account":          30 * time.Second,
	"transfer":         2 * time.Minute,
	"agent":            2 * time.Minute,
	"batch":            2 * time.Minute,
	"capabilities":     time.Hour,
}

// DefaultTTL applies to views without an explicit bucket.
const DefaultTTL = 2 * time.Minute

const sweepInterval = 5 * time.Minute

// Entry is one cached rendered response body.
type Entry struct {
	Body     []byte
	ETag     string
	StoredAt time.Time
	TTL      time.Duration
}

// Age returns whole seconds since the entry was stored.
func (e *Entry) Age(now time.Time) int {
	return int(now.Sub(e.StoredAt) / time.Second)
}

// Expired reports whether the entry is past its bucket TTL.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) >= e.TTL
}

// Cache is the in-process response cache. Invalidation is prefix-based so a
// write to an account can drop every view that mentions it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	logger  *log.Logger
	now     func() time.Time
	stop    chan struct{}
}

// NewCache builds the cache and starts its background sweeper.
func NewCache() *Cache {
	c := &Cache{
		entries: map[string]*Entry{},
		logger:  log.New(log.Writer(), "[CTXCACHE] ", log.LstdFlags),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// TTLFor resolves the bucket TTL for a view name.
func TTLFor(view string) time.Duration {
	if ttl, ok := viewTTL[view]; ok {
		return ttl
	}
	return DefaultTTL
}

// Get returns a live entry, ok=false on miss or expiry.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || e.Expired(c.now()) {
		return nil, false
	}
	return e, true
}

// Put stores a rendered body under its bucket TTL.
func (c *Cache) Put(key string, body []byte, ttl time.Duration) *Entry {
	e := &Entry{
		Body:     body,
		ETag:     WeakETag(body),
		StoredAt: c.now(),
		TTL:      ttl,
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return e
}

// Invalidate drops one key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidatePattern drops every key containing the fragment. Writes call
// this with an entity id so all views that embed it re-render.
func (c *Cache) InvalidatePattern(fragment string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if fragment != "" && strings.Contains(k, fragment) {
			delete(c.entries, k)
			n++
		}
	}
	if n > 0 {
		c.logger.Printf("invalidated %d entries matching %q", n, fragment)
	}
	return n
}

// Len returns the live entry count. Used by metrics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the sweeper.
func (c *Cache) Close() {
	close(c.stop)
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			removed := 0
			for k, e := range c.entries {
				if e.Expired(now) {
					delete(c.entries, k)
					removed++
				}
			}
			live := len(c.entries)
			c.mu.Unlock()
			if removed > 0 {
				c.logger.Printf("swept %d expired entries, %d live", removed, live)
			}
		}
	}
}

// WeakETag derives the weak validator for a rendered body.
func WeakETag(body []byte) string {
	sum := sha256.Sum256(body)
	return `W/"` + hex.EncodeToString(sum[:8]) + `"`
}
