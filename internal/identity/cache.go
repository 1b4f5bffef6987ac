// Package identity tracks the presence of entities (players) across
// connect/disconnect cycles.
//
// The Cache keeps one Record per identity for as long as the entity is online
// and for a grace period (24h by default) after it goes offline, so that
// other subsystems can still reach its external attachments. Records are
// evicted by SweepExpired, usually driven by StartSweeper.
package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/playersync/internal/common"
	"github.com/google/uuid"
)

// DefaultTTL is how long an offline record is kept before it may be swept.
const DefaultTTL = 24 * time.Hour

// Cache maps identities to presence records.
type Cache struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record

	ttl time.Duration
	now func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the offline retention period.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates an empty presence cache.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		records: make(map[uuid.UUID]*Record),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AttachSession marks the identity online with the given live session (which
// may be nil when the presence source has no session object),
// creating its record on first sight. Calling it again simply refreshes the
// session and the activity timestamp.
func (c *Cache) AttachSession(id uuid.UUID, session any) *Record {
	c.mu.Lock()
	r, ok := c.records[id]
	if !ok {
		r = newRecord(id)
		c.records[id] = r
	}
	c.mu.Unlock()

	r.update(true, session, c.now())
	return r
}

// DetachSession marks the identity offline. Unknown identities are ignored.
func (c *Cache) DetachSession(id uuid.UUID) {
	r := c.GetOrNil(id)
	if r == nil {
		return
	}
	r.update(false, nil, c.now())
}

// Get returns the record for id, or an error wrapping common.ErrorNotFound.
// Callers must not probe presence of identities that were never registered.
func (c *Cache) Get(id uuid.UUID) (*Record, error) {
	r := c.GetOrNil(id)
	if r == nil {
		return nil, fmt.Errorf("presence record %s: %w", id, common.ErrorNotFound)
	}
	return r, nil
}

// GetOrNil returns the record for id, or nil.
func (c *Cache) GetOrNil(id uuid.UUID) *Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records[id]
}

// Has reports whether a record exists for id.
func (c *Cache) Has(id uuid.UUID) bool {
	return c.GetOrNil(id) != nil
}

// Len returns the number of records, online or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// ForEachOnline calls fn for every record online at the time of the call.
// fn runs on a snapshot, outside the cache lock.
func (c *Cache) ForEachOnline(fn func(*Record)) {
	for _, r := range c.snapshot() {
		if r.Online() {
			fn(r)
		}
	}
}

// SweepExpired removes every record that is offline and idle for longer than
// the TTL, and returns how many were removed. Candidates are collected under
// the read lock; the write lock is held only for the deletions.
func (c *Cache) SweepExpired() int {
	now := c.now()

	var expired []*Record
	for _, r := range c.snapshot() {
		if r.expired(now, c.ttl) {
			expired = append(expired, r)
		}
	}
	if len(expired) == 0 {
		return 0
	}

	removed := 0
	c.mu.Lock()
	for _, r := range expired {
		// the identity may have come back online since the scan
		if c.records[r.id] == r && r.expired(now, c.ttl) {
			delete(c.records, r.id)
			removed++
		}
	}
	c.mu.Unlock()
	return removed
}

// StartSweeper runs SweepExpired every interval until Close is called.
func (c *Cache) StartSweeper(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.SweepExpired()
			}
		}
	}()
}

// Close stops the sweeper and waits for it to exit. It is safe to call Close
// even if StartSweeper was never called.
func (c *Cache) Close() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	return nil
}

func (c *Cache) snapshot() []*Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Record, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	return out
}
