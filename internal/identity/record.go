package identity

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is the presence record of one identity. It is shared by every
// subsystem that needs to know whether the entity is online, and carries a
// bag of opaque attachments other subsystems may park data in while the
// entity is offline.
type Record struct {
	id uuid.UUID

	mu           sync.RWMutex
	online       bool
	session      any
	lastActivity time.Time
	external     map[string]any
}

func newRecord(id uuid.UUID) *Record {
	return &Record{
		id:       id,
		external: make(map[string]any),
	}
}

// ID returns the identity this record describes.
func (r *Record) ID() uuid.UUID {
	return r.id
}

// Online reports whether the identity is currently online.
func (r *Record) Online() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.online
}

// Session returns the live session reference, or nil when offline.
func (r *Record) Session() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session
}

// LastActivity is the last time the identity went online or offline.
func (r *Record) LastActivity() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActivity
}

// External returns the attachment stored under key.
func (r *Record) External(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.external[key]
	return v, ok
}

// SetExternal stores an attachment under key, replacing any previous value.
func (r *Record) SetExternal(key string, v any) {
	r.mu.Lock()
	r.external[key] = v
	r.mu.Unlock()
}

// HasExternal reports whether an attachment is stored under key.
func (r *Record) HasExternal(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.external[key]
	return ok
}

func (r *Record) update(online bool, session any, now time.Time) {
	r.mu.Lock()
	r.online = online
	r.session = session
	r.lastActivity = now
	r.mu.Unlock()
}

// expired reports whether the record is offline and idle for longer than ttl.
func (r *Record) expired(now time.Time, ttl time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.online && now.Sub(r.lastActivity) > ttl
}

// SessionAs returns the live session typed as T.
func SessionAs[T any](r *Record) (T, bool) {
	v, ok := r.Session().(T)
	return v, ok
}

// ExternalAs returns the attachment stored under key typed as T.
func ExternalAs[T any](r *Record, key string) (T, bool) {
	var zero T
	v, ok := r.External(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
