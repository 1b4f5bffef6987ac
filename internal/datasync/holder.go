// Package datasync keeps per-identity data holders loaded while their owners
// are online and hands them to a pluggable Handler for persistence.
package datasync

import (
	"sync/atomic"

	"github.com/dmitrijs2005/playersync/internal/common"
	"github.com/dmitrijs2005/playersync/internal/identity"
	"github.com/google/uuid"
)

// Holder is the unit of synchronized state managed by a Manager.
// O is the read-only snapshot type the holder projects to.
type Holder[O any] interface {
	ID() uuid.UUID
	Record() *identity.Record
	Synchronized() bool
	// MarkSynchronized flips the holder to synchronized. It succeeds once;
	// later calls return common.ErrDuplicateTransition.
	MarkSynchronized() error
	// Close releases holder-owned resources after the holder is detached.
	Close() error
	Snapshot() O
}

// Base carries the identity reference and the synchronized flag. Concrete
// holders embed *Base and shadow Close when they own resources.
type Base struct {
	record *identity.Record
	synced atomic.Bool
}

func NewBase(r *identity.Record) *Base {
	return &Base{record: r}
}

func (b *Base) ID() uuid.UUID {
	return b.record.ID()
}

func (b *Base) Record() *identity.Record {
	return b.record
}

func (b *Base) Synchronized() bool {
	return b.synced.Load()
}

func (b *Base) MarkSynchronized() error {
	if !b.synced.CompareAndSwap(false, true) {
		return common.ErrDuplicateTransition
	}
	return nil
}

// Close is a no-op.
func (b *Base) Close() error {
	return nil
}
