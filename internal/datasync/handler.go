package datasync

import (
	"context"

	"github.com/google/uuid"
)

// Handler is a persistence backend for holders of type H.
//
// Load and Save block; the Manager runs them on its worker pool. Load fills
// the holder from the backend and returns an error when the holder must stay
// unsynchronized. Offline never fails: a missing or unreadable entry yields a
// default snapshot.
type Handler[H Holder[O], O any] interface {
	Setup(ctx context.Context) error
	Load(ctx context.Context, h H) error
	Save(ctx context.Context, h H, autosave bool) error
	Offline(ctx context.Context, id uuid.UUID) O
	Close() error
}

// DocumentCodec maps holders to a whole-document representation D. It is
// shared by the document based backends.
type DocumentCodec[H Holder[O], O any, D any] interface {
	Document(h H) D
	// Apply fills h from d. A nil d means the identity has no stored data yet.
	Apply(h H, d *D) error
	// Snapshot builds an offline snapshot from d, or a default one when d is nil.
	Snapshot(id uuid.UUID, d *D) O
}
