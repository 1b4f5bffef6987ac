// Package sqlsync is the SQL backend for datasync. Loads claim the backend
// row through the is_saved handshake before reading it.
package sqlsync

import (
	"github.com/dmitrijs2005/playersync/internal/datasync"
	"github.com/google/uuid"
)

// Column names every table used by this backend must have.
const (
	ColumnUUID  = "uuid"
	ColumnSaved = "is_saved"
)

// Codec maps one holder kind onto its table.
type Codec[H datasync.Holder[O], O any] interface {
	Table() string
	// Load fills h from a claimed row.
	Load(h H, row Row) error
	// LoadEmpty initializes h for an identity that has no row yet.
	LoadEmpty(h H) error
	// Columns returns the payload columns to persist. uuid and is_saved are
	// managed by the backend and ignored when present.
	Columns(h H) map[string]any
	// Offline builds a snapshot from row, or a default one when row is nil.
	Offline(id uuid.UUID, row Row) O
}
