// Package filesync is the local file backend for datasync: one YAML document
// per identity under a data directory.
package filesync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/playersync/internal/common"
	"github.com/dmitrijs2005/playersync/internal/datasync"
	"github.com/dmitrijs2005/playersync/internal/filex"
	"github.com/dmitrijs2005/playersync/internal/logging"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	Ext = ".yml"

	lockRetry = 20 * time.Millisecond
)

// Handler stores documents of type D at <dir>/<uuid>.yml. Each document is
// guarded by an advisory lock file next to it, and written through a
// temporary file so readers never observe a partial document.
type Handler[H datasync.Holder[O], O any, D any] struct {
	dir    string
	codec  datasync.DocumentCodec[H, O, D]
	logger logging.Logger
}

func NewHandler[H datasync.Holder[O], O any, D any](dir string, codec datasync.DocumentCodec[H, O, D], l logging.Logger) *Handler[H, O, D] {
	if l == nil {
		l = logging.NewNop()
	}
	return &Handler[H, O, D]{
		dir:    dir,
		codec:  codec,
		logger: l.With("module", "filesync", "dir", dir),
	}
}

// Path is the document path of id.
func (h *Handler[H, O, D]) Path(id uuid.UUID) string {
	return filepath.Join(h.dir, id.String()+Ext)
}

func (h *Handler[H, O, D]) Setup(ctx context.Context) error {
	abs, err := filex.EnsureDir(h.dir)
	if err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	h.logger.Debug(ctx, "data dir ready", "path", abs)
	return nil
}

func (h *Handler[H, O, D]) Load(ctx context.Context, holder H) error {
	doc, err := h.read(ctx, holder.ID())
	if err != nil {
		return err
	}
	if err := h.codec.Apply(holder, doc); err != nil {
		return fmt.Errorf("apply document: %w", err)
	}
	return nil
}

// Save writes the holder's document. The autosave flag does not matter to a
// single-writer store.
func (h *Handler[H, O, D]) Save(ctx context.Context, holder H, _ bool) error {
	id := holder.ID()
	b, err := yaml.Marshal(h.codec.Document(holder))
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	lock := flock.New(h.Path(id) + ".lock")
	if _, err := lock.TryLockContext(ctx, lockRetry); err != nil {
		return fmt.Errorf("%w: lock %s: %w", common.ErrBackendUnavailable, id, err)
	}
	defer lock.Unlock()

	if err := filex.WriteAtomic(h.Path(id), b); err != nil {
		return fmt.Errorf("%w: %w", common.ErrBackendUnavailable, err)
	}
	return nil
}

// Offline reads the document of id. Missing or unreadable documents produce
// the default snapshot.
func (h *Handler[H, O, D]) Offline(ctx context.Context, id uuid.UUID) O {
	doc, err := h.read(ctx, id)
	if err != nil {
		h.logger.Error(ctx, "offline read failed", "uuid", id, "op", "offline", "error", err)
		return h.codec.Snapshot(id, nil)
	}
	return h.codec.Snapshot(id, doc)
}

func (h *Handler[H, O, D]) Close() error {
	return nil
}

// read returns nil when id has no document yet.
func (h *Handler[H, O, D]) read(ctx context.Context, id uuid.UUID) (*D, error) {
	lock := flock.New(h.Path(id) + ".lock")
	if _, err := lock.TryRLockContext(ctx, lockRetry); err != nil {
		return nil, fmt.Errorf("%w: lock %s: %w", common.ErrBackendUnavailable, id, err)
	}
	defer lock.Unlock()

	b, err := os.ReadFile(h.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", common.ErrBackendUnavailable, id, err)
	}

	var doc D
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &doc, nil
}
