package sqlsync

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/dmitrijs2005/playersync/internal/common"
	"github.com/dmitrijs2005/playersync/internal/datasync"
	"github.com/dmitrijs2005/playersync/internal/dbx"
	"github.com/dmitrijs2005/playersync/internal/logging"
	"github.com/google/uuid"
)

// SetupFunc prepares the schema, typically by running migrations.
type SetupFunc func(ctx context.Context, db *sql.DB) error

// Handler is a datasync.Handler backed by one SQL table. It owns db and
// closes it on Close.
type Handler[H datasync.Holder[O], O any] struct {
	db     *sql.DB
	codec  Codec[H, O]
	sync   *Synchronizer
	sb     sq.StatementBuilderType
	setup  SetupFunc
	logger logging.Logger
}

type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	setup    SetupFunc
	logger   logging.Logger
	syncOpts []SyncOption
}

func WithSetup(fn SetupFunc) HandlerOption {
	return func(c *handlerConfig) { c.setup = fn }
}

func WithLogger(l logging.Logger) HandlerOption {
	return func(c *handlerConfig) { c.logger = l }
}

// WithSyncOptions configures the handler's Synchronizer.
func WithSyncOptions(opts ...SyncOption) HandlerOption {
	return func(c *handlerConfig) { c.syncOpts = append(c.syncOpts, opts...) }
}

func NewHandler[H datasync.Holder[O], O any](db *sql.DB, dialect dbx.Dialect, codec Codec[H, O], opts ...HandlerOption) *Handler[H, O] {
	c := handlerConfig{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}

	logger := c.logger.With("module", "sqlsync", "table", codec.Table())
	return &Handler[H, O]{
		db:     db,
		codec:  codec,
		sb:     statementBuilder(dialect),
		setup:  c.setup,
		logger: logger,
		sync:   NewSynchronizer(db, dialect, codec.Table(), append([]SyncOption{WithSyncLogger(c.logger)}, c.syncOpts...)...),
	}
}

func (h *Handler[H, O]) Synchronizer() *Synchronizer {
	return h.sync
}

// Setup verifies the connection and runs the setup hook.
func (h *Handler[H, O]) Setup(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", common.ErrBackendUnavailable, err)
	}
	if h.setup != nil {
		if err := h.setup(ctx, h.db); err != nil {
			return fmt.Errorf("schema setup: %w", err)
		}
	}
	return nil
}

// Load claims the holder's row and fills the holder from it.
func (h *Handler[H, O]) Load(ctx context.Context, holder H) error {
	row, err := h.sync.Synchronize(ctx, holder.Record())
	if err != nil {
		return err
	}

	if row == nil {
		err = h.codec.LoadEmpty(holder)
	} else {
		err = h.codec.Load(holder, row)
	}
	if err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

// Save upserts the holder's columns. An autosave keeps is_saved at 0 because
// the process still owns the row; a final save sets it to 1 to release it.
func (h *Handler[H, O]) Save(ctx context.Context, holder H, autosave bool) error {
	saved := 1
	if autosave {
		saved = 0
	}

	query, args, err := h.upsert(holder.ID(), h.codec.Columns(holder), saved)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, h.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrBackendUnavailable, err)
	}
	return nil
}

// Offline reads the row without claiming it. Any failure is logged and
// produces the default snapshot.
func (h *Handler[H, O]) Offline(ctx context.Context, id uuid.UUID) O {
	row, found, err := selectRow(ctx, h.db, h.sb, h.codec.Table(), id)
	if err != nil {
		h.logger.Error(ctx, "offline read failed", "uuid", id, "op", "offline", "error", err)
		return h.codec.Offline(id, nil)
	}
	if !found {
		return h.codec.Offline(id, nil)
	}
	return h.codec.Offline(id, row)
}

func (h *Handler[H, O]) Close() error {
	return h.db.Close()
}

func (h *Handler[H, O]) upsert(id uuid.UUID, cols map[string]any, saved int) (string, []any, error) {
	names := make([]string, 0, len(cols)+1)
	for c := range cols {
		if c == ColumnUUID || c == ColumnSaved {
			continue
		}
		names = append(names, c)
	}
	slices.Sort(names)
	names = append(names, ColumnSaved)

	values := make([]any, 0, len(names)+1)
	values = append(values, id.String())
	set := make([]string, 0, len(names))
	for _, c := range names {
		if c == ColumnSaved {
			values = append(values, saved)
		} else {
			values = append(values, cols[c])
		}
		set = append(set, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	return h.sb.Insert(h.codec.Table()).
		Columns(append([]string{ColumnUUID}, names...)...).
		Values(values...).
		Suffix(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", ColumnUUID, strings.Join(set, ", "))).
		ToSql()
}
