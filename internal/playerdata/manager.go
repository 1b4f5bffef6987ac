package playerdata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/playersync/internal/datasync"
	"github.com/dmitrijs2005/playersync/internal/datasync/filesync"
	"github.com/dmitrijs2005/playersync/internal/datasync/objectsync"
	"github.com/dmitrijs2005/playersync/internal/datasync/sqlsync"
	"github.com/dmitrijs2005/playersync/internal/dbx"
	"github.com/dmitrijs2005/playersync/internal/identity"
	"github.com/dmitrijs2005/playersync/internal/logging"
	"github.com/dmitrijs2005/playersync/internal/metrics"
	"github.com/dmitrijs2005/playersync/internal/migrations"
)

type Manager = datasync.Manager[*PlayerData, Offline]

type Handler = datasync.Handler[*PlayerData, Offline]

// Backend selects where player data lives.
type Backend string

const (
	BackendSQL    Backend = "sql"
	BackendFile   Backend = "file"
	BackendObject Backend = "object"
)

// SQLOptions configures the SQL backend. DB is owned by the handler.
type SQLOptions struct {
	DB        *sql.DB
	Dialect   dbx.Dialect
	SyncOpts  []sqlsync.SyncOption
	SkipSetup bool
}

// ObjectOptions configures the object storage backend.
type ObjectOptions struct {
	Client objectsync.ObjectAPI
	Bucket string
	Prefix string
}

// NewSQLHandler returns a handler on Table that migrates the schema on setup.
func NewSQLHandler(o SQLOptions, l logging.Logger, m *metrics.Metrics) *sqlsync.Handler[*PlayerData, Offline] {
	opts := []sqlsync.HandlerOption{
		sqlsync.WithLogger(l),
		sqlsync.WithSyncOptions(append([]sqlsync.SyncOption{sqlsync.WithSyncMetrics(m)}, o.SyncOpts...)...),
	}
	if !o.SkipSetup {
		dialect := o.Dialect.GooseDialect()
		opts = append(opts, sqlsync.WithSetup(func(ctx context.Context, db *sql.DB) error {
			return migrations.Up(ctx, db, dialect)
		}))
	}
	return sqlsync.NewHandler[*PlayerData, Offline](o.DB, o.Dialect, sqlCodec{now: time.Now}, opts...)
}

// NewFileHandler returns a handler storing <dir>/<uuid>.yml documents.
func NewFileHandler(dir string, l logging.Logger) *filesync.Handler[*PlayerData, Offline, Document] {
	return filesync.NewHandler[*PlayerData, Offline, Document](dir, docCodec{}, l)
}

// NewObjectHandler returns a handler storing <prefix>/<uuid>.yml objects.
func NewObjectHandler(o ObjectOptions, l logging.Logger) *objectsync.Handler[*PlayerData, Offline, Document] {
	return objectsync.NewHandler[*PlayerData, Offline, Document](o.Client, o.Bucket, o.Prefix, docCodec{}, l)
}

// NewManager builds the player data manager on handler.
func NewManager(ctx context.Context, cache *identity.Cache, handler Handler, opts ...datasync.Option) (*Manager, error) {
	m, err := datasync.NewManager[*PlayerData, Offline](ctx, Kind, cache, handler, New, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s manager: %w", Kind, err)
	}
	return m, nil
}
