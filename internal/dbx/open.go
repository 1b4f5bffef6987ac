package dbx

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DriverName is the database/sql driver registered for d.
func (d Dialect) DriverName() string {
	switch d {
	case SQLite:
		return "sqlite"
	default:
		return "pgx"
	}
}

// GooseDialect is the dialect name understood by goose.
func (d Dialect) GooseDialect() string {
	switch d {
	case SQLite:
		return "sqlite3"
	default:
		return "postgres"
	}
}

func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case Postgres, SQLite:
		return Dialect(s), nil
	}
	return "", fmt.Errorf("unknown sql dialect %q", s)
}

// PoolOptions configures the shared connection pool.
type PoolOptions struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	// ConnectTimeout bounds the initial ping.
	ConnectTimeout time.Duration
}

// Open opens a pool for d and verifies it with a ping.
func Open(ctx context.Context, d Dialect, dsn string, o PoolOptions) (*sql.DB, error) {
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if o.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.MaxOpenConns)
		db.SetMaxIdleConns(o.MaxOpenConns)
	}
	if o.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(o.ConnMaxLifetime)
	}

	pctx := ctx
	if o.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, o.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}
