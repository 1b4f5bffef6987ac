package sqlsync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v5"
	"github.com/dmitrijs2005/playersync/internal/common"
	"github.com/dmitrijs2005/playersync/internal/dbx"
	"github.com/dmitrijs2005/playersync/internal/identity"
	"github.com/dmitrijs2005/playersync/internal/logging"
	"github.com/dmitrijs2005/playersync/internal/metrics"
	"github.com/google/uuid"
)

const (
	// DefaultMaxTries is the number of contended attempts before a row is
	// taken over.
	DefaultMaxTries = 5
	// DefaultInterval is the wait between contended attempts.
	DefaultInterval = 10 * time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Synchronizer claims a backend row before it is loaded.
//
// A row whose is_saved flag is 0 is still owned by a writer that has not
// finished; the synchronizer waits and retries until the flag reads 1 or the
// retry ceiling is exceeded, then confirms reception by resetting the flag to
// 0. Reading the row and confirming it are separate statements, so two
// processes that both observe is_saved = 1 can both claim it.
type Synchronizer struct {
	db         *sql.DB
	table      string
	sb         sq.StatementBuilderType
	maxTries   int
	newBackOff func() backoff.BackOff
	sleep      SleepFunc
	logger     logging.Logger
	metrics    *metrics.Metrics
}

type SyncOption func(*Synchronizer)

func WithMaxTries(n int) SyncOption {
	return func(s *Synchronizer) {
		if n >= 0 {
			s.maxTries = n
		}
	}
}

// WithBackOff sets the policy for the wait between contended attempts. A new
// BackOff is built for every Synchronize call.
func WithBackOff(fn func() backoff.BackOff) SyncOption {
	return func(s *Synchronizer) { s.newBackOff = fn }
}

func WithSleep(fn SleepFunc) SyncOption {
	return func(s *Synchronizer) { s.sleep = fn }
}

func WithSyncLogger(l logging.Logger) SyncOption {
	return func(s *Synchronizer) { s.logger = l }
}

func WithSyncMetrics(m *metrics.Metrics) SyncOption {
	return func(s *Synchronizer) { s.metrics = m }
}

func NewSynchronizer(db *sql.DB, dialect dbx.Dialect, table string, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		db:       db,
		table:    table,
		sb:       statementBuilder(dialect),
		maxTries: DefaultMaxTries,
		newBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(DefaultInterval)
		},
		sleep:  sleepContext,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	s.logger = s.logger.With("module", "synchronizer", "table", table)
	return s
}

// Synchronize claims the row of r's identity and returns its contents, or a
// nil Row when the identity has no row yet (one is created). It fails with
// common.ErrAborted when the identity goes offline before the row is claimed.
func (s *Synchronizer) Synchronize(ctx context.Context, r *identity.Record) (Row, error) {
	id := r.ID()
	start := time.Now()
	b := s.newBackOff()

	for tries := 1; ; tries++ {
		if !r.Online() {
			s.logger.Debug(ctx, "identity went offline, aborting", "uuid", id, "tries", tries)
			return nil, common.ErrAborted
		}
		s.metrics.SyncAttempt(s.table)

		row, claimed, err := s.attempt(ctx, id, tries)
		if err != nil {
			return nil, err
		}
		if claimed {
			s.logger.Debug(ctx, "row claimed", "uuid", id, "tries", tries, "took", time.Since(start))
			return row, nil
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return nil, fmt.Errorf("%w: %s %s", common.ErrContention, s.table, id)
		}
		s.logger.Debug(ctx, "row not released yet, retrying", "uuid", id, "tries", tries, "wait", wait)
		if err := s.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// attempt reads the row and claims it when it is free, absent, or the retry
// ceiling has been exceeded. The connection is held for the attempt only.
func (s *Synchronizer) attempt(ctx context.Context, id uuid.UUID, tries int) (row Row, claimed bool, err error) {
	err = dbx.WithConn(ctx, s.db, func(ctx context.Context, conn dbx.DBTX) error {
		r, found, err := s.selectRow(ctx, conn, id)
		if err != nil {
			return err
		}
		row = r

		switch {
		case !found:
		case row.Int(ColumnSaved) == 1:
		case tries > s.maxTries:
			s.logger.Debug(ctx, "maximum number of tries reached, taking over", "uuid", id, "tries", tries)
			s.metrics.SyncTakeover(s.table)
		default:
			return nil
		}

		if err := s.confirm(ctx, conn, id); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", common.ErrBackendUnavailable, err)
	}
	return row, claimed, nil
}

func (s *Synchronizer) selectRow(ctx context.Context, conn dbx.DBTX, id uuid.UUID) (Row, bool, error) {
	return selectRow(ctx, conn, s.sb, s.table, id)
}

// confirm records reception of the row by resetting is_saved to 0, creating
// the row when needed.
func (s *Synchronizer) confirm(ctx context.Context, conn dbx.DBTX, id uuid.UUID) error {
	query, args, err := s.sb.Insert(s.table).
		Columns(ColumnUUID, ColumnSaved).
		Values(id.String(), 0).
		Suffix(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s = 0", ColumnUUID, ColumnSaved)).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("confirm reception: %w", err)
	}
	return nil
}

func selectRow(ctx context.Context, conn dbx.DBTX, sb sq.StatementBuilderType, table string, id uuid.UUID) (Row, bool, error) {
	query, args, err := sb.Select("*").From(table).Where(sq.Eq{ColumnUUID: id.String()}).ToSql()
	if err != nil {
		return nil, false, err
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("select row: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, fmt.Errorf("select row: %w", err)
		}
		return nil, false, nil
	}

	row, err := scanRow(rows)
	if err != nil {
		return nil, false, fmt.Errorf("scan row: %w", err)
	}
	return row, true, nil
}

func statementBuilder(d dbx.Dialect) sq.StatementBuilderType {
	if d == dbx.Postgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
