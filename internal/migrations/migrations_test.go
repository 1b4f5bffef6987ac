package migrations

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestUp_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite", "file:migrations_up?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, Up(ctx, db, "sqlite3"))
	// applying twice is a no-op
	require.NoError(t, Up(ctx, db, "sqlite3"))

	_, err = db.ExecContext(ctx, `INSERT INTO player_data (uuid, is_saved) VALUES ('u-1', 0)`)
	require.NoError(t, err)

	var level, saved int
	var attrs string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT level, is_saved, attributes FROM player_data WHERE uuid = 'u-1'`).Scan(&level, &saved, &attrs))
	require.Equal(t, 1, level)
	require.Equal(t, 0, saved)
	require.Equal(t, "{}", attrs)
}

func TestUp_UnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite", "file:migrations_bad?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.Error(t, Up(context.Background(), db, "nosuchdb"))
}
