package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/loom/internal/config"
)

func TestOpen_RunsMigrations(t *testing.T) {
	db, err := Open(&config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "nested", "loom.db"),
		WALMode:     true,
		ForeignKeys: true,
		BusyTimeout: time.Second,
	})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping(context.Background()))

	for _, table := range []string{"schedules", "executions", "checkpoints"} {
		var name string
		err := db.QueryRow(
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}
}

func TestOpen_WALMode(t *testing.T) {
	db, err := Open(&config.DatabaseConfig{
		Path:    filepath.Join(t.TempDir(), "loom.db"),
		WALMode: true,
	})
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)
}

func TestOpen_ForeignKeysOnEveryConnection(t *testing.T) {
	// MaxIdleConns 0 forces a fresh pooled connection per statement, so
	// enforcement here proves the pragma is not stuck on one connection.
	db, err := Open(&config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "loom.db"),
		ForeignKeys: true,
		BusyTimeout: time.Second,
	})
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 3; i++ {
		_, err := db.Exec(
			`INSERT INTO checkpoints (id, execution_id, seq, reason, snapshot, created_at)
			 VALUES ('cp', 'no-such-execution', 1, 'interval', ?, '2026-01-01T00:00:00Z')`,
			[]byte{},
		)
		require.ErrorContains(t, err, "FOREIGN KEY")
	}
}

func TestClose_Idempotent(t *testing.T) {
	db, err := Open(&config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "loom.db"),
	})
	require.NoError(t, err)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}
