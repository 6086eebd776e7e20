package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMigrates(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	version, err := SchemaVersion(context.Background(), db)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM registrants`).Scan(&n))
	assert.Zero(t, n)
}

func TestOpenFileUsesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)

	// reopening an up-to-date database is a no-op
	again, err := Open(path)
	require.NoError(t, err)
	again.Close()
}

func TestWithTx(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	insert := func(tx *sql.Tx, name string) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO registrants (name, is_group, created_at, updated_at) VALUES (?, 1, datetime('now'), datetime('now'))`, name)
		return err
	}

	require.NoError(t, WithTx(ctx, db, func(tx *sql.Tx) error {
		return insert(tx, "kept")
	}))

	boom := errors.New("boom")
	err = WithTx(ctx, db, func(tx *sql.Tx) error {
		if err := insert(tx, "rolled back"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var names []string
	rows, err := db.Query(`SELECT name FROM registrants ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	assert.Equal(t, []string{"kept"}, names)
}
