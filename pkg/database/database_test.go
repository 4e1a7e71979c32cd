package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/medflow/medtrack/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn", Pool{}, logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql")
}

func TestOpenSQLite_MigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(":memory:", logger.Nop())
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.IsSQLite())
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)

	migrations := []Migration{
		{Version: 1, Name: "lots", SQL: `CREATE TABLE lots (id TEXT PRIMARY KEY, quantity INTEGER NOT NULL)`},
		{Version: 2, Name: "seed", SQL: `INSERT INTO lots (id, quantity) VALUES ('L1', 5)`},
	}
	require.NoError(t, db.Migrate(ctx, migrations))
	require.NoError(t, db.Migrate(ctx, migrations), "applied versions are skipped")

	var count int
	require.NoError(t, db.GetContext(ctx, &count, `SELECT COUNT(*) FROM lots`))
	assert.Equal(t, 1, count)

	var versions []int
	require.NoError(t, db.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations ORDER BY version`))
	assert.Equal(t, []int{1, 2}, versions)

	health := db.Health(ctx)
	assert.Equal(t, "up", health["status"])
	assert.Equal(t, DriverSQLite, health["driver"])
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(":memory:", logger.Nop())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `CREATE TABLE lots (id TEXT PRIMARY KEY, quantity INTEGER NOT NULL)`)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO lots (id, quantity) VALUES ('L1', 5)`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.GetContext(ctx, &count, `SELECT COUNT(*) FROM lots`))
	assert.Zero(t, count)
}

func TestTransaction_CommitsOnPostgres(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := Wrap(sqlx.NewDb(raw, DriverPostgres), nil)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE inventory_lots").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = db.Transaction(context.Background(), func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`UPDATE inventory_lots SET quantity = quantity - 1 WHERE id = $1`, "L1")
		return err
	})
	require.NoError(t, err)
	assert.False(t, db.IsSQLite())
	assert.NoError(t, mock.ExpectationsWereMet())
}
