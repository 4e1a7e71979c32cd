package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/medflow/medtrack/pkg/config"
	"github.com/medflow/medtrack/pkg/logger"
	_ "modernc.org/sqlite"
)

// Drivers accepted by Open. The pharmacy service runs on Postgres, the sync
// agent keeps its offline store in SQLite.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Pool sizes a connection pool. Zero fields keep the database/sql defaults.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB is a sqlx handle that knows which driver it talks to.
type DB struct {
	*sqlx.DB
	logger *logger.Logger
}

// Open connects to dsn with driver and sizes the pool. SQLite is always
// held to a single connection: it allows one writer, and a :memory:
// database lives only as long as its connection.
func Open(driver, dsn string, pool Pool, log *logger.Logger) (*DB, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if driver == DriverSQLite {
		pool = Pool{MaxOpenConns: 1}
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	return Wrap(db, log), nil
}

// New opens the pharmacy Postgres database described by cfg.
func New(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	return Open(DriverPostgres, cfg.DSN(), Pool{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, log)
}

// OpenSQLite opens, creating if needed, the SQLite file at path. Use
// ":memory:" for a throwaway database.
func OpenSQLite(path string, log *logger.Logger) (*DB, error) {
	return Open(DriverSQLite, path, Pool{}, log)
}

// Wrap adopts an already opened handle, e.g. one backed by sqlmock.
func Wrap(db *sqlx.DB, log *logger.Logger) *DB {
	if log == nil {
		log = logger.Nop()
	}
	return &DB{DB: db, logger: log.WithComponent("database")}
}

// IsSQLite reports whether the handle talks to SQLite.
func (db *DB) IsSQLite() bool {
	return db.DriverName() == DriverSQLite
}

// Health pings with a one second budget.
func (db *DB) Health(ctx context.Context) map[string]string {
	status := map[string]string{
		"status": "up",
		"driver": db.DriverName(),
	}

	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}

	return status
}

// Transaction runs fn in a transaction, rolling back when fn fails.
func (db *DB) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Str("driver", db.DriverName()).Msg("failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
