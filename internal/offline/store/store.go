// Package store is the device-local offline database: a cache of the
// formulary with last known stock, the queue of dispenses captured while
// disconnected, and a small metadata table.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/pkg/database"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/logger"
)

const metaLastSync = "last_sync"

// Store is the SQLite-backed offline store.
type Store struct {
	db *database.DB
}

// Open opens (creating if needed) the SQLite file at path and applies the
// offline schema. Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string, log *logger.Logger) (*Store, error) {
	db, err := database.OpenSQLite(path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open offline store: %w", err)
	}

	s := &Store{db: db}
	if err := s.db.Migrate(ctx, Migrations()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrations is the offline schema.
func Migrations() []database.Migration {
	return []database.Migration{
		{Version: 1, Name: "cached_medications", SQL: `
			CREATE TABLE IF NOT EXISTS cached_medications (
				id TEXT PRIMARY KEY,
				payload TEXT NOT NULL,
				current_stock INTEGER NOT NULL DEFAULT 0 CHECK (current_stock >= 0),
				updated_at INTEGER NOT NULL
			)
		`},
		{Version: 2, Name: "pending_intents", SQL: `
			CREATE TABLE IF NOT EXISTS pending_intents (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				medication_id TEXT NOT NULL,
				quantity INTEGER NOT NULL,
				payload TEXT NOT NULL,
				preferred_lot TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'queued',
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL
			)
		`},
		{Version: 3, Name: "metadata", SQL: `
			CREATE TABLE IF NOT EXISTS metadata (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)
		`},
	}
}

type cachedRow struct {
	ID           string `db:"id"`
	Payload      string `db:"payload"`
	CurrentStock int    `db:"current_stock"`
	UpdatedAt    int64  `db:"updated_at"`
}

func (r cachedRow) medication() (*domain.Medication, error) {
	var med domain.Medication
	if err := json.Unmarshal([]byte(r.Payload), &med); err != nil {
		return nil, fmt.Errorf("corrupt cached medication %s: %w", r.ID, err)
	}
	return med.WithStock(r.CurrentStock), nil
}

// ReplaceCache swaps the whole medication cache for meds. CurrentStock of
// each medication is stored as its cached stock.
func (s *Store) ReplaceCache(ctx context.Context, meds []*domain.Medication, at time.Time) error {
	return s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cached_medications`); err != nil {
			return err
		}
		for _, med := range meds {
			payload, err := json.Marshal(med)
			if err != nil {
				return err
			}
			stock := med.CurrentStock
			if stock < 0 {
				stock = 0
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO cached_medications (id, payload, current_stock, updated_at) VALUES ($1, $2, $3, $4)`,
				med.ID, string(payload), stock, at.UnixMilli(),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// CachedMedications lists the cache by name.
func (s *Store) CachedMedications(ctx context.Context) ([]*domain.Medication, error) {
	var rows []cachedRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, payload, current_stock, updated_at FROM cached_medications`); err != nil {
		return nil, err
	}

	meds := make([]*domain.Medication, 0, len(rows))
	for _, row := range rows {
		med, err := row.medication()
		if err != nil {
			return nil, err
		}
		meds = append(meds, med)
	}
	sortByName(meds)
	return meds, nil
}

// CachedMedication gets one cached medication.
func (s *Store) CachedMedication(ctx context.Context, id string) (*domain.Medication, error) {
	var row cachedRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, payload, current_stock, updated_at FROM cached_medications WHERE id = $1`, id)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("cached medication")
		}
		return nil, err
	}
	return row.medication()
}

// SetCachedStock overwrites the cached stock of one medication.
func (s *Store) SetCachedStock(ctx context.Context, id string, stock int, at time.Time) error {
	if stock < 0 {
		stock = 0
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE cached_medications SET current_stock = $1, updated_at = $2 WHERE id = $3`,
		stock, at.UnixMilli(), id)
	if err != nil {
		return err
	}
	return requireRow(res, "cached medication")
}

type intentRow struct {
	Seq          int64  `db:"seq"`
	ID           string `db:"id"`
	MedicationID string `db:"medication_id"`
	Quantity     int    `db:"quantity"`
	Payload      string `db:"payload"`
	PreferredLot string `db:"preferred_lot"`
	Status       string `db:"status"`
	Attempts     int    `db:"attempts"`
	LastError    string `db:"last_error"`
	CreatedAt    int64  `db:"created_at"`
}

const intentColumns = `seq, id, medication_id, quantity, payload, preferred_lot, status, attempts, last_error, created_at`

func (r intentRow) intent() (*domain.PendingIntent, error) {
	intent := &domain.PendingIntent{
		ID:           r.ID,
		Seq:          r.Seq,
		PreferredLot: r.PreferredLot,
		Status:       domain.IntentStatus(r.Status),
		Attempts:     r.Attempts,
		LastError:    r.LastError,
		EnqueuedAt:   time.UnixMilli(r.CreatedAt).UTC(),
	}
	if err := json.Unmarshal([]byte(r.Payload), &intent.Request); err != nil {
		return nil, fmt.Errorf("corrupt pending intent %s: %w", r.ID, err)
	}
	return intent, nil
}

// QueueIntent decrements the cached stock of the intent's medication by
// its quantity, clamped at zero, and appends the intent to the queue. Both
// happen in one transaction; an uncached medication queues nothing.
func (s *Store) QueueIntent(ctx context.Context, intent *domain.PendingIntent) error {
	payload, err := json.Marshal(intent.Request)
	if err != nil {
		return err
	}

	return s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE cached_medications SET current_stock = MAX(current_stock - $1, 0), updated_at = $2 WHERE id = $3`,
			intent.Request.Quantity, intent.EnqueuedAt.UnixMilli(), intent.Request.MedicationID)
		if err != nil {
			return err
		}
		if err := requireRow(res, "cached medication"); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `
			INSERT INTO pending_intents (id, medication_id, quantity, payload, preferred_lot, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			intent.ID, intent.Request.MedicationID, intent.Request.Quantity, string(payload),
			intent.PreferredLot, string(domain.IntentQueued), intent.EnqueuedAt.UnixMilli(),
		)
		if err != nil {
			return err
		}
		intent.Status = domain.IntentQueued
		intent.Seq, err = res.LastInsertId()
		return err
	})
}

// PendingIntents lists every queued intent in enqueue order.
func (s *Store) PendingIntents(ctx context.Context) ([]*domain.PendingIntent, error) {
	var rows []intentRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+intentColumns+` FROM pending_intents ORDER BY seq`); err != nil {
		return nil, err
	}

	intents := make([]*domain.PendingIntent, 0, len(rows))
	for _, row := range rows {
		intent, err := row.intent()
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, nil
}

// CountPending is the queue length.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pending_intents`)
	return n, err
}

// PendingQuantities sums queued quantities per medication.
func (s *Store) PendingQuantities(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		MedicationID string `db:"medication_id"`
		Quantity     int    `db:"quantity"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT medication_id, SUM(quantity) AS quantity FROM pending_intents GROUP BY medication_id`); err != nil {
		return nil, err
	}

	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.MedicationID] = row.Quantity
	}
	return out, nil
}

// MarkSyncing flags an intent as in flight.
func (s *Store) MarkSyncing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_intents SET status = $1 WHERE id = $2`, string(domain.IntentSyncing), id)
	if err != nil {
		return err
	}
	return requireRow(res, "pending intent")
}

// MarkFailed returns an intent to the queue with its failure recorded.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_intents SET status = $1, attempts = attempts + 1, last_error = $2 WHERE id = $3`,
		string(domain.IntentFailed), reason, id)
	if err != nil {
		return err
	}
	return requireRow(res, "pending intent")
}

// RemoveIntent deletes an applied intent.
func (s *Store) RemoveIntent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_intents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "pending intent")
}

// LastSync returns when the queue was last flushed with at least one
// success. The zero time means never.
func (s *Store) LastSync(ctx context.Context) (time.Time, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM metadata WHERE key = $1`, metaLastSync)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, value)
}

// SetLastSync records a sync time.
func (s *Store) SetLastSync(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		metaLastSync, at.UTC().Format(time.RFC3339Nano))
	return err
}

func requireRow(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NotFound(resource)
	}
	return nil
}

func sortByName(meds []*domain.Medication) {
	sort.SliceStable(meds, func(i, j int) bool {
		a, b := strings.ToLower(meds[i].Name), strings.ToLower(meds[j].Name)
		if a != b {
			return a < b
		}
		return meds[i].ID < meds[j].ID
	})
}
