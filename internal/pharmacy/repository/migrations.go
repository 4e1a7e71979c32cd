package repository

import "github.com/medflow/medtrack/pkg/database"

// Migrations is the pharmacy schema, applied in order by database.Migrate.
func Migrations() []database.Migration {
	return []database.Migration{
		{Version: 1, Name: "medications", SQL: `
			CREATE TABLE IF NOT EXISTS medications (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL,
				generic_name TEXT NOT NULL DEFAULT '',
				strength TEXT NOT NULL DEFAULT '',
				dosage_form TEXT NOT NULL DEFAULT 'tablet',
				category TEXT NOT NULL DEFAULT '',
				min_stock INTEGER NOT NULL DEFAULT 0,
				max_stock INTEGER NOT NULL DEFAULT 0,
				alternatives TEXT[] NOT NULL DEFAULT '{}',
				common_uses TEXT[] NOT NULL DEFAULT '{}',
				contraindications TEXT[] NOT NULL DEFAULT '{}',
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE UNIQUE INDEX IF NOT EXISTS medications_identity_idx
				ON medications (LOWER(name), LOWER(strength), LOWER(dosage_form));
		`},
		{Version: 2, Name: "inventory_lots", SQL: `
			CREATE TABLE IF NOT EXISTS inventory_lots (
				id UUID PRIMARY KEY,
				medication_id UUID NOT NULL,
				site TEXT NOT NULL DEFAULT '',
				lot_number TEXT NOT NULL,
				expiration_date DATE NOT NULL,
				quantity INTEGER NOT NULL,
				low_stock_threshold INTEGER NOT NULL DEFAULT 10,
				notes TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT inventory_lots_medication_fk FOREIGN KEY (medication_id) REFERENCES medications (id),
				CONSTRAINT inventory_lots_quantity_nonnegative CHECK (quantity >= 0),
				CONSTRAINT inventory_lots_threshold_nonnegative CHECK (low_stock_threshold >= 0),
				CONSTRAINT inventory_lots_lot_number_key UNIQUE (medication_id, site, lot_number)
			);
			CREATE INDEX IF NOT EXISTS inventory_lots_fefo_idx
				ON inventory_lots (medication_id, expiration_date, created_at, id);
		`},
		{Version: 3, Name: "lot_adjustments", SQL: `
			CREATE TABLE IF NOT EXISTS lot_adjustments (
				id UUID PRIMARY KEY,
				lot_id UUID NOT NULL,
				medication_id UUID NOT NULL,
				adjustment_type TEXT NOT NULL,
				quantity INTEGER NOT NULL,
				previous_quantity INTEGER NOT NULL,
				new_quantity INTEGER NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				performed_by TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS lot_adjustments_lot_idx ON lot_adjustments (lot_id, created_at);
		`},
		{Version: 4, Name: "dispensing_logs", SQL: `
			CREATE TABLE IF NOT EXISTS dispensing_logs (
				id UUID PRIMARY KEY,
				log_date DATE NOT NULL,
				patient_id TEXT NOT NULL,
				patient_initials TEXT NOT NULL DEFAULT '',
				medication_id UUID NOT NULL,
				medication_name TEXT NOT NULL,
				dose_instructions TEXT NOT NULL DEFAULT '',
				lot_id UUID,
				lot_number TEXT NOT NULL DEFAULT '',
				expiration_date DATE,
				amount_dispensed TEXT NOT NULL,
				consumed_quantity INTEGER NOT NULL,
				physician_name TEXT NOT NULL DEFAULT '',
				student_name TEXT NOT NULL DEFAULT '',
				dispensed_by TEXT NOT NULL DEFAULT '',
				clinic_site TEXT NOT NULL DEFAULT '',
				indication TEXT NOT NULL DEFAULT '',
				notes TEXT NOT NULL DEFAULT '',
				entered_by TEXT NOT NULL DEFAULT '',
				client_ref TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT dispensing_logs_consumed_positive CHECK (consumed_quantity >= 0)
			);
			CREATE INDEX IF NOT EXISTS dispensing_logs_date_idx ON dispensing_logs (log_date DESC, created_at DESC);
			CREATE INDEX IF NOT EXISTS dispensing_logs_client_ref_idx ON dispensing_logs (client_ref) WHERE client_ref <> '';
		`},
	}
}
