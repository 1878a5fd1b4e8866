// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// initializeSchemaInTx creates the backend tables if they don't exist.
// Business tables store the full record as a JSONB doc plus the promoted
// columns their queries filter on; upserts rewrite the promoted columns
// from the doc so the two never diverge. Referential actions (client
// detach, note item and list-child cascades) run as explicit statements
// in the delete transaction: product references are loose by contract,
// and a detach has to null the doc field as well as the column.
func (s *Service) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS product_lists (
			user_id    TEXT  NOT NULL,
			id         TEXT  NOT NULL,
			supplier   TEXT,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, id)
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS products (
			user_id    TEXT  NOT NULL,
			id         TEXT  NOT NULL,
			list_id    TEXT,
			code       TEXT,
			quantity   DOUBLE PRECISION NOT NULL DEFAULT 0,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS products_user_list_idx ON products(user_id, list_id)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS product_index (
			user_id    TEXT  NOT NULL,
			id         TEXT  NOT NULL,
			list_id    TEXT,
			code       TEXT,
			name       TEXT,
			quantity   DOUBLE PRECISION NOT NULL DEFAULT 0,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS product_index_user_list_idx ON product_index(user_id, list_id)`,
		`CREATE INDEX IF NOT EXISTS product_index_user_name_idx ON product_index(user_id, lower(name))`,
		`CREATE INDEX IF NOT EXISTS product_index_user_code_idx ON product_index(user_id, lower(code))`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS my_stock (
			user_id    TEXT  NOT NULL,
			id         TEXT  NOT NULL,
			product_id TEXT,
			list_id    TEXT,
			quantity   DOUBLE PRECISION NOT NULL DEFAULT 0,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS my_stock_user_product_idx ON my_stock(user_id, product_id)`,
		`CREATE INDEX IF NOT EXISTS my_stock_user_list_idx ON my_stock(user_id, list_id)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS clients (
			user_id    TEXT  NOT NULL,
			id         TEXT  NOT NULL,
			name       TEXT,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, id)
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS delivery_notes (
			user_id    TEXT  NOT NULL,
			id         TEXT  NOT NULL,
			client_id  TEXT,
			status     TEXT,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS delivery_notes_user_client_idx ON delivery_notes(user_id, client_id)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS delivery_note_items (
			user_id    TEXT  NOT NULL,
			id         TEXT  NOT NULL,
			note_id    TEXT,
			product_id TEXT,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS delivery_note_items_user_note_idx ON delivery_note_items(user_id, note_id)`,

		// Idempotency ledger for the stock adjustment procedure.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS applied_ops (
			user_id    TEXT  NOT NULL,
			op_id      TEXT  NOT NULL,
			result     JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, op_id)
		)`,
	}

	for i, migration := range migrations {
		s.logger.Debug("running schema migration", "step", i+1, "total", len(migrations))
		if _, err := tx.Exec(ctx, migration); err != nil {
			return fmt.Errorf("schema migration %d failed: %w", i+1, err)
		}
	}
	s.logger.Info("backend schema initialized", "migrations", len(migrations))

	return nil
}
