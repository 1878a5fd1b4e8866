// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend is the reference server for the sync protocol: per-table
// row storage scoped to the authenticated user, the batched procedures the
// client queues against (stock adjustment with idempotency replay,
// personal-stock add and remove, currency convert and revert), and the
// ranked product search. Storage is Postgres via pgx; every row keeps its
// full record as a JSONB doc next to the promoted columns queries need.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
)

// ErrNotFound is returned when a requested row does not exist for the
// user.
var ErrNotFound = errors.New("backend: row not found")

// ErrUnknownTable is returned for a table name outside the synced set.
var ErrUnknownTable = errors.New("backend: unknown table")

// ErrMissingID is returned for a row payload without an id.
var ErrMissingID = errors.New("backend: record has no id")

// colKind types a promoted column.
type colKind int

const (
	colText colKind = iota
	colFloat
)

type promotedCol struct {
	name string
	kind colKind
}

// tableSpecs mirrors the client store's promoted-column layout, plus the
// columns only the server queries (supplier for the search join, quantity
// for the adjustment procedure).
func tableSpecs() map[string][]promotedCol {
	return map[string][]promotedCol{
		domain.TableProductLists: {{"supplier", colText}},
		domain.TableProducts: {
			{"list_id", colText}, {"code", colText}, {"quantity", colFloat},
		},
		domain.TableProductIndex: {
			{"list_id", colText}, {"code", colText}, {"name", colText}, {"quantity", colFloat},
		},
		domain.TableMyStock: {
			{"product_id", colText}, {"list_id", colText}, {"quantity", colFloat},
		},
		domain.TableClients: {{"name", colText}},
		domain.TableDeliveryNotes: {
			{"client_id", colText}, {"status", colText},
		},
		domain.TableDeliveryNoteItems: {
			{"note_id", colText}, {"product_id", colText},
		},
	}
}

// Service owns the backend storage and procedures.
type Service struct {
	pool   *pgxpool.Pool
	cache  *Cache
	logger *slog.Logger
	tables map[string][]promotedCol
}

// New builds a Service over an existing pool and initializes the schema.
// The pool's lifecycle stays with the caller. Cache is optional.
func New(ctx context.Context, pool *pgxpool.Pool, cache *Cache, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		pool:   pool,
		cache:  cache,
		logger: logger,
		tables: tableSpecs(),
	}
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return s.initializeSchemaInTx(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("initialize backend schema: %w", err)
	}
	return s, nil
}

// Pool exposes the underlying pool for advanced callers.
func (s *Service) Pool() *pgxpool.Pool { return s.pool }

// KnownTable reports whether table is part of the synced set.
func (s *Service) KnownTable(table string) bool {
	_, ok := s.tables[table]
	return ok
}

// ListRows returns every row of a table for the user, ordered by id.
func (s *Service) ListRows(ctx context.Context, userID, table string) ([]domain.Record, error) {
	if !s.KnownTable(table) {
		return nil, ErrUnknownTable
	}
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM `+table+` WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()
	return scanDocs(rows)
}

// GetRow returns one row by id.
func (s *Service) GetRow(ctx context.Context, userID, table, id string) (domain.Record, error) {
	if !s.KnownTable(table) {
		return nil, ErrUnknownTable
	}
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM `+table+` WHERE user_id = $1 AND id = $2`, userID, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	return decodeDoc(doc)
}

// UpsertRow inserts or replaces one row. Replays land in the same stored
// state, which is what the client's at-least-once drain relies on.
func (s *Service) UpsertRow(ctx context.Context, userID, table string, rec domain.Record) (domain.Record, error) {
	if !s.KnownTable(table) {
		return nil, ErrUnknownTable
	}
	id, ok := domain.RecordID(rec)
	if !ok {
		return nil, ErrMissingID
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return s.upsertRowTx(ctx, tx, userID, table, id, rec)
	})
	if err != nil {
		return nil, err
	}
	s.invalidateSearch(ctx, userID, table)
	return rec, nil
}

// DeleteRow removes one row and applies the referential actions the data
// model promises: deleting a client detaches its notes, deleting a note
// removes its items, deleting a list removes its products, index rows and
// personal-stock links. Deleting an absent row succeeds.
func (s *Service) DeleteRow(ctx context.Context, userID, table, id string) error {
	if !s.KnownTable(table) {
		return ErrUnknownTable
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.cascadeTx(ctx, tx, userID, table, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`DELETE FROM `+table+` WHERE user_id = $1 AND id = $2`, userID, id)
		if err != nil {
			return fmt.Errorf("delete %s/%s: %w", table, id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidateSearch(ctx, userID, table)
	return nil
}

// BulkUpsert inserts or replaces many rows in one transaction and
// returns the stored count. Rows without an id are rejected.
func (s *Service) BulkUpsert(ctx context.Context, userID, table string, recs []domain.Record) (int, error) {
	if !s.KnownTable(table) {
		return 0, ErrUnknownTable
	}
	if len(recs) == 0 {
		return 0, nil
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, rec := range recs {
			id, ok := domain.RecordID(rec)
			if !ok {
				return ErrMissingID
			}
			if err := s.upsertRowTx(ctx, tx, userID, table, id, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.invalidateSearch(ctx, userID, table)
	return len(recs), nil
}

// upsertRowTx writes one row: promoted columns extracted from the record,
// the full record as the doc.
func (s *Service) upsertRowTx(ctx context.Context, tx pgx.Tx, userID, table, id string, rec domain.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", table, id, err)
	}

	cols := s.tables[table]
	names := make([]string, 0, len(cols)+3)
	placeholders := make([]string, 0, len(cols)+3)
	updates := make([]string, 0, len(cols)+2)
	args := make([]any, 0, len(cols)+3)

	add := func(name string, value any) {
		names = append(names, name)
		args = append(args, value)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	add("user_id", userID)
	add("id", id)
	for _, col := range cols {
		add(col.name, promotedValue(rec, col))
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col.name, col.name))
	}
	add("doc", doc)
	updates = append(updates, "doc = EXCLUDED.doc", "updated_at = now()")

	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (user_id, id) DO UPDATE SET %s`,
		table, strings.Join(names, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", table, id, err)
	}
	return nil
}

// cascadeTx applies the referential actions for a delete.
func (s *Service) cascadeTx(ctx context.Context, tx pgx.Tx, userID, table, id string) error {
	switch table {
	case domain.TableClients:
		_, err := tx.Exec(ctx, `
			UPDATE delivery_notes
			SET client_id = NULL,
			    doc = jsonb_set(doc, '{client_id}', 'null'::jsonb),
			    updated_at = now()
			WHERE user_id = $1 AND client_id = $2`, userID, id)
		if err != nil {
			return fmt.Errorf("detach notes of client %s: %w", id, err)
		}
	case domain.TableDeliveryNotes:
		_, err := tx.Exec(ctx,
			`DELETE FROM delivery_note_items WHERE user_id = $1 AND note_id = $2`, userID, id)
		if err != nil {
			return fmt.Errorf("delete items of note %s: %w", id, err)
		}
	case domain.TableProductLists:
		for _, child := range []string{domain.TableProducts, domain.TableProductIndex, domain.TableMyStock} {
			_, err := tx.Exec(ctx,
				`DELETE FROM `+child+` WHERE user_id = $1 AND list_id = $2`, userID, id)
			if err != nil {
				return fmt.Errorf("delete %s of list %s: %w", child, id, err)
			}
		}
	}
	return nil
}

// promotedValue extracts a promoted column's value from the record. An
// absent or null field stays NULL for text columns and zero for floats,
// matching how the client store promotes the same fields.
func promotedValue(rec domain.Record, col promotedCol) any {
	if col.kind == colFloat {
		return domain.RecordFloat(rec, col.name)
	}
	v, ok := rec[col.name]
	if !ok || v == nil {
		return nil
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", v)
}

// invalidateSearch drops cached search pages after a write that can
// change them. Personal-stock writes don't feed search rows.
func (s *Service) invalidateSearch(ctx context.Context, userID, table string) {
	if s.cache == nil {
		return
	}
	switch table {
	case domain.TableProductLists, domain.TableProducts, domain.TableProductIndex:
		s.cache.InvalidateSearch(ctx, userID)
	}
}

func scanDocs(rows pgx.Rows) ([]domain.Record, error) {
	out := make([]domain.Record, 0, 16)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate rows: %w", rows.Err())
	}
	return out, nil
}

func decodeDoc(doc []byte) (domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode stored doc: %w", err)
	}
	return rec, nil
}
