// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

// Package localstore implements the embedded durable store that mirrors the
// remote backend while the application runs offline: one SQLite database
// with a named table per mirrored entity, a string-keyed settings table and
// the pending-operation queue. Tables store records as JSON documents with
// a few promoted, indexed columns for compound-key lookups; multi-table
// writes run inside transactions serialized per table set.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
)

// ErrNotFound is returned by Get when no record exists under the key.
var ErrNotFound = errors.New("localstore: record not found")

// SchemaError reports an access to a table the store does not know, a
// write outside a transaction's declared table set, or a filter on a field
// that is not indexed.
type SchemaError struct {
	Table  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("localstore: table %q: %s", e.Table, e.Reason)
}

// TableSpec declares one mirrored table and the record fields promoted to
// indexed columns for compound-key lookups.
type TableSpec struct {
	Name    string
	Indexed []string
}

// DefaultSpecs returns the table layout of the application store. Names
// match the remote backend exactly so queued operations replay without
// translation.
func DefaultSpecs() []TableSpec {
	return []TableSpec{
		{Name: domain.TableProductLists},
		{Name: domain.TableProducts, Indexed: []string{"list_id", "code"}},
		{Name: domain.TableProductIndex, Indexed: []string{"list_id", "code", "name"}},
		{Name: domain.TableMyStock, Indexed: []string{"product_id", "list_id"}},
		{Name: domain.TableClients, Indexed: []string{"name"}},
		{Name: domain.TableDeliveryNotes, Indexed: []string{"client_id", "status"}},
		{Name: domain.TableDeliveryNoteItems, Indexed: []string{"note_id", "product_id"}},
	}
}

// Store is the local durable store. All access goes through its methods;
// the embedded database handle is limited to a single connection so that
// transactions serialize instead of returning busy errors.
type Store struct {
	db     *sql.DB
	specs  map[string]TableSpec
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	tableLocks map[string]*sync.Mutex
}

// Open opens (or creates) the store at dsn and initializes its schema.
// Use ":memory:" for an in-memory store in tests.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// A single connection keeps cooperative transactions serialized and is
	// required for ":memory:" databases to see one shared schema.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{
		db:         db,
		specs:      make(map[string]TableSpec),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		tableLocks: make(map[string]*sync.Mutex),
	}
	for _, spec := range DefaultSpecs() {
		s.specs[spec.Name] = spec
	}
	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for tests and diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

// SetNowFunc overrides the clock used to stamp records. Intended for tests.
func (s *Store) SetNowFunc(now func() time.Time) { s.now = now }

func (s *Store) initializeSchema() error {
	for _, spec := range DefaultSpecs() {
		cols := []string{
			"id TEXT PRIMARY KEY",
			"doc TEXT NOT NULL",
			"created_at TEXT NOT NULL",
			"updated_at TEXT NOT NULL",
		}
		for _, idx := range spec.Indexed {
			cols = append(cols, fmt.Sprintf("%q TEXT", idx))
		}
		ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %q (%s)", spec.Name, strings.Join(cols, ", "))
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table %s: %w", spec.Name, err)
		}
		for _, idx := range spec.Indexed {
			ddl := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %q ON %q (%q)",
				"idx_"+spec.Name+"_"+idx, spec.Name, idx)
			if _, err := s.db.Exec(ddl); err != nil {
				return fmt.Errorf("failed to create index on %s.%s: %w", spec.Name, idx, err)
			}
		}
	}

	extra := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pending_operations (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			op_table    TEXT NOT NULL,
			kind        TEXT NOT NULL CHECK (kind IN ('INSERT','UPDATE','DELETE')),
			record_id   TEXT NOT NULL,
			payload     TEXT,
			queued_at   TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, ddl := range extra {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create store table: %w", err)
		}
	}
	return nil
}

// spec returns the table spec, or a SchemaError for unknown tables.
func (s *Store) spec(table string) (TableSpec, error) {
	spec, ok := s.specs[table]
	if !ok {
		return TableSpec{}, &SchemaError{Table: table, Reason: "not a declared table"}
	}
	return spec, nil
}

// querier abstracts *sql.DB and *sql.Tx so record operations are written
// once and reused on both paths.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get loads one record by id. Returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, table, id string) (domain.Record, error) {
	spec, err := s.spec(table)
	if err != nil {
		return nil, err
	}
	return getRecord(ctx, s.db, spec, id)
}

// Put inserts or replaces one record. The record must carry a non-empty
// string id. Timestamps are stamped onto the stored row: updated_at is
// taken from the record when set (mirrored rows keep the authoritative
// stamp) and defaults to now; created_at of an existing row is preserved
// unless the record carries its own.
func (s *Store) Put(ctx context.Context, table string, rec domain.Record) error {
	spec, err := s.spec(table)
	if err != nil {
		return err
	}
	return putRecord(ctx, s.db, spec, rec, s.now())
}

// BulkPut inserts or replaces many records in one transaction.
func (s *Store) BulkPut(ctx context.Context, table string, recs []domain.Record) error {
	return s.Transaction(ctx, []string{table}, func(ctx context.Context, tx *Tx) error {
		return tx.BulkPut(ctx, table, recs)
	})
}

// Delete removes one record by id. Deleting an absent record is a no-op.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	spec, err := s.spec(table)
	if err != nil {
		return err
	}
	return deleteRecord(ctx, s.db, spec, id)
}

// Query returns the records whose indexed fields equal the values in
// match, in insertion order. An empty match returns the whole table. A nil
// match value selects rows where the field is NULL (e.g. detached notes).
func (s *Store) Query(ctx context.Context, table string, match domain.Record) ([]domain.Record, error) {
	spec, err := s.spec(table)
	if err != nil {
		return nil, err
	}
	return queryRecords(ctx, s.db, spec, match)
}

// Count returns the number of records in a table.
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	if _, err := s.spec(table); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %q", table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// --- record plumbing shared by Store and Tx ---

func getRecord(ctx context.Context, q querier, spec TableSpec, id string) (domain.Record, error) {
	var doc, createdAt, updatedAt string
	err := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT doc, created_at, updated_at FROM %q WHERE id = ?", spec.Name), id).
		Scan(&doc, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s/%s: %w", spec.Name, id, err)
	}
	return decodeRow(spec.Name, doc, createdAt, updatedAt)
}

func decodeRow(table, doc, createdAt, updatedAt string) (domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s record: %w", table, err)
	}
	// Column stamps are authoritative over whatever the document carries.
	rec["created_at"] = createdAt
	rec["updated_at"] = updatedAt
	return rec, nil
}

func putRecord(ctx context.Context, q querier, spec TableSpec, rec domain.Record, now time.Time) error {
	id, ok := domain.RecordID(rec)
	if !ok {
		return &SchemaError{Table: spec.Name, Reason: "record has no id"}
	}

	createdAt, hasCreated := recordStamp(rec, "created_at")
	updatedAt, hasUpdated := recordStamp(rec, "updated_at")
	stamp := now.Format(time.RFC3339Nano)
	if !hasCreated {
		createdAt = stamp
	}
	if !hasUpdated {
		updatedAt = stamp
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", spec.Name, err)
	}

	cols := []string{"id", "doc", "created_at", "updated_at"}
	args := []any{id, string(doc), createdAt, updatedAt}
	sets := []string{"doc = excluded.doc", "updated_at = excluded.updated_at"}
	if hasCreated {
		sets = append(sets, "created_at = excluded.created_at")
	}
	for _, idx := range spec.Indexed {
		cols = append(cols, fmt.Sprintf("%q", idx))
		args = append(args, indexValue(rec[idx]))
		sets = append(sets, fmt.Sprintf("%q = excluded.%q", idx, idx))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	query := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		spec.Name, strings.Join(cols, ", "), placeholders, strings.Join(sets, ", "))
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", spec.Name, id, err)
	}
	return nil
}

func deleteRecord(ctx context.Context, q querier, spec TableSpec, id string) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %q WHERE id = ?", spec.Name), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", spec.Name, id, err)
	}
	return nil
}

func queryRecords(ctx context.Context, q querier, spec TableSpec, match domain.Record) ([]domain.Record, error) {
	where, args, err := buildWhere(spec, match)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT doc, created_at, updated_at FROM %q%s ORDER BY created_at, id", spec.Name, where)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", spec.Name, err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var doc, createdAt, updatedAt string
		if err := rows.Scan(&doc, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", spec.Name, err)
		}
		rec, err := decodeRow(spec.Name, doc, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", spec.Name, err)
	}
	return out, nil
}

func deleteWhere(ctx context.Context, q querier, spec TableSpec, match domain.Record) (int64, error) {
	where, args, err := buildWhere(spec, match)
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %q%s", spec.Name, where), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", spec.Name, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func buildWhere(spec TableSpec, match domain.Record) (string, []any, error) {
	if len(match) == 0 {
		return "", nil, nil
	}
	fields := make([]string, 0, len(match))
	for f := range match {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var conds []string
	var args []any
	for _, f := range fields {
		if f == "id" {
			conds = append(conds, "id = ?")
			args = append(args, match[f])
			continue
		}
		if !isIndexed(spec, f) {
			return "", nil, &SchemaError{Table: spec.Name, Reason: fmt.Sprintf("field %q is not indexed", f)}
		}
		v := indexValue(match[f])
		if v == nil {
			conds = append(conds, fmt.Sprintf("%q IS NULL", f))
			continue
		}
		conds = append(conds, fmt.Sprintf("%q = ?", f))
		args = append(args, v)
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func isIndexed(spec TableSpec, field string) bool {
	for _, idx := range spec.Indexed {
		if idx == field {
			return true
		}
	}
	return false
}

// indexValue normalizes a record field for storage in an indexed column.
func indexValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// recordStamp extracts a usable RFC3339 timestamp field from a record.
// Zero times (the JSON encoding of an unset time.Time) do not count.
func recordStamp(rec domain.Record, key string) (string, bool) {
	s, _ := rec[key].(string)
	if s == "" || strings.HasPrefix(s, "0001-01-01") {
		return "", false
	}
	return s, true
}
