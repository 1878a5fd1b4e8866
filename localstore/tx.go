// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
)

// Tx is a transaction scoped to the table set declared when it was opened.
// Any access to an undeclared table fails with SchemaError, so a partially
// written multi-table change can never slip through on a typo.
type Tx struct {
	store   *Store
	tx      querier
	allowed map[string]bool
}

const queueTable = domain.TablePendingOps

// Transaction runs fn inside a single database transaction covering the
// declared tables. Concurrent transactions over disjoint table sets
// proceed independently; overlapping sets serialize. The declared set may
// include "pending_operations" to enqueue alongside the data change, which
// is how local mutations stay atomic with their queued upload.
//
// fn must use the passed Tx for all store access: calling Store-level
// methods from inside fn would deadlock on the single connection.
func (s *Store) Transaction(ctx context.Context, tables []string, fn func(ctx context.Context, tx *Tx) error) error {
	allowed := make(map[string]bool, len(tables))
	for _, t := range tables {
		if t != queueTable {
			if _, err := s.spec(t); err != nil {
				return err
			}
		}
		allowed[t] = true
	}

	unlock := s.lockTables(tables)
	defer unlock()

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = dbtx.Rollback()
		}
	}()

	tx := &Tx{store: s, tx: dbtx, allowed: allowed}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// lockTables acquires the per-table mutexes in sorted order so that two
// transactions over overlapping sets cannot deadlock. The returned func
// releases them in reverse order.
func (s *Store) lockTables(tables []string) func() {
	names := make([]string, 0, len(tables))
	seen := make(map[string]bool, len(tables))
	for _, t := range tables {
		if !seen[t] {
			seen[t] = true
			names = append(names, t)
		}
	}
	sort.Strings(names)

	locks := make([]*sync.Mutex, 0, len(names))
	for _, name := range names {
		locks = append(locks, s.tableLock(name))
	}
	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

func (s *Store) tableLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.tableLocks[name]
	if !ok {
		l = &sync.Mutex{}
		s.tableLocks[name] = l
	}
	return l
}

func (t *Tx) check(table string) (TableSpec, error) {
	if !t.allowed[table] {
		return TableSpec{}, &SchemaError{Table: table, Reason: "not declared in this transaction"}
	}
	return t.store.spec(table)
}

// Get loads one record by id within the transaction.
func (t *Tx) Get(ctx context.Context, table, id string) (domain.Record, error) {
	spec, err := t.check(table)
	if err != nil {
		return nil, err
	}
	return getRecord(ctx, t.tx, spec, id)
}

// Put inserts or replaces one record within the transaction.
func (t *Tx) Put(ctx context.Context, table string, rec domain.Record) error {
	spec, err := t.check(table)
	if err != nil {
		return err
	}
	return putRecord(ctx, t.tx, spec, rec, t.store.now())
}

// BulkPut inserts or replaces many records within the transaction.
func (t *Tx) BulkPut(ctx context.Context, table string, recs []domain.Record) error {
	spec, err := t.check(table)
	if err != nil {
		return err
	}
	now := t.store.now()
	for _, rec := range recs {
		if err := putRecord(ctx, t.tx, spec, rec, now); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes one record by id within the transaction.
func (t *Tx) Delete(ctx context.Context, table, id string) error {
	spec, err := t.check(table)
	if err != nil {
		return err
	}
	return deleteRecord(ctx, t.tx, spec, id)
}

// Query returns matching records within the transaction.
func (t *Tx) Query(ctx context.Context, table string, match domain.Record) ([]domain.Record, error) {
	spec, err := t.check(table)
	if err != nil {
		return nil, err
	}
	return queryRecords(ctx, t.tx, spec, match)
}

// DeleteWhere removes all records whose indexed fields equal the values in
// match and reports how many went away.
func (t *Tx) DeleteWhere(ctx context.Context, table string, match domain.Record) (int64, error) {
	spec, err := t.check(table)
	if err != nil {
		return 0, err
	}
	return deleteWhere(ctx, t.tx, spec, match)
}
