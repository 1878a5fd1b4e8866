// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/localstore"
)

// ErrPendingOperations is returned by Hydrate while local writes are
// still queued. Hydration overwrites the mirror wholesale; running it
// over unsynced changes would discard them silently.
var ErrPendingOperations = errors.New("syncer: pending operations in queue, drain before hydrating")

// RefreshTable replaces the local mirror of one table with the backend's
// rows, atomically.
func (r *Reconciler) RefreshTable(ctx context.Context, table string) error {
	rows, err := r.backend.ListRows(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", table, err)
	}
	err = r.store.Transaction(ctx, []string{table}, func(ctx context.Context, tx *localstore.Tx) error {
		if _, err := tx.DeleteWhere(ctx, table, nil); err != nil {
			return err
		}
		return tx.BulkPut(ctx, table, rows)
	})
	if err != nil {
		return fmt.Errorf("failed to refresh %s: %w", table, err)
	}
	r.logger.Debug("refreshed table", "table", table, "rows", len(rows))
	return nil
}

// RefreshEntity re-pulls one table and the tables derived from it, so
// that, say, a product refresh cannot leave the index shadowing stale
// rows.
func (r *Reconciler) RefreshEntity(ctx context.Context, table string) error {
	if err := r.RefreshTable(ctx, table); err != nil {
		return err
	}
	for _, dep := range domain.Dependents(table) {
		if err := r.RefreshTable(ctx, dep); err != nil {
			return err
		}
	}
	return nil
}

// Hydrate fills the local store from the backend, parents before
// children. Intended for first run after sign-in or an explicit full
// reload; it refuses to run over a non-empty queue.
func (r *Reconciler) Hydrate(ctx context.Context) error {
	n, err := r.store.PendingCount(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w (%d queued)", ErrPendingOperations, n)
	}
	for _, table := range domain.SyncedTables() {
		if err := r.RefreshTable(ctx, table); err != nil {
			return fmt.Errorf("hydration stopped at %s: %w", table, err)
		}
	}
	r.logger.Info("local store hydrated")
	return nil
}
