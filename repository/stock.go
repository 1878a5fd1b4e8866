// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/localstore"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/remote"
)

// Adjustment is one requested signed quantity change for a product.
type Adjustment struct {
	ProductID string
	Delta     float64
}

// AdjustOutcome reports what a bulk adjustment did. Results holds the
// per-product old/new quantities; Deferred lists products whose deltas
// were applied locally and queued for upload instead of confirmed by the
// backend.
type AdjustOutcome struct {
	Processed int
	Results   []remote.StockAdjustResult
	Deferred  []string
}

// CalculateNetStockAdjustments collapses an item-set replacement into one
// net delta per product: old quantities count as returned, new quantities
// as consumed. Products whose quantity is unchanged across the edit
// produce no entry at all, so an untouched line never causes stock churn.
// Items without a product reference are ignored.
func CalculateNetStockAdjustments(original, updated []domain.DeliveryNoteItem) []Adjustment {
	var order []string
	net := make(map[string]float64)
	accumulate := func(items []domain.DeliveryNoteItem, sign float64) {
		for _, it := range items {
			if it.ProductID == nil || *it.ProductID == "" {
				continue
			}
			id := *it.ProductID
			if _, seen := net[id]; !seen {
				order = append(order, id)
			}
			net[id] += sign * it.Quantity
		}
	}
	// Old quantities are returned to stock, new ones consumed from it.
	accumulate(original, 1)
	accumulate(updated, -1)

	out := make([]Adjustment, 0, len(order))
	for _, id := range order {
		if net[id] == 0 {
			continue
		}
		out = append(out, Adjustment{ProductID: id, Delta: net[id]})
	}
	return out
}

// AdjustStock applies signed quantity deltas to products, their index
// shadows and any personal-stock entries in agreement. Online it makes one
// batched backend call carrying idempotency tokens and mirrors the
// confirmed quantities; any subset the backend did not apply, and the
// whole batch on a transient failure, falls back to the offline path.
// Offline every delta is applied in one local transaction, clamped at
// zero, with one queued operation per product. Zero deltas are skipped.
func (r *Repository) AdjustStock(ctx context.Context, adjustments []Adjustment) (*AdjustOutcome, error) {
	return r.adjustStock(ctx, r.online(), adjustments)
}

func (r *Repository) adjustStock(ctx context.Context, online bool, adjustments []Adjustment) (*AdjustOutcome, error) {
	live := make([]Adjustment, 0, len(adjustments))
	for _, adj := range adjustments {
		if adj.ProductID == "" {
			return nil, fmt.Errorf("adjustment is missing a product id")
		}
		if adj.Delta != 0 {
			live = append(live, adj)
		}
	}
	if len(live) == 0 {
		return &AdjustOutcome{}, nil
	}

	outcome := &AdjustOutcome{}
	queued := live
	if online {
		reqs := make([]remote.StockAdjustment, 0, len(live))
		for _, adj := range live {
			reqs = append(reqs, remote.StockAdjustment{
				ProductID: adj.ProductID,
				Delta:     adj.Delta,
				OpID:      r.newID(),
			})
		}
		res, err := r.backend.BulkAdjustStock(ctx, reqs)
		switch {
		case err == nil:
			unapplied := make(map[string]bool)
			for _, id := range res.Unapplied() {
				unapplied[id] = true
			}
			applied := make([]remote.StockAdjustResult, 0, len(res.Results))
			for _, result := range res.Results {
				if result.Applied && !unapplied[result.ProductID] {
					applied = append(applied, result)
				}
			}
			if err := r.mirrorAdjustResults(ctx, applied); err != nil {
				r.logger.Error("mirror update failed after stock adjust", "error", err)
			}
			outcome.Results = append(outcome.Results, applied...)
			outcome.Processed += len(applied)
			retry := make([]Adjustment, 0, len(unapplied))
			for _, adj := range live {
				if unapplied[adj.ProductID] {
					retry = append(retry, adj)
				}
			}
			queued = retry
			if len(queued) > 0 {
				r.logger.Warn("backend left adjustments unapplied, queueing them", "count", len(queued))
			}
		case remote.IsTransient(err):
			r.logger.Warn("bulk stock adjust failed, queueing all deltas", "count", len(live), "error", err)
		default:
			return nil, err
		}
	}

	if len(queued) > 0 {
		deferredResults, err := r.queueAdjustments(ctx, queued)
		if err != nil {
			return nil, err
		}
		for _, result := range deferredResults {
			outcome.Results = append(outcome.Results, result)
			if result.Applied {
				outcome.Processed++
				outcome.Deferred = append(outcome.Deferred, result.ProductID)
			}
		}
	}

	r.emitAppliedStock(outcome.Results)
	return outcome, nil
}

// stockTables is the table set any adjustment transaction must declare.
func stockTables() []string {
	return []string{
		domain.TableProducts,
		domain.TableProductIndex,
		domain.TableMyStock,
		domain.TablePendingOps,
	}
}

// queueAdjustments is the offline path: each delta is applied to the
// mirror inside one transaction, clamped at zero, and queued for replay
// with a fresh idempotency token.
func (r *Repository) queueAdjustments(ctx context.Context, adjustments []Adjustment) ([]remote.StockAdjustResult, error) {
	var results []remote.StockAdjustResult
	err := r.store.Transaction(ctx, stockTables(), func(ctx context.Context, tx *localstore.Tx) error {
		var err error
		results, err = r.applyAndQueueTx(ctx, tx, adjustments)
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// applyAndQueueTx applies deltas to the mirror and queues their replay
// inside an already-open transaction that declared stockTables. A product
// absent from the mirror yields an unapplied result and no queue entry.
func (r *Repository) applyAndQueueTx(ctx context.Context, tx *localstore.Tx, adjustments []Adjustment) ([]remote.StockAdjustResult, error) {
	results := make([]remote.StockAdjustResult, 0, len(adjustments))
	for _, adj := range adjustments {
		if adj.Delta == 0 {
			continue
		}
		result, err := applyAdjustmentTx(ctx, tx, adj)
		if err != nil {
			return nil, err
		}
		if !result.Applied {
			r.logger.Warn("skipping adjustment for unknown product", "product_id", adj.ProductID)
			results = append(results, result)
			continue
		}
		payload, err := json.Marshal(map[string]any{
			"id":                     adj.ProductID,
			domain.PayloadFieldDelta: adj.Delta,
			domain.PayloadFieldOpID:  r.newID(),
		})
		if err != nil {
			return nil, fmt.Errorf("encode adjustment payload: %w", err)
		}
		op := domain.PendingOperation{
			Table:    domain.TableProducts,
			Kind:     domain.OpUpdate,
			RecordID: adj.ProductID,
			Payload:  payload,
		}
		if _, err := tx.Enqueue(ctx, op); err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// emitAppliedStock publishes a stock-updated event for every applied
// result. No event fires when nothing changed.
func (r *Repository) emitAppliedStock(results []remote.StockAdjustResult) {
	ids := make([]string, 0, len(results))
	for _, result := range results {
		if result.Applied {
			ids = append(ids, result.ProductID)
		}
	}
	if len(ids) > 0 {
		r.events.emitStock(StockUpdate{ProductIDs: ids})
	}
}

// applyAdjustmentTx applies one delta to the product row and propagates
// the resulting quantity to the index shadow and any personal-stock
// entries, keeping the three tables in agreement.
func applyAdjustmentTx(ctx context.Context, tx *localstore.Tx, adj Adjustment) (remote.StockAdjustResult, error) {
	result := remote.StockAdjustResult{ProductID: adj.ProductID, Delta: adj.Delta}
	rec, err := tx.Get(ctx, domain.TableProducts, adj.ProductID)
	if errors.Is(err, localstore.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return result, err
	}
	old := domain.RecordFloat(rec, "quantity")
	next := old + adj.Delta
	if next < 0 {
		next = 0
	}
	rec["quantity"] = next
	if err := tx.Put(ctx, domain.TableProducts, rec); err != nil {
		return result, err
	}
	if err := propagateQuantityTx(ctx, tx, adj.ProductID, next); err != nil {
		return result, err
	}
	result.OldQty = old
	result.NewQty = next
	result.Applied = true
	return result, nil
}

// propagateQuantityTx copies a product's quantity onto its index shadow
// and every personal-stock entry that references it.
func propagateQuantityTx(ctx context.Context, tx *localstore.Tx, productID string, quantity float64) error {
	idx, err := tx.Get(ctx, domain.TableProductIndex, productID)
	switch {
	case err == nil:
		idx["quantity"] = quantity
		if err := tx.Put(ctx, domain.TableProductIndex, idx); err != nil {
			return err
		}
	case !errors.Is(err, localstore.ErrNotFound):
		return err
	}
	entries, err := tx.Query(ctx, domain.TableMyStock, map[string]any{"product_id": productID})
	if err != nil {
		return err
	}
	for _, entry := range entries {
		entry["quantity"] = quantity
		if err := tx.Put(ctx, domain.TableMyStock, entry); err != nil {
			return err
		}
	}
	return nil
}

// mirrorAdjustResults writes backend-confirmed quantities into the mirror
// in one transaction. Called only after a successful online adjust; a
// failure here is the caller's to log, the primary write already landed.
func (r *Repository) mirrorAdjustResults(ctx context.Context, results []remote.StockAdjustResult) error {
	if len(results) == 0 {
		return nil
	}
	tables := []string{domain.TableProducts, domain.TableProductIndex, domain.TableMyStock}
	return r.store.Transaction(ctx, tables, func(ctx context.Context, tx *localstore.Tx) error {
		for _, result := range results {
			rec, err := tx.Get(ctx, domain.TableProducts, result.ProductID)
			switch {
			case err == nil:
				rec["quantity"] = result.NewQty
				if err := tx.Put(ctx, domain.TableProducts, rec); err != nil {
					return err
				}
			case !errors.Is(err, localstore.ErrNotFound):
				return err
			}
			if err := propagateQuantityTx(ctx, tx, result.ProductID, result.NewQty); err != nil {
				return err
			}
		}
		return nil
	})
}
