// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/localstore"
)

// MyStock is the personal stock catalog handle: the subset of products
// the retailer actually keeps on hand, with quantities and low-stock
// thresholds of their own.
type MyStock struct {
	r *Repository
}

// MyStock returns the personal-stock aggregate.
func (r *Repository) MyStock() *MyStock { return &MyStock{r: r} }

// List returns all personal-stock entries in creation order.
func (m *MyStock) List(ctx context.Context) ([]domain.MyStockEntry, error) {
	rows, err := m.r.fetchRows(ctx, m.r.online(), domain.TableMyStock, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.MyStockEntry, 0, len(rows))
	for _, row := range rows {
		var entry domain.MyStockEntry
		if err := domain.FromRecord(row, &entry); err != nil {
			return nil, fmt.Errorf("decode stock entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// Get returns one entry by id.
func (m *MyStock) Get(ctx context.Context, id string) (*domain.MyStockEntry, error) {
	rec, err := m.r.fetchRow(ctx, m.r.online(), domain.TableMyStock, id)
	if err != nil {
		return nil, err
	}
	var entry domain.MyStockEntry
	if err := domain.FromRecord(rec, &entry); err != nil {
		return nil, fmt.Errorf("decode stock entry %s: %w", id, err)
	}
	return &entry, nil
}

// Add links products into the personal catalog in bulk. Entries missing a
// list or quantity inherit both from the mirrored product at link time;
// afterwards the personal quantity only moves through the adjustment
// engine, never through imports.
func (m *MyStock) Add(ctx context.Context, entries []domain.MyStockEntry) ([]domain.MyStockEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	online := m.r.online()
	now := m.r.now()
	recs := make([]domain.Record, 0, len(entries))
	productIDs := make([]string, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		if entry.ProductID == "" {
			return nil, fmt.Errorf("stock entry %d: product id is required", i)
		}
		if entry.ID == "" {
			entry.ID = m.r.newID()
		}
		if entry.ListID == "" || entry.Quantity == 0 {
			prod, err := m.r.store.Get(ctx, domain.TableProducts, entry.ProductID)
			if err == nil {
				if entry.ListID == "" {
					entry.ListID = domain.RecordString(prod, "list_id")
				}
				if entry.Quantity == 0 {
					entry.Quantity = domain.RecordFloat(prod, "quantity")
				}
			} else if !errors.Is(err, localstore.ErrNotFound) {
				return nil, err
			}
		}
		entry.CreatedAt = now
		entry.UpdatedAt = now
		rec, err := domain.ToRecord(*entry)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
		productIDs = append(productIDs, entry.ProductID)
	}

	if online {
		if err := m.r.backend.BulkAddMyStock(ctx, recs); err != nil {
			return nil, err
		}
		err := m.r.store.Transaction(ctx, []string{domain.TableMyStock}, func(ctx context.Context, tx *localstore.Tx) error {
			return tx.BulkPut(ctx, domain.TableMyStock, recs)
		})
		if err != nil {
			m.r.logger.Error("mirror update failed after stock add", "error", err)
		}
	} else {
		err := m.r.store.Transaction(ctx, []string{domain.TableMyStock, domain.TablePendingOps}, func(ctx context.Context, tx *localstore.Tx) error {
			for _, rec := range recs {
				if err := tx.Put(ctx, domain.TableMyStock, rec); err != nil {
					return err
				}
				if err := queueRecordOpTx(ctx, tx, domain.TableMyStock, domain.OpInsert, rec); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	m.r.events.emitStock(StockUpdate{ProductIDs: productIDs})
	return entries, nil
}

// Create links a single product into the personal catalog. It is the
// one-entry form of Add.
func (m *MyStock) Create(ctx context.Context, entry domain.MyStockEntry) (*domain.MyStockEntry, error) {
	created, err := m.Add(ctx, []domain.MyStockEntry{entry})
	if err != nil {
		return nil, err
	}
	return &created[0], nil
}

// Delete unlinks one entry by its id. It is the one-entry form of
// Remove, which keys on product ids.
func (m *MyStock) Delete(ctx context.Context, id string) error {
	entry, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	return m.Remove(ctx, []string{entry.ProductID})
}

// Remove unlinks products from the personal catalog in bulk, by product
// id. Unknown products are ignored.
func (m *MyStock) Remove(ctx context.Context, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	online := m.r.online()
	var entryIDs []string
	for _, pid := range productIDs {
		rows, err := m.r.store.Query(ctx, domain.TableMyStock, map[string]any{"product_id": pid})
		if err != nil {
			return err
		}
		for _, row := range rows {
			if id, ok := domain.RecordID(row); ok {
				entryIDs = append(entryIDs, id)
			}
		}
	}

	if online {
		if err := m.r.backend.BulkRemoveMyStock(ctx, productIDs); err != nil {
			return err
		}
		err := m.r.store.Transaction(ctx, []string{domain.TableMyStock}, func(ctx context.Context, tx *localstore.Tx) error {
			for _, id := range entryIDs {
				if err := tx.Delete(ctx, domain.TableMyStock, id); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			m.r.logger.Error("mirror update failed after stock remove", "error", err)
		}
	} else {
		err := m.r.store.Transaction(ctx, []string{domain.TableMyStock, domain.TablePendingOps}, func(ctx context.Context, tx *localstore.Tx) error {
			for _, id := range entryIDs {
				if err := tx.Delete(ctx, domain.TableMyStock, id); err != nil {
					return err
				}
				if _, err := tx.Enqueue(ctx, deleteOp(domain.TableMyStock, id)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	m.r.events.emitStock(StockUpdate{ProductIDs: productIDs})
	return nil
}

// Update edits one entry. A quantity change routes through the adjustment
// engine so the product and index stay in agreement; a threshold change
// is copied onto the index shadow that search and low-stock views read.
func (m *MyStock) Update(ctx context.Context, entry domain.MyStockEntry) (*domain.MyStockEntry, error) {
	if entry.ID == "" {
		return nil, fmt.Errorf("stock entry id is required")
	}
	online := m.r.online()
	currentRec, err := m.r.store.Get(ctx, domain.TableMyStock, entry.ID)
	if err != nil {
		return nil, err
	}
	var current domain.MyStockEntry
	if err := domain.FromRecord(currentRec, &current); err != nil {
		return nil, fmt.Errorf("decode stock entry %s: %w", entry.ID, err)
	}
	if entry.ProductID == "" {
		entry.ProductID = current.ProductID
	}
	if entry.ListID == "" {
		entry.ListID = current.ListID
	}
	entry.CreatedAt = current.CreatedAt
	entry.UpdatedAt = m.r.now()

	adjusted := false
	if entry.Quantity != current.Quantity {
		outcome, err := m.r.adjustStock(ctx, online, []Adjustment{{
			ProductID: entry.ProductID,
			Delta:     entry.Quantity - current.Quantity,
		}})
		if err != nil {
			return nil, err
		}
		for _, result := range outcome.Results {
			if result.Applied {
				entry.Quantity = result.NewQty
				adjusted = true
			}
		}
	}

	rec, err := domain.ToRecord(entry)
	if err != nil {
		return nil, err
	}
	if _, err := m.r.putRow(ctx, online, domain.TableMyStock, domain.OpUpdate, rec); err != nil {
		return nil, err
	}

	if entry.StockThreshold != current.StockThreshold {
		if err := m.syncIndexThreshold(ctx, online, entry.ProductID, entry.StockThreshold); err != nil {
			return nil, err
		}
	}
	if !adjusted {
		m.r.events.emitStock(StockUpdate{ProductIDs: []string{entry.ProductID}})
	}
	return &entry, nil
}

// syncIndexThreshold copies a personal threshold onto the product's index
// entry. A product without an index shadow is fine; thresholds only serve
// views built over the index.
func (m *MyStock) syncIndexThreshold(ctx context.Context, online bool, productID string, threshold float64) error {
	idx, err := m.r.store.Get(ctx, domain.TableProductIndex, productID)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	idx["stock_threshold"] = threshold
	_, err = m.r.putRow(ctx, online, domain.TableProductIndex, domain.OpUpdate, idx)
	return err
}
