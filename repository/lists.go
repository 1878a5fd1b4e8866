// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/localstore"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/pricing"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/remote"
)

// ProductLists is the supplier-list aggregate handle. A list owns its
// products and their index shadows; mapping changes rebuild the index and
// deleting a list takes its products, index rows and personal-stock links
// with it.
type ProductLists struct {
	r *Repository
}

// Lists returns the product-list aggregate.
func (r *Repository) Lists() *ProductLists { return &ProductLists{r: r} }

// List returns all product lists sorted by name.
func (l *ProductLists) List(ctx context.Context) ([]domain.ProductList, error) {
	rows, err := l.r.fetchRows(ctx, l.r.online(), domain.TableProductLists, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProductList, 0, len(rows))
	for _, row := range rows {
		var pl domain.ProductList
		if err := domain.FromRecord(row, &pl); err != nil {
			return nil, fmt.Errorf("decode product list: %w", err)
		}
		out = append(out, pl)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Get returns one list by id.
func (l *ProductLists) Get(ctx context.Context, id string) (*domain.ProductList, error) {
	rec, err := l.r.fetchRow(ctx, l.r.online(), domain.TableProductLists, id)
	if err != nil {
		return nil, err
	}
	var pl domain.ProductList
	if err := domain.FromRecord(rec, &pl); err != nil {
		return nil, fmt.Errorf("decode product list %s: %w", id, err)
	}
	return &pl, nil
}

// Create stores a new, empty list after validating its mapping against
// the declared column schema.
func (l *ProductLists) Create(ctx context.Context, list domain.ProductList) (*domain.ProductList, error) {
	if strings.TrimSpace(list.Name) == "" {
		return nil, fmt.Errorf("list name is required")
	}
	if err := pricing.ValidateMapping(list.ColumnSchema, list.Mapping); err != nil {
		return nil, err
	}
	if list.ID == "" {
		list.ID = l.r.newID()
	}
	now := l.r.now()
	list.CreatedAt = now
	list.UpdatedAt = now
	rec, err := domain.ToRecord(list)
	if err != nil {
		return nil, err
	}
	stored, err := l.r.putRow(ctx, l.r.online(), domain.TableProductLists, domain.OpInsert, rec)
	if err != nil {
		return nil, err
	}
	var out domain.ProductList
	if err := domain.FromRecord(stored, &out); err != nil {
		return nil, fmt.Errorf("decode product list %s: %w", list.ID, err)
	}
	return &out, nil
}

// Update overwrites a list's configuration. When the mapping or column
// schema changed, every index entry of the list is rebuilt under the new
// configuration, carrying stock thresholds and any active currency
// overlay across, and a price-update event fires for the list.
func (l *ProductLists) Update(ctx context.Context, list domain.ProductList) (*domain.ProductList, error) {
	if list.ID == "" {
		return nil, fmt.Errorf("list id is required")
	}
	if strings.TrimSpace(list.Name) == "" {
		return nil, fmt.Errorf("list name is required")
	}
	if err := pricing.ValidateMapping(list.ColumnSchema, list.Mapping); err != nil {
		return nil, err
	}
	online := l.r.online()

	currentRec, err := l.r.store.Get(ctx, domain.TableProductLists, list.ID)
	if err != nil {
		return nil, err
	}
	var current domain.ProductList
	if err := domain.FromRecord(currentRec, &current); err != nil {
		return nil, fmt.Errorf("decode product list %s: %w", list.ID, err)
	}
	list.CreatedAt = current.CreatedAt
	list.UpdatedAt = l.r.now()
	rec, err := domain.ToRecord(list)
	if err != nil {
		return nil, err
	}
	if _, err := l.r.putRow(ctx, online, domain.TableProductLists, domain.OpUpdate, rec); err != nil {
		return nil, err
	}
	if mappingChanged(current, list) {
		if err := l.rebuildIndex(ctx, online, list); err != nil {
			return nil, err
		}
		l.r.events.emitPrices(PriceUpdate{ListID: list.ID})
	}
	return &list, nil
}

// Delete removes a list and everything that hangs off it: products, index
// entries and personal-stock links. The backend cascades the same way, so
// offline replay needs only the single list deletion.
func (l *ProductLists) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("list id is required")
	}
	online := l.r.online()
	stockEntries, err := l.r.store.Query(ctx, domain.TableMyStock, map[string]any{"list_id": id})
	if err != nil {
		return err
	}

	if online {
		err := l.r.backend.DeleteRow(ctx, domain.TableProductLists, id)
		if err != nil && !remote.IsNotFound(err) {
			return err
		}
		if err := l.cascadeDeleteLocal(ctx, id, false); err != nil {
			l.r.logger.Error("mirror update failed after list delete", "list_id", id, "error", err)
		}
	} else {
		if err := l.cascadeDeleteLocal(ctx, id, true); err != nil {
			return err
		}
	}

	if len(stockEntries) > 0 {
		ids := make([]string, 0, len(stockEntries))
		for _, entry := range stockEntries {
			ids = append(ids, domain.RecordString(entry, "product_id"))
		}
		l.r.events.emitStock(StockUpdate{ProductIDs: ids})
	}
	l.r.events.emitPrices(PriceUpdate{ListID: id})
	return nil
}

func (l *ProductLists) cascadeDeleteLocal(ctx context.Context, id string, queue bool) error {
	tables := []string{
		domain.TableProductLists,
		domain.TableProducts,
		domain.TableProductIndex,
		domain.TableMyStock,
		domain.TablePendingOps,
	}
	byList := map[string]any{"list_id": id}
	return l.r.store.Transaction(ctx, tables, func(ctx context.Context, tx *localstore.Tx) error {
		if err := tx.Delete(ctx, domain.TableProductLists, id); err != nil {
			return err
		}
		for _, table := range []string{domain.TableProducts, domain.TableProductIndex, domain.TableMyStock} {
			if _, err := tx.DeleteWhere(ctx, table, byList); err != nil {
				return err
			}
		}
		if queue {
			if _, err := tx.Enqueue(ctx, deleteOp(domain.TableProductLists, id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// rebuildIndex regenerates every index entry of a list under its current
// mapping. Existing entries contribute their stock threshold and currency
// overlay so reconfiguration never loses them.
func (l *ProductLists) rebuildIndex(ctx context.Context, online bool, list domain.ProductList) error {
	productRows, err := l.r.store.Query(ctx, domain.TableProducts, map[string]any{"list_id": list.ID})
	if err != nil {
		return err
	}
	oldEntries, err := l.loadIndexEntries(ctx, list.ID)
	if err != nil {
		return err
	}
	prevByID := make(map[string]*domain.ProductIndexEntry, len(oldEntries))
	for i := range oldEntries {
		prevByID[oldEntries[i].ID] = &oldEntries[i]
	}
	entryRecs := make([]domain.Record, 0, len(productRows))
	for _, row := range productRows {
		var p domain.Product
		if err := domain.FromRecord(row, &p); err != nil {
			return fmt.Errorf("decode product: %w", err)
		}
		entry := pricing.BuildIndexEntry(p, list, prevByID[p.ID])
		rec, err := domain.ToRecord(entry)
		if err != nil {
			return err
		}
		entryRecs = append(entryRecs, rec)
	}
	return l.r.writeIndexRecords(ctx, online, entryRecs)
}

// loadIndexEntries reads a list's index entries from the mirror.
func (l *ProductLists) loadIndexEntries(ctx context.Context, listID string) ([]domain.ProductIndexEntry, error) {
	rows, err := l.r.store.Query(ctx, domain.TableProductIndex, map[string]any{"list_id": listID})
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProductIndexEntry, 0, len(rows))
	for _, row := range rows {
		var entry domain.ProductIndexEntry
		if err := domain.FromRecord(row, &entry); err != nil {
			return nil, fmt.Errorf("decode index entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// writeIndexRecords lands rebuilt index entries. Online they go to the
// backend in one bulk call and the mirror follows; offline each entry is
// written locally and queued.
func (r *Repository) writeIndexRecords(ctx context.Context, online bool, entryRecs []domain.Record) error {
	if len(entryRecs) == 0 {
		return nil
	}
	if online {
		if err := r.backend.BulkUpsert(ctx, domain.TableProductIndex, entryRecs); err != nil {
			return err
		}
		err := r.store.Transaction(ctx, []string{domain.TableProductIndex}, func(ctx context.Context, tx *localstore.Tx) error {
			return tx.BulkPut(ctx, domain.TableProductIndex, entryRecs)
		})
		if err != nil {
			r.logger.Error("mirror update failed after index rebuild", "error", err)
		}
		return nil
	}
	return r.store.Transaction(ctx, []string{domain.TableProductIndex, domain.TablePendingOps}, func(ctx context.Context, tx *localstore.Tx) error {
		for _, rec := range entryRecs {
			if err := tx.Put(ctx, domain.TableProductIndex, rec); err != nil {
				return err
			}
			if err := queueRecordOpTx(ctx, tx, domain.TableProductIndex, domain.OpUpdate, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func mappingChanged(a, b domain.ProductList) bool {
	return !reflect.DeepEqual(a.Mapping, b.Mapping) || !reflect.DeepEqual(a.ColumnSchema, b.ColumnSchema)
}
