// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/localstore"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/pricing"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/remote"
)

// ReplaceProducts imports a fresh set of raw rows into a list, replacing
// its previous products wholesale. Continuity across re-imports is keyed
// by product code: the new index entry inherits the old one's stock
// threshold and active currency overlay, and personal-stock links are
// re-pointed at the new product id. Personal quantities are never
// overwritten by an import.
func (l *ProductLists) ReplaceProducts(ctx context.Context, listID string, rows []map[string]any) ([]domain.Product, error) {
	if listID == "" {
		return nil, fmt.Errorf("list id is required")
	}
	online := l.r.online()
	now := l.r.now()

	listRec, err := l.r.store.Get(ctx, domain.TableProductLists, listID)
	if err != nil {
		return nil, err
	}
	var list domain.ProductList
	if err := domain.FromRecord(listRec, &list); err != nil {
		return nil, fmt.Errorf("decode product list %s: %w", listID, err)
	}

	oldProductRows, err := l.r.store.Query(ctx, domain.TableProducts, map[string]any{"list_id": listID})
	if err != nil {
		return nil, err
	}
	removedIDs := make([]string, 0, len(oldProductRows))
	for _, row := range oldProductRows {
		if id, ok := domain.RecordID(row); ok {
			removedIDs = append(removedIDs, id)
		}
	}
	oldEntries, err := l.loadIndexEntries(ctx, listID)
	if err != nil {
		return nil, err
	}
	prevByCode := make(map[string]*domain.ProductIndexEntry, len(oldEntries))
	oldCodeByID := make(map[string]string, len(oldEntries))
	for i := range oldEntries {
		prevByCode[oldEntries[i].Code] = &oldEntries[i]
		oldCodeByID[oldEntries[i].ID] = oldEntries[i].Code
	}

	products := make([]domain.Product, 0, len(rows))
	productRecs := make([]domain.Record, 0, len(rows))
	entryRecs := make([]domain.Record, 0, len(rows))
	newIDByCode := make(map[string]string, len(rows))
	for _, raw := range rows {
		data := raw
		if data == nil {
			data = map[string]any{}
		}
		p := domain.Product{
			ID:        l.r.newID(),
			ListID:    listID,
			Data:      data,
			CreatedAt: now,
			UpdatedAt: now,
		}
		pricing.NormalizeProduct(&p, list.Mapping)
		entry := pricing.BuildIndexEntry(p, list, prevByCode[p.Code])

		pRec, err := domain.ToRecord(p)
		if err != nil {
			return nil, err
		}
		eRec, err := domain.ToRecord(entry)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
		productRecs = append(productRecs, pRec)
		entryRecs = append(entryRecs, eRec)
		if p.Code != "" {
			newIDByCode[p.Code] = p.ID
		}
	}

	stockRows, err := l.r.store.Query(ctx, domain.TableMyStock, map[string]any{"list_id": listID})
	if err != nil {
		return nil, err
	}
	var repointed []domain.Record
	var repointedIDs []string
	for _, srow := range stockRows {
		oldPID := domain.RecordString(srow, "product_id")
		code := oldCodeByID[oldPID]
		if code == "" {
			continue
		}
		newPID, ok := newIDByCode[code]
		if !ok || newPID == oldPID {
			continue
		}
		srow["product_id"] = newPID
		repointed = append(repointed, srow)
		repointedIDs = append(repointedIDs, newPID)
	}

	if online {
		if len(productRecs) > 0 {
			if err := l.r.backend.BulkUpsert(ctx, domain.TableProducts, productRecs); err != nil {
				return nil, err
			}
			if err := l.r.backend.BulkUpsert(ctx, domain.TableProductIndex, entryRecs); err != nil {
				return nil, err
			}
		}
		for _, id := range removedIDs {
			if err := l.r.backend.DeleteRow(ctx, domain.TableProducts, id); err != nil && !remote.IsNotFound(err) {
				return nil, err
			}
			if err := l.r.backend.DeleteRow(ctx, domain.TableProductIndex, id); err != nil && !remote.IsNotFound(err) {
				return nil, err
			}
		}
		if len(repointed) > 0 {
			if err := l.r.backend.BulkUpsert(ctx, domain.TableMyStock, repointed); err != nil {
				return nil, err
			}
		}
		if err := l.mirrorImport(ctx, listID, productRecs, entryRecs, repointed); err != nil {
			l.r.logger.Error("mirror update failed after import", "list_id", listID, "error", err)
		}
	} else {
		err := l.r.store.Transaction(ctx, stockTables(), func(ctx context.Context, tx *localstore.Tx) error {
			for _, id := range removedIDs {
				if err := tx.Delete(ctx, domain.TableProducts, id); err != nil {
					return err
				}
				if _, err := tx.Enqueue(ctx, deleteOp(domain.TableProducts, id)); err != nil {
					return err
				}
				if err := tx.Delete(ctx, domain.TableProductIndex, id); err != nil {
					return err
				}
				if _, err := tx.Enqueue(ctx, deleteOp(domain.TableProductIndex, id)); err != nil {
					return err
				}
			}
			for i := range productRecs {
				if err := tx.Put(ctx, domain.TableProducts, productRecs[i]); err != nil {
					return err
				}
				if err := queueRecordOpTx(ctx, tx, domain.TableProducts, domain.OpInsert, productRecs[i]); err != nil {
					return err
				}
				if err := tx.Put(ctx, domain.TableProductIndex, entryRecs[i]); err != nil {
					return err
				}
				if err := queueRecordOpTx(ctx, tx, domain.TableProductIndex, domain.OpInsert, entryRecs[i]); err != nil {
					return err
				}
			}
			for _, srow := range repointed {
				if err := tx.Put(ctx, domain.TableMyStock, srow); err != nil {
					return err
				}
				if err := queueRecordOpTx(ctx, tx, domain.TableMyStock, domain.OpUpdate, srow); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	l.r.events.emitPrices(PriceUpdate{ListID: listID})
	if len(repointedIDs) > 0 {
		l.r.events.emitStock(StockUpdate{ProductIDs: repointedIDs})
	} else {
		l.r.events.emitStock(StockUpdate{})
	}
	return products, nil
}

// mirrorImport replaces the mirrored products and index rows of a list
// after a confirmed online import, and lands any re-pointed stock links.
func (l *ProductLists) mirrorImport(ctx context.Context, listID string, productRecs, entryRecs, repointed []domain.Record) error {
	tables := []string{domain.TableProducts, domain.TableProductIndex, domain.TableMyStock}
	byList := map[string]any{"list_id": listID}
	return l.r.store.Transaction(ctx, tables, func(ctx context.Context, tx *localstore.Tx) error {
		if _, err := tx.DeleteWhere(ctx, domain.TableProducts, byList); err != nil {
			return err
		}
		if err := tx.BulkPut(ctx, domain.TableProducts, productRecs); err != nil {
			return err
		}
		if _, err := tx.DeleteWhere(ctx, domain.TableProductIndex, byList); err != nil {
			return err
		}
		if err := tx.BulkPut(ctx, domain.TableProductIndex, entryRecs); err != nil {
			return err
		}
		for _, srow := range repointed {
			if err := tx.Put(ctx, domain.TableMyStock, srow); err != nil {
				return err
			}
		}
		return nil
	})
}
