// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/localstore"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/remote"
)

// DeliveryNotes is the delivery-note aggregate handle. Notes own their
// line items; every mutation keeps the note document, its item rows and
// the stock impact of the item set consistent in both modes.
type DeliveryNotes struct {
	r *Repository
}

// Notes returns the delivery-note aggregate.
func (r *Repository) Notes() *DeliveryNotes { return &DeliveryNotes{r: r} }

// List returns all notes without their items, newest first.
func (n *DeliveryNotes) List(ctx context.Context) ([]domain.DeliveryNote, error) {
	rows, err := n.r.fetchRows(ctx, n.r.online(), domain.TableDeliveryNotes, nil)
	if err != nil {
		return nil, err
	}
	return decodeNotes(rows)
}

// ListByClient returns a client's notes, newest first. An empty clientID
// selects notes whose client was deleted.
func (n *DeliveryNotes) ListByClient(ctx context.Context, clientID string) ([]domain.DeliveryNote, error) {
	filter := map[string]any{"client_id": clientID}
	if clientID == "" {
		filter["client_id"] = nil
	}
	rows, err := n.r.fetchRows(ctx, n.r.online(), domain.TableDeliveryNotes, filter)
	if err != nil {
		return nil, err
	}
	return decodeNotes(rows)
}

// Get returns the full aggregate: the note plus its items in creation
// order. Items are always read from the mirror; they ride the same
// refresh cadence as their note.
func (n *DeliveryNotes) Get(ctx context.Context, id string) (*domain.DeliveryNote, error) {
	rec, err := n.r.fetchRow(ctx, n.r.online(), domain.TableDeliveryNotes, id)
	if err != nil {
		return nil, err
	}
	var note domain.DeliveryNote
	if err := domain.FromRecord(rec, &note); err != nil {
		return nil, fmt.Errorf("decode note %s: %w", id, err)
	}
	items, err := n.loadItems(ctx, id)
	if err != nil {
		return nil, err
	}
	note.Items = items
	return &note, nil
}

// Create stores a new note with its items and consumes stock for every
// item that references a product. Totals and status are derived here;
// callers only supply the lines and payment amounts.
func (n *DeliveryNotes) Create(ctx context.Context, note domain.DeliveryNote) (*domain.DeliveryNote, error) {
	online := n.r.online()
	now := n.r.now()
	if note.ID == "" {
		note.ID = n.r.newID()
	}
	if note.Number == "" {
		note.Number = noteNumber(note.ID, now)
	}
	note.CreatedAt = now
	note.UpdatedAt = now
	if err := n.prepareItems(&note, now); err != nil {
		return nil, err
	}
	note.TotalAmount = itemsTotal(note.Items)
	note.Recompute()

	adjustments := CalculateNetStockAdjustments(nil, note.Items)
	noteRec, itemRecs, err := encodeNoteAggregate(note)
	if err != nil {
		return nil, err
	}

	if online {
		if _, err := n.r.backend.UpsertRow(ctx, domain.TableDeliveryNotes, noteRec); err != nil {
			return nil, err
		}
		if len(itemRecs) > 0 {
			if err := n.r.backend.BulkUpsert(ctx, domain.TableDeliveryNoteItems, itemRecs); err != nil {
				return nil, err
			}
		}
		if _, err := n.r.adjustStock(ctx, true, adjustments); err != nil {
			return nil, err
		}
		if err := n.mirrorAggregate(ctx, noteRec, note.ID, itemRecs); err != nil {
			n.r.logger.Error("mirror update failed after note write", "note_id", note.ID, "error", err)
		}
		return &note, nil
	}

	var results []remote.StockAdjustResult
	err = n.r.store.Transaction(ctx, noteTables(), func(ctx context.Context, tx *localstore.Tx) error {
		if err := tx.Put(ctx, domain.TableDeliveryNotes, noteRec); err != nil {
			return err
		}
		if err := queueRecordOpTx(ctx, tx, domain.TableDeliveryNotes, domain.OpInsert, noteRec); err != nil {
			return err
		}
		for _, rec := range itemRecs {
			if err := tx.Put(ctx, domain.TableDeliveryNoteItems, rec); err != nil {
				return err
			}
			if err := queueRecordOpTx(ctx, tx, domain.TableDeliveryNoteItems, domain.OpInsert, rec); err != nil {
				return err
			}
		}
		var txErr error
		results, txErr = n.r.applyAndQueueTx(ctx, tx, adjustments)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	n.r.emitAppliedStock(results)
	return &note, nil
}

// Update replaces a note's document and item set. While the note is
// pending the edit's net stock impact is applied alongside; a paid note's
// stock impact is frozen, so its edits touch only the documents.
func (n *DeliveryNotes) Update(ctx context.Context, note domain.DeliveryNote) (*domain.DeliveryNote, error) {
	if note.ID == "" {
		return nil, fmt.Errorf("note id is required")
	}
	online := n.r.online()
	now := n.r.now()

	currentRec, err := n.r.store.Get(ctx, domain.TableDeliveryNotes, note.ID)
	if err != nil {
		return nil, err
	}
	var current domain.DeliveryNote
	if err := domain.FromRecord(currentRec, &current); err != nil {
		return nil, fmt.Errorf("decode note %s: %w", note.ID, err)
	}
	currentItems, err := n.loadItems(ctx, note.ID)
	if err != nil {
		return nil, err
	}

	note.CreatedAt = current.CreatedAt
	if note.Number == "" {
		note.Number = current.Number
	}
	note.UpdatedAt = now
	if err := n.prepareItems(&note, now); err != nil {
		return nil, err
	}
	note.TotalAmount = itemsTotal(note.Items)
	note.Recompute()

	var adjustments []Adjustment
	if current.Status == domain.NoteStatusPending {
		adjustments = CalculateNetStockAdjustments(currentItems, note.Items)
	}
	keptIDs := make(map[string]bool, len(note.Items))
	for _, it := range note.Items {
		keptIDs[it.ID] = true
	}
	var removed []string
	existingIDs := make(map[string]bool, len(currentItems))
	for _, it := range currentItems {
		existingIDs[it.ID] = true
		if !keptIDs[it.ID] {
			removed = append(removed, it.ID)
		}
	}
	noteRec, itemRecs, err := encodeNoteAggregate(note)
	if err != nil {
		return nil, err
	}

	if online {
		if _, err := n.r.backend.UpsertRow(ctx, domain.TableDeliveryNotes, noteRec); err != nil {
			return nil, err
		}
		if len(itemRecs) > 0 {
			if err := n.r.backend.BulkUpsert(ctx, domain.TableDeliveryNoteItems, itemRecs); err != nil {
				return nil, err
			}
		}
		for _, id := range removed {
			if err := n.r.backend.DeleteRow(ctx, domain.TableDeliveryNoteItems, id); err != nil && !remote.IsNotFound(err) {
				return nil, err
			}
		}
		if _, err := n.r.adjustStock(ctx, true, adjustments); err != nil {
			return nil, err
		}
		if err := n.mirrorAggregate(ctx, noteRec, note.ID, itemRecs); err != nil {
			n.r.logger.Error("mirror update failed after note write", "note_id", note.ID, "error", err)
		}
		return &note, nil
	}

	var results []remote.StockAdjustResult
	err = n.r.store.Transaction(ctx, noteTables(), func(ctx context.Context, tx *localstore.Tx) error {
		if err := tx.Put(ctx, domain.TableDeliveryNotes, noteRec); err != nil {
			return err
		}
		if err := queueRecordOpTx(ctx, tx, domain.TableDeliveryNotes, domain.OpUpdate, noteRec); err != nil {
			return err
		}
		for _, id := range removed {
			if err := tx.Delete(ctx, domain.TableDeliveryNoteItems, id); err != nil {
				return err
			}
			if _, err := tx.Enqueue(ctx, deleteOp(domain.TableDeliveryNoteItems, id)); err != nil {
				return err
			}
		}
		for _, rec := range itemRecs {
			if err := tx.Put(ctx, domain.TableDeliveryNoteItems, rec); err != nil {
				return err
			}
			kind := domain.OpInsert
			if id, _ := domain.RecordID(rec); existingIDs[id] {
				kind = domain.OpUpdate
			}
			if err := queueRecordOpTx(ctx, tx, domain.TableDeliveryNoteItems, kind, rec); err != nil {
				return err
			}
		}
		var txErr error
		results, txErr = n.r.applyAndQueueTx(ctx, tx, adjustments)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	n.r.emitAppliedStock(results)
	return &note, nil
}

// MarkPaid settles a note in full: the paid amount is raised to the total,
// which flips the status to paid and zeroes the remaining balance. Stock
// is untouched.
func (n *DeliveryNotes) MarkPaid(ctx context.Context, id string) (*domain.DeliveryNote, error) {
	online := n.r.online()
	rec, err := n.r.fetchRow(ctx, online, domain.TableDeliveryNotes, id)
	if err != nil {
		return nil, err
	}
	var note domain.DeliveryNote
	if err := domain.FromRecord(rec, &note); err != nil {
		return nil, fmt.Errorf("decode note %s: %w", id, err)
	}
	note.PaidAmount = note.TotalAmount
	note.Recompute()
	note.UpdatedAt = n.r.now()
	updated, err := domain.ToRecord(note)
	if err != nil {
		return nil, err
	}
	if _, err := n.r.putRow(ctx, online, domain.TableDeliveryNotes, domain.OpUpdate, updated); err != nil {
		return nil, err
	}
	items, err := n.loadItems(ctx, id)
	if err != nil {
		return nil, err
	}
	note.Items = items
	return &note, nil
}

// Delete removes a note and its items. A pending note's stock consumption
// is restored exactly; a paid note's stock impact is never reversed.
func (n *DeliveryNotes) Delete(ctx context.Context, id string) error {
	online := n.r.online()
	rec, err := n.r.store.Get(ctx, domain.TableDeliveryNotes, id)
	if err != nil {
		return err
	}
	var note domain.DeliveryNote
	if err := domain.FromRecord(rec, &note); err != nil {
		return fmt.Errorf("decode note %s: %w", id, err)
	}
	items, err := n.loadItems(ctx, id)
	if err != nil {
		return err
	}
	var restore []Adjustment
	if note.Status == domain.NoteStatusPending {
		restore = CalculateNetStockAdjustments(items, nil)
	}

	if online {
		err := n.r.backend.DeleteRow(ctx, domain.TableDeliveryNotes, id)
		if err != nil && !remote.IsNotFound(err) {
			return err
		}
		// Item rows cascade server-side with the note.
		if _, err := n.r.adjustStock(ctx, true, restore); err != nil {
			return err
		}
		err = n.r.store.Transaction(ctx, []string{domain.TableDeliveryNotes, domain.TableDeliveryNoteItems}, func(ctx context.Context, tx *localstore.Tx) error {
			if err := tx.Delete(ctx, domain.TableDeliveryNotes, id); err != nil {
				return err
			}
			_, err := tx.DeleteWhere(ctx, domain.TableDeliveryNoteItems, map[string]any{"note_id": id})
			return err
		})
		if err != nil {
			n.r.logger.Error("mirror update failed after note delete", "note_id", id, "error", err)
		}
		return nil
	}

	var results []remote.StockAdjustResult
	err = n.r.store.Transaction(ctx, noteTables(), func(ctx context.Context, tx *localstore.Tx) error {
		if err := tx.Delete(ctx, domain.TableDeliveryNotes, id); err != nil {
			return err
		}
		if _, err := tx.DeleteWhere(ctx, domain.TableDeliveryNoteItems, map[string]any{"note_id": id}); err != nil {
			return err
		}
		if _, err := tx.Enqueue(ctx, deleteOp(domain.TableDeliveryNotes, id)); err != nil {
			return err
		}
		var txErr error
		results, txErr = n.r.applyAndQueueTx(ctx, tx, restore)
		return txErr
	})
	if err != nil {
		return err
	}
	n.r.emitAppliedStock(results)
	return nil
}

// loadItems reads a note's items from the mirror in creation order.
func (n *DeliveryNotes) loadItems(ctx context.Context, noteID string) ([]domain.DeliveryNoteItem, error) {
	rows, err := n.r.store.Query(ctx, domain.TableDeliveryNoteItems, map[string]any{"note_id": noteID})
	if err != nil {
		return nil, err
	}
	items := make([]domain.DeliveryNoteItem, 0, len(rows))
	for _, row := range rows {
		var it domain.DeliveryNoteItem
		if err := domain.FromRecord(row, &it); err != nil {
			return nil, fmt.Errorf("decode note item: %w", err)
		}
		items = append(items, it)
	}
	return items, nil
}

// prepareItems normalizes the item set for storage: ids, note linkage and
// stamps. Quantities must be positive; zero-quantity lines are a caller
// bug, not a deletion mechanism.
func (n *DeliveryNotes) prepareItems(note *domain.DeliveryNote, now time.Time) error {
	for i := range note.Items {
		it := &note.Items[i]
		if it.Quantity <= 0 {
			return fmt.Errorf("note item %d: quantity must be positive", i)
		}
		if it.ID == "" {
			it.ID = n.r.newID()
		}
		it.NoteID = note.ID
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		it.UpdatedAt = now
	}
	return nil
}

// mirrorAggregate replaces the mirrored note and item rows after a
// confirmed online write.
func (n *DeliveryNotes) mirrorAggregate(ctx context.Context, noteRec domain.Record, noteID string, itemRecs []domain.Record) error {
	tables := []string{domain.TableDeliveryNotes, domain.TableDeliveryNoteItems}
	return n.r.store.Transaction(ctx, tables, func(ctx context.Context, tx *localstore.Tx) error {
		if err := tx.Put(ctx, domain.TableDeliveryNotes, noteRec); err != nil {
			return err
		}
		if _, err := tx.DeleteWhere(ctx, domain.TableDeliveryNoteItems, map[string]any{"note_id": noteID}); err != nil {
			return err
		}
		return tx.BulkPut(ctx, domain.TableDeliveryNoteItems, itemRecs)
	})
}

// noteTables is the table set any note mutation transaction declares: the
// aggregate's own tables plus the stock tables its side effects touch.
func noteTables() []string {
	return append([]string{
		domain.TableDeliveryNotes,
		domain.TableDeliveryNoteItems,
	}, stockTables()...)
}

func decodeNotes(rows []domain.Record) ([]domain.DeliveryNote, error) {
	out := make([]domain.DeliveryNote, 0, len(rows))
	for _, row := range rows {
		var note domain.DeliveryNote
		if err := domain.FromRecord(row, &note); err != nil {
			return nil, fmt.Errorf("decode note: %w", err)
		}
		out = append(out, note)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func itemsTotal(items []domain.DeliveryNoteItem) float64 {
	var total float64
	for _, it := range items {
		total += it.LineTotal()
	}
	return total
}

// noteNumber derives a display number from the creation date and the note
// id prefix. Numbers are labels, not identifiers.
func noteNumber(id string, now time.Time) string {
	suffix := id
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return "R-" + now.Format("20060102") + "-" + strings.ToUpper(suffix)
}

// encodeNoteAggregate encodes the note document and its item rows. The
// document never embeds the items; they live in their own table.
func encodeNoteAggregate(note domain.DeliveryNote) (domain.Record, []domain.Record, error) {
	noteRec, err := domain.ToRecord(note)
	if err != nil {
		return nil, nil, err
	}
	itemRecs := make([]domain.Record, 0, len(note.Items))
	for _, it := range note.Items {
		rec, err := domain.ToRecord(it)
		if err != nil {
			return nil, nil, err
		}
		itemRecs = append(itemRecs, rec)
	}
	return noteRec, itemRecs, nil
}
