// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

// Package backendtest provides an in-memory backend double for sync and
// repository tests: the same row CRUD and batched procedures as the real
// server, including op_id replay for stock adjustments, plus a call log
// and an injection hook for failure scenarios.
package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/pricing"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/remote"
)

// Fake is an in-memory backend. Safe for concurrent use.
type Fake struct {
	// BeforeCall, when set, runs before every operation with a call
	// string like "PUT products/p1"; returning an error injects it as
	// the call's failure. Assign before handing the fake to the code
	// under test.
	BeforeCall func(call string) error

	mu         sync.Mutex
	tables     map[string]map[string]domain.Record
	appliedOps map[string]remote.StockAdjustResult
	calls      []string
}

// New returns an empty fake backend.
func New() *Fake {
	return &Fake{
		tables:     make(map[string]map[string]domain.Record),
		appliedOps: make(map[string]remote.StockAdjustResult),
	}
}

// Seed stores rows directly, bypassing the call log.
func (f *Fake) Seed(table string, recs ...domain.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range recs {
		id, ok := domain.RecordID(rec)
		if !ok {
			panic(fmt.Sprintf("backendtest: seed record for %s has no id", table))
		}
		f.table(table)[id] = cloneRecord(rec)
	}
}

// Rows returns the table's rows sorted by id.
func (f *Fake) Rows(table string) []domain.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rowsLocked(table)
}

func (f *Fake) rowsLocked(table string) []domain.Record {
	rows := make([]domain.Record, 0, len(f.table(table)))
	for _, rec := range f.table(table) {
		rows = append(rows, cloneRecord(rec))
	}
	sort.Slice(rows, func(i, j int) bool {
		a, _ := domain.RecordID(rows[i])
		b, _ := domain.RecordID(rows[j])
		return a < b
	})
	return rows
}

// Row returns one row by id.
func (f *Fake) Row(table, id string) (domain.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.table(table)[id]
	if !ok {
		return nil, false
	}
	return cloneRecord(rec), true
}

// Calls returns the call log.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount counts logged calls with the given prefix.
func (f *Fake) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *Fake) table(name string) map[string]domain.Record {
	t, ok := f.tables[name]
	if !ok {
		t = make(map[string]domain.Record)
		f.tables[name] = t
	}
	return t
}

func (f *Fake) intercept(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	hook := f.BeforeCall
	f.mu.Unlock()
	if hook != nil {
		return hook(call)
	}
	return nil
}

func (f *Fake) ListRows(ctx context.Context, table string) ([]domain.Record, error) {
	if err := f.intercept("LIST " + table); err != nil {
		return nil, err
	}
	return f.Rows(table), nil
}

func (f *Fake) GetRow(ctx context.Context, table, id string) (domain.Record, error) {
	if err := f.intercept("GET " + table + "/" + id); err != nil {
		return nil, err
	}
	rec, ok := f.Row(table, id)
	if !ok {
		return nil, &remote.CallError{
			Op: "GET " + table + "/" + id, StatusCode: http.StatusNotFound,
			Code: "not_found", Message: "no such row",
		}
	}
	return rec, nil
}

func (f *Fake) UpsertRow(ctx context.Context, table string, rec domain.Record) (domain.Record, error) {
	id, ok := domain.RecordID(rec)
	if !ok {
		return nil, &remote.CallError{
			Op: "PUT " + table, StatusCode: http.StatusUnprocessableEntity,
			Code: "invalid_payload", Message: "record has no id",
		}
	}
	if err := f.intercept("PUT " + table + "/" + id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.table(table)[id] = cloneRecord(rec)
	f.mu.Unlock()
	return cloneRecord(rec), nil
}

func (f *Fake) DeleteRow(ctx context.Context, table, id string) error {
	if err := f.intercept("DELETE " + table + "/" + id); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.table(table), id)
	f.cascadeLocked(table, id)
	f.mu.Unlock()
	return nil
}

// cascadeLocked mimics the backend's referential actions: deleting a
// client detaches its notes, deleting a note removes its items, deleting
// a list removes its products, index rows and personal-stock links.
func (f *Fake) cascadeLocked(table, id string) {
	switch table {
	case domain.TableClients:
		for _, rec := range f.table(domain.TableDeliveryNotes) {
			if domain.RecordString(rec, "client_id") == id {
				rec["client_id"] = nil
			}
		}
	case domain.TableDeliveryNotes:
		items := f.table(domain.TableDeliveryNoteItems)
		for itemID, rec := range items {
			if domain.RecordString(rec, "note_id") == id {
				delete(items, itemID)
			}
		}
	case domain.TableProductLists:
		for _, child := range []string{domain.TableProducts, domain.TableProductIndex, domain.TableMyStock} {
			rows := f.table(child)
			for rowID, rec := range rows {
				if domain.RecordString(rec, "list_id") == id {
					delete(rows, rowID)
				}
			}
		}
	}
}

func (f *Fake) BulkUpsert(ctx context.Context, table string, recs []domain.Record) error {
	if err := f.intercept("BULKPUT " + table); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range recs {
		id, ok := domain.RecordID(rec)
		if !ok {
			continue
		}
		f.table(table)[id] = cloneRecord(rec)
	}
	return nil
}

func (f *Fake) BulkAdjustStock(ctx context.Context, adjustments []remote.StockAdjustment) (*remote.BulkAdjustOutcome, error) {
	if err := f.intercept("ADJUST"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	out := &remote.BulkAdjustOutcome{}
	for _, adj := range adjustments {
		if prev, ok := f.appliedOps[adj.OpID]; ok && adj.OpID != "" {
			out.Results = append(out.Results, prev)
			out.Processed++
			continue
		}
		prod, ok := f.table(domain.TableProducts)[adj.ProductID]
		if !ok {
			out.Results = append(out.Results, remote.StockAdjustResult{
				ProductID: adj.ProductID, Delta: adj.Delta, Applied: false,
			})
			continue
		}
		oldQty := domain.RecordFloat(prod, "quantity")
		newQty := oldQty + adj.Delta
		if newQty < 0 {
			newQty = 0
		}
		prod["quantity"] = newQty
		if entry, ok := f.table(domain.TableProductIndex)[adj.ProductID]; ok {
			entry["quantity"] = newQty
		}
		for _, ms := range f.table(domain.TableMyStock) {
			if domain.RecordString(ms, "product_id") == adj.ProductID {
				q := domain.RecordFloat(ms, "quantity") + adj.Delta
				if q < 0 {
					q = 0
				}
				ms["quantity"] = q
			}
		}
		res := remote.StockAdjustResult{
			ProductID: adj.ProductID, OldQty: oldQty, NewQty: newQty,
			Delta: adj.Delta, Applied: true,
		}
		if adj.OpID != "" {
			f.appliedOps[adj.OpID] = res
		}
		out.Results = append(out.Results, res)
		out.Processed++
	}
	return out, nil
}

func (f *Fake) BulkAddMyStock(ctx context.Context, entries []domain.Record) error {
	if err := f.intercept("MYSTOCK_ADD"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range entries {
		id, ok := domain.RecordID(rec)
		if !ok {
			continue
		}
		f.table(domain.TableMyStock)[id] = cloneRecord(rec)
	}
	return nil
}

func (f *Fake) BulkRemoveMyStock(ctx context.Context, productIDs []string) error {
	if err := f.intercept("MYSTOCK_REMOVE"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	drop := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		drop[id] = true
	}
	for id, rec := range f.table(domain.TableMyStock) {
		if drop[domain.RecordString(rec, "product_id")] {
			delete(f.table(domain.TableMyStock), id)
		}
	}
	return nil
}

func (f *Fake) ConvertCurrency(ctx context.Context, req remote.CurrencyRequest) (int, error) {
	if err := f.intercept("CONVERT " + req.ListID); err != nil {
		return 0, err
	}
	return f.applyCurrency(req, true)
}

func (f *Fake) RevertCurrency(ctx context.Context, req remote.CurrencyRequest) (int, error) {
	if err := f.intercept("REVERT " + req.ListID); err != nil {
		return 0, err
	}
	return f.applyCurrency(req, false)
}

func (f *Fake) applyCurrency(req remote.CurrencyRequest, convert bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var mapping domain.MappingConfig
	if listRec, ok := f.table(domain.TableProductLists)[req.ListID]; ok {
		var list domain.ProductList
		if err := domain.FromRecord(listRec, &list); err == nil {
			mapping = list.Mapping
		}
	}

	updated := 0
	for id, rec := range f.table(domain.TableProductIndex) {
		if domain.RecordString(rec, "list_id") != req.ListID {
			continue
		}
		var entry domain.ProductIndexEntry
		if err := domain.FromRecord(rec, &entry); err != nil {
			continue
		}
		var changed bool
		if convert {
			changed = pricing.ConvertEntry(&entry, mapping, req.TargetKeys, req.Rate)
		} else {
			changed = pricing.RevertEntry(&entry, req.TargetKeys)
		}
		if !changed {
			continue
		}
		back, err := domain.ToRecord(entry)
		if err != nil {
			continue
		}
		f.table(domain.TableProductIndex)[id] = back
		updated++
	}
	return updated, nil
}

func (f *Fake) SearchProducts(ctx context.Context, req remote.SearchRequest) (*remote.SearchOutcome, error) {
	if err := f.intercept("SEARCH " + req.Term); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	term := strings.ToLower(strings.TrimSpace(req.Term))
	var supplierLists map[string]bool
	if req.Supplier != "" {
		supplierLists = make(map[string]bool)
		for id, rec := range f.table(domain.TableProductLists) {
			if strings.EqualFold(domain.RecordString(rec, "supplier"), req.Supplier) {
				supplierLists[id] = true
			}
		}
	}
	type ranked struct {
		rec  domain.Record
		rank int
		name string
	}
	var matches []ranked
	for _, rec := range f.rowsLocked(domain.TableProductIndex) {
		if req.ListID != "" && domain.RecordString(rec, "list_id") != req.ListID {
			continue
		}
		if supplierLists != nil && !supplierLists[domain.RecordString(rec, "list_id")] {
			continue
		}
		name := strings.ToLower(domain.RecordString(rec, "name"))
		code := strings.ToLower(domain.RecordString(rec, "code"))
		rank := -1
		switch {
		case code == term:
			rank = 0
		case strings.HasPrefix(name, term):
			rank = 1
		case strings.Contains(name, term) || strings.Contains(code, term):
			rank = 2
		}
		if rank < 0 {
			continue
		}
		matches = append(matches, ranked{rec: rec, rank: rank, name: name})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].rank != matches[j].rank {
			return matches[i].rank < matches[j].rank
		}
		return matches[i].name < matches[j].name
	})

	out := &remote.SearchOutcome{Total: len(matches)}
	start := req.Offset
	if start > len(matches) {
		start = len(matches)
	}
	end := len(matches)
	if req.Limit > 0 && start+req.Limit < end {
		end = start + req.Limit
	}
	for _, m := range matches[start:end] {
		out.Rows = append(out.Rows, m.rec)
	}
	return out, nil
}

func cloneRecord(rec domain.Record) domain.Record {
	b, err := json.Marshal(rec)
	if err != nil {
		panic(fmt.Sprintf("backendtest: unclonable record: %v", err))
	}
	var out domain.Record
	if err := json.Unmarshal(b, &out); err != nil {
		panic(fmt.Sprintf("backendtest: unclonable record: %v", err))
	}
	return out
}
