// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/localstore"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/remote"
)

// SearchQuery is a free-text product lookup over the index.
type SearchQuery struct {
	Term     string
	ListID   string
	Supplier string
	Limit    int
	Offset   int
}

// SearchResult is one page of ranked matches plus the total match count.
type SearchResult struct {
	Entries []domain.ProductIndexEntry
	Total   int
}

// defaultSearchLimit caps unbounded queries.
const defaultSearchLimit = 50

// SearchProducts looks up products by code or name. Online the backend
// ranks and pages; the returned rows refresh their mirror entries. A
// transient remote failure, or offline mode, scans the mirrored index
// with the same ranking: exact code match first, then name prefix, then
// substring anywhere.
func (r *Repository) SearchProducts(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	online := r.online()
	if q.Limit <= 0 {
		q.Limit = defaultSearchLimit
	}

	if online {
		out, err := r.backend.SearchProducts(ctx, remote.SearchRequest{
			Term:     q.Term,
			ListID:   q.ListID,
			Supplier: q.Supplier,
			Limit:    q.Limit,
			Offset:   q.Offset,
		})
		switch {
		case err == nil:
			entries := make([]domain.ProductIndexEntry, 0, len(out.Rows))
			for _, row := range out.Rows {
				var entry domain.ProductIndexEntry
				if err := domain.FromRecord(row, &entry); err != nil {
					return nil, fmt.Errorf("decode search row: %w", err)
				}
				entries = append(entries, entry)
			}
			mirrorErr := r.store.Transaction(ctx, []string{domain.TableProductIndex}, func(ctx context.Context, tx *localstore.Tx) error {
				return tx.BulkPut(ctx, domain.TableProductIndex, out.Rows)
			})
			if mirrorErr != nil {
				r.logger.Error("mirror update failed after search", "error", mirrorErr)
			}
			return &SearchResult{Entries: entries, Total: out.Total}, nil
		case remote.IsTransient(err):
			r.logger.Warn("remote search failed, scanning mirror", "error", err)
		default:
			return nil, err
		}
	}
	return r.searchMirror(ctx, q)
}

// searchMirror is the offline lookup: a ranked scan over the mirrored
// index.
func (r *Repository) searchMirror(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	filter := map[string]any{}
	if q.ListID != "" {
		filter["list_id"] = q.ListID
	}
	rows, err := r.store.Query(ctx, domain.TableProductIndex, filter)
	if err != nil {
		return nil, err
	}

	var supplierLists map[string]bool
	if q.Supplier != "" {
		listRows, err := r.store.Query(ctx, domain.TableProductLists, nil)
		if err != nil {
			return nil, err
		}
		supplierLists = make(map[string]bool)
		for _, rec := range listRows {
			if strings.EqualFold(domain.RecordString(rec, "supplier"), q.Supplier) {
				if id, ok := domain.RecordID(rec); ok {
					supplierLists[id] = true
				}
			}
		}
	}

	term := strings.ToLower(strings.TrimSpace(q.Term))
	type ranked struct {
		entry domain.ProductIndexEntry
		rank  int
		name  string
	}
	var matches []ranked
	for _, row := range rows {
		if supplierLists != nil && !supplierLists[domain.RecordString(row, "list_id")] {
			continue
		}
		name := strings.ToLower(domain.RecordString(row, "name"))
		code := strings.ToLower(domain.RecordString(row, "code"))
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
		var entry domain.ProductIndexEntry
		if err := domain.FromRecord(row, &entry); err != nil {
			return nil, fmt.Errorf("decode index entry: %w", err)
		}
		matches = append(matches, ranked{entry: entry, rank: rank, name: name})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].rank != matches[j].rank {
			return matches[i].rank < matches[j].rank
		}
		return matches[i].name < matches[j].name
	})

	result := &SearchResult{Total: len(matches)}
	start := q.Offset
	if start > len(matches) {
		start = len(matches)
	}
	end := len(matches)
	if start+q.Limit < end {
		end = start + q.Limit
	}
	for _, m := range matches[start:end] {
		result.Entries = append(result.Entries, m.entry)
	}
	return result, nil
}
