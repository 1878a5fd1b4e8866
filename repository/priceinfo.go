// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/localstore"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/pricing"
)

// ResolveUnitPrice resolves a price column for a product through its
// list's mapping, reading the mirrored index entry. Returns nil when the
// column does not resolve to a number; "no price" is distinct from zero.
func (r *Repository) ResolveUnitPrice(ctx context.Context, productID, priceColumnKey string) (*float64, error) {
	entry, mapping, err := r.loadPriceSource(ctx, productID)
	if err != nil {
		return nil, err
	}
	return pricing.ResolveUnitPrice(priceColumnKey, mapping, pricing.SourceFromIndexEntry(*entry)), nil
}

// ResolveComparisonPrice resolves like ResolveUnitPrice but sees through
// any active currency-conversion overlay, so callers comparing against
// historical prices are not fooled by a conversion alone.
func (r *Repository) ResolveComparisonPrice(ctx context.Context, productID, priceColumnKey string) (*float64, error) {
	entry, mapping, err := r.loadPriceSource(ctx, productID)
	if err != nil {
		return nil, err
	}
	return pricing.ResolveComparisonPrice(priceColumnKey, mapping, pricing.SourceFromIndexEntry(*entry)), nil
}

// LineStatus describes how a delivery-note line relates to its list's
// current price configuration. It is a state, not an error: the UI reads
// it to decide whether quantity increases stay allowed on the line.
type LineStatus struct {
	// Stale is set when the line was priced under a column that is no
	// longer the active one.
	Stale bool
	// PriceChanged is set when the active column's conversion-free price
	// no longer matches the line's base unit price.
	PriceChanged bool
	// ProductGone is set when the product the line referenced has been
	// deleted from the index.
	ProductGone bool
	// CurrentPrice is the active column's comparison-mode price, when
	// resolvable.
	CurrentPrice *float64
	ActiveKey    string
	PinnedKey    string
}

// Blocked reports whether the line should refuse quantity increases until
// it is re-added under the current configuration.
func (s *LineStatus) Blocked() bool {
	return s.Stale || s.PriceChanged || s.ProductGone
}

// CheckLine evaluates a note line against the list's currently active
// price column.
func (r *Repository) CheckLine(ctx context.Context, item domain.DeliveryNoteItem, activeKey string) (*LineStatus, error) {
	st := &LineStatus{
		ActiveKey: activeKey,
		PinnedKey: item.PriceColumnKeyUsed,
		Stale:     activeKey != "" && item.PriceColumnKeyUsed != "" && item.PriceColumnKeyUsed != activeKey,
	}
	if item.ProductID == nil || *item.ProductID == "" {
		return st, nil
	}
	entry, mapping, err := r.loadPriceSource(ctx, *item.ProductID)
	if errors.Is(err, localstore.ErrNotFound) {
		st.ProductGone = true
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	st.CurrentPrice = pricing.ResolveComparisonPrice(activeKey, mapping, pricing.SourceFromIndexEntry(*entry))
	if st.CurrentPrice != nil {
		st.PriceChanged = math.Abs(*st.CurrentPrice-item.UnitPriceBase) > 1e-9
	}
	return st, nil
}

// loadPriceSource reads a product's index entry and its list's mapping
// from the mirror.
func (r *Repository) loadPriceSource(ctx context.Context, productID string) (*domain.ProductIndexEntry, domain.MappingConfig, error) {
	var mapping domain.MappingConfig
	rec, err := r.store.Get(ctx, domain.TableProductIndex, productID)
	if err != nil {
		return nil, mapping, err
	}
	var entry domain.ProductIndexEntry
	if err := domain.FromRecord(rec, &entry); err != nil {
		return nil, mapping, fmt.Errorf("decode index entry %s: %w", productID, err)
	}
	listRec, err := r.store.Get(ctx, domain.TableProductLists, entry.ListID)
	if err != nil {
		return nil, mapping, err
	}
	var list domain.ProductList
	if err := domain.FromRecord(listRec, &list); err != nil {
		return nil, mapping, fmt.Errorf("decode product list %s: %w", entry.ListID, err)
	}
	return &entry, list.Mapping, nil
}
