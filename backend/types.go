// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import "github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"

// StockAdjustment is one signed quantity delta for one product. OpID is
// the client-minted idempotency token: its result is recorded on first
// application and replayed verbatim on redelivery.
type StockAdjustment struct {
	ProductID string  `json:"product_id"`
	Delta     float64 `json:"delta"`
	OpID      string  `json:"op_id"`
}

// StockAdjustResult reports the outcome of one adjustment.
type StockAdjustResult struct {
	ProductID string  `json:"product_id"`
	OldQty    float64 `json:"old_qty"`
	NewQty    float64 `json:"new_qty"`
	Delta     float64 `json:"delta"`
	Applied   bool    `json:"applied"`
}

// AdjustOutcome is the batched result of a stock adjustment procedure.
// Processed counts the adjustments that applied or replayed; results for
// unknown products carry Applied=false and do not count.
type AdjustOutcome struct {
	Processed int                 `json:"processed"`
	Results   []StockAdjustResult `json:"results"`
}

// CurrencyRequest scopes a conversion or reversion to one list's index
// entries and a set of price column keys. Rate is required for
// conversions and ignored for reversions.
type CurrencyRequest struct {
	ListID     string   `json:"list_id"`
	TargetKeys []string `json:"target_keys"`
	Rate       float64  `json:"rate,omitempty"`
}

// SearchQuery is a ranked free-text lookup over the product index.
type SearchQuery struct {
	Term     string
	ListID   string
	Supplier string
	Limit    int
	Offset   int
}

// SearchResult is one page of matches plus the total count before
// paging.
type SearchResult struct {
	Rows  []domain.Record `json:"rows"`
	Total int             `json:"total"`
}
