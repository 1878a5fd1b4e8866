// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import "github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"

// APIError is the error object carried by a failed response envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Every response carries an explicit success flag; a false flag is a
// failure even when the transport said 200.
type respEnvelope struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error,omitempty"`
}

func (r *respEnvelope) apiStatus() (bool, *APIError) { return r.Success, r.Error }

type apiResponse interface {
	apiStatus() (bool, *APIError)
}

type rowsResponse struct {
	respEnvelope
	Rows []domain.Record `json:"rows"`
}

type rowResponse struct {
	respEnvelope
	Row domain.Record `json:"row"`
}

type countResponse struct {
	respEnvelope
	Count int `json:"count"`
}

type bulkUpsertRequest struct {
	Rows []domain.Record `json:"rows"`
}

// StockAdjustment is one net delta applied to a product's quantity. OpID
// is the idempotency token: the backend records it and replays the stored
// result instead of applying the delta twice.
type StockAdjustment struct {
	ProductID string  `json:"product_id"`
	Delta     float64 `json:"delta"`
	OpID      string  `json:"op_id"`
}

// StockAdjustResult reports the outcome for one product.
type StockAdjustResult struct {
	ProductID string  `json:"product_id"`
	OldQty    float64 `json:"old_qty"`
	NewQty    float64 `json:"new_qty"`
	Delta     float64 `json:"delta"`
	Applied   bool    `json:"applied"`
}

type bulkAdjustRequest struct {
	Adjustments []StockAdjustment `json:"adjustments"`
}

type bulkAdjustResponse struct {
	respEnvelope
	Processed int                 `json:"processed"`
	Results   []StockAdjustResult `json:"results"`
}

// BulkAdjustOutcome is what a bulk stock adjustment call reports back.
type BulkAdjustOutcome struct {
	Processed int
	Results   []StockAdjustResult
}

// Unapplied returns the product ids the backend did not adjust. A
// non-empty slice means partial success: the caller falls back to the
// offline path for exactly that subset.
func (o *BulkAdjustOutcome) Unapplied() []string {
	var ids []string
	for _, r := range o.Results {
		if !r.Applied {
			ids = append(ids, r.ProductID)
		}
	}
	return ids
}

type myStockRemoveRequest struct {
	ProductIDs []string `json:"product_ids"`
}

// CurrencyRequest scopes a bulk conversion or reversion to one list and
// a set of target column keys.
type CurrencyRequest struct {
	ListID     string   `json:"list_id"`
	TargetKeys []string `json:"target_keys"`
	Rate       float64  `json:"rate,omitempty"`
}

type currencyResponse struct {
	respEnvelope
	Updated int `json:"updated"`
}

// SearchRequest is a free-text product lookup with optional scoping.
type SearchRequest struct {
	Term     string `json:"term"`
	ListID   string `json:"list_id,omitempty"`
	Supplier string `json:"supplier,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

type searchResponse struct {
	respEnvelope
	Rows  []domain.Record `json:"rows"`
	Total int             `json:"total"`
}

// SearchOutcome carries ranked matches plus the total before paging.
type SearchOutcome struct {
	Rows  []domain.Record
	Total int
}
