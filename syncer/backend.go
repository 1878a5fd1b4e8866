// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/remote"
)

// Backend is the slice of the remote API the sync engine and the
// repository consume. *remote.Client implements it; tests swap in an
// in-memory fake.
type Backend interface {
	ListRows(ctx context.Context, table string) ([]domain.Record, error)
	GetRow(ctx context.Context, table, id string) (domain.Record, error)
	UpsertRow(ctx context.Context, table string, rec domain.Record) (domain.Record, error)
	DeleteRow(ctx context.Context, table, id string) error
	BulkUpsert(ctx context.Context, table string, recs []domain.Record) error

	BulkAdjustStock(ctx context.Context, adjustments []remote.StockAdjustment) (*remote.BulkAdjustOutcome, error)
	BulkAddMyStock(ctx context.Context, entries []domain.Record) error
	BulkRemoveMyStock(ctx context.Context, productIDs []string) error
	ConvertCurrency(ctx context.Context, req remote.CurrencyRequest) (int, error)
	RevertCurrency(ctx context.Context, req remote.CurrencyRequest) (int, error)
	SearchProducts(ctx context.Context, req remote.SearchRequest) (*remote.SearchOutcome, error)
}
