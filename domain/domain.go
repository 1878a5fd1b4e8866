// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

// Package domain defines the entities shared by the local store, the sync
// engine, the repository layer and the reference backend: supplier product
// lists with their column mapping configuration, the denormalized product
// index, the personal stock catalog, delivery clients and delivery notes
// (remitos), and the pending-operation records queued while offline.
package domain

import "time"

// NoteStatus is the payment status of a delivery note.
type NoteStatus string

const (
	NoteStatusPending NoteStatus = "pending"
	NoteStatusPaid    NoteStatus = "paid"
)

// ProductList is a supplier-owned collection of products. ColumnSchema
// describes the raw imported columns; Mapping describes how those columns
// map to the normalized fields and which derived price columns exist.
type ProductList struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Supplier     string        `json:"supplier"`
	ColumnSchema []ColumnSpec  `json:"column_schema"`
	Mapping      MappingConfig `json:"mapping_config"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Product is a dynamic record imported into a product list. Data carries
// the raw imported fields keyed by column key; the normalized fields are
// extracted from Data according to the owning list's mapping.
type Product struct {
	ID        string         `json:"id"`
	ListID    string         `json:"list_id"`
	Code      string         `json:"code"`
	Name      string         `json:"name"`
	Price     *float64       `json:"price"`
	Quantity  float64        `json:"quantity"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ProductIndexEntry is the one-to-one searchable shadow of a Product. It is
// regenerated whenever the product or its list's mapping changes and is the
// only entity consulted by the free-text lookup. CalculatedData holds the
// computed custom-column values plus currency-conversion metadata; the
// pre-conversion value of a converted key is preserved verbatim under
// PreFXPrefix+key so conversions stay reversible.
type ProductIndexEntry struct {
	ID             string         `json:"id"` // same id as the shadowed product
	ListID         string         `json:"list_id"`
	Code           string         `json:"code"`
	Name           string         `json:"name"`
	Price          *float64       `json:"price"`
	Quantity       float64        `json:"quantity"`
	CalculatedData map[string]any `json:"calculated_data"`
	StockThreshold float64        `json:"stock_threshold"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MyStockEntry associates a product with the personal stock catalog. Its
// quantity and threshold are independent of the source list's quantity.
type MyStockEntry struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"product_id"`
	ListID         string    `json:"list_id"`
	Quantity       float64   `json:"quantity"`
	StockThreshold float64   `json:"stock_threshold"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DeliveryClient is a customer a delivery note can be issued to. Deleting a
// client detaches it from existing notes instead of cascading.
type DeliveryClient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeliveryNote is a remito: a transactional document with a payment status
// and an ordered set of line items. Items are stored in their own table and
// joined by NoteID; the slice here is populated by the repository when the
// aggregate is loaded.
type DeliveryNote struct {
	ID               string             `json:"id"`
	ClientID         *string            `json:"client_id"`
	Number           string             `json:"number"`
	Status           NoteStatus         `json:"status"`
	TotalAmount      float64            `json:"total_amount"`
	PaidAmount       float64            `json:"paid_amount"`
	RemainingBalance float64            `json:"remaining_balance"`
	Items            []DeliveryNoteItem `json:"-"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Recompute refreshes the derived payment fields. Status is paid exactly
// when the paid amount covers the total at computation time.
func (n *DeliveryNote) Recompute() {
	n.RemainingBalance = n.TotalAmount - n.PaidAmount
	if n.RemainingBalance < 0 {
		n.RemainingBalance = 0
	}
	if n.PaidAmount >= n.TotalAmount {
		n.Status = NoteStatusPaid
	} else {
		n.Status = NoteStatusPending
	}
}

// DeliveryNoteItem is one line of a note. ProductID is optional because the
// referenced product may have been deleted after the note was written.
// PriceColumnKeyUsed pins the price column that was active when the line
// was created, so later list reconfiguration cannot silently reprice
// historical lines; UnitPriceBase keeps the pre-adjustment unit price.
type DeliveryNoteItem struct {
	ID                 string    `json:"id"`
	NoteID             string    `json:"note_id"`
	ProductID          *string   `json:"product_id"`
	Description        string    `json:"description"`
	Quantity           float64   `json:"quantity"`
	UnitPrice          float64   `json:"unit_price"`
	UnitPriceBase      float64   `json:"unit_price_base"`
	AdjustmentPct      float64   `json:"adjustment_pct"`
	PriceColumnKeyUsed string    `json:"price_column_key_used"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// LineTotal returns the amount this line contributes to the note total.
func (it DeliveryNoteItem) LineTotal() float64 {
	return it.Quantity * it.UnitPrice
}
