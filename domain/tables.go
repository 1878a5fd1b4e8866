// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package domain

// Table names. The local store and the remote backend use the same names,
// so a pending operation can be replayed remotely without translation.
const (
	TableProductLists      = "product_lists"
	TableProducts          = "products"
	TableProductIndex      = "product_index"
	TableMyStock           = "my_stock"
	TableClients           = "clients"
	TableDeliveryNotes     = "delivery_notes"
	TableDeliveryNoteItems = "delivery_note_items"
	TableSettings          = "settings"
	TablePendingOps        = "pending_operations"
)

// SyncedTables lists the mirrored business tables in dependency order:
// parents before children, so hydration can apply rows front to back and
// mirror invalidation can walk dependents back to front.
func SyncedTables() []string {
	return []string{
		TableProductLists,
		TableProducts,
		TableProductIndex,
		TableClients,
		TableMyStock,
		TableDeliveryNotes,
		TableDeliveryNoteItems,
	}
}

// Dependents maps a parent table to the tables that mirror-refreshes must
// re-pull alongside it.
func Dependents(table string) []string {
	switch table {
	case TableProductLists:
		return []string{TableProducts, TableProductIndex}
	case TableProducts:
		return []string{TableProductIndex}
	case TableDeliveryNotes:
		return []string{TableDeliveryNoteItems}
	default:
		return nil
	}
}
