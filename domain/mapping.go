// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package domain

// PreFXPrefix is the reserved calculated-data key prefix under which the
// pre-conversion value of a currency-converted price column is preserved
// verbatim. Reverting a conversion restores that value exactly.
const PreFXPrefix = "__pre_fx__"

// FXRateKey is the reserved calculated-data key recording the rate an
// active conversion overlay was applied with, so index regeneration can
// re-apply the overlay to freshly computed values.
const FXRateKey = "__fx_rate__"

// ColumnSpec describes one raw column of a product list.
type ColumnSpec struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Type    string `json:"type"`
	Visible bool   `json:"visible"`
}

// CustomColumn declares a derived price column computed from a base column
// via a percentage markup, optionally followed by VAT.
type CustomColumn struct {
	Key        string  `json:"key"`
	Label      string  `json:"label"`
	BaseColumn string  `json:"base_column"`
	Percentage float64 `json:"percentage"`
	ApplyVAT   bool    `json:"apply_vat"`
	VATRate    float64 `json:"vat_rate"`
}

// MappingConfig describes how a list's raw columns map to the normalized
// product fields, plus the declared custom price columns. Every key it
// references must exist in the list's column schema or be a declared
// custom column.
type MappingConfig struct {
	CodeKey       string         `json:"code_key"`
	NameKey       string         `json:"name_key"`
	QuantityKey   string         `json:"quantity_key"`
	PriceKey      string         `json:"price_key"`
	PriceModPct   float64        `json:"price_modifier_pct"`
	CustomColumns []CustomColumn `json:"custom_columns"`
}

// CustomColumn returns the declared custom column for key, if any.
func (m MappingConfig) CustomColumn(key string) (CustomColumn, bool) {
	for _, c := range m.CustomColumns {
		if c.Key == key {
			return c, true
		}
	}
	return CustomColumn{}, false
}

// IsCustomKey reports whether key names a declared custom column.
func (m MappingConfig) IsCustomKey(key string) bool {
	_, ok := m.CustomColumn(key)
	return ok
}
