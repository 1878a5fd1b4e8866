// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package pricing

import (
	"fmt"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
)

// BuildIndexEntry regenerates a product's index entry from its raw data
// and the owning list's mapping: normalized code/name/quantity, the base
// price with the list's modifier applied, and the computed custom-column
// values. When prev carries an active currency-conversion overlay, the
// overlay is re-applied with the stored rate so a rebuild does not
// silently flip converted prices back; the stock threshold survives
// rebuilds the same way.
func BuildIndexEntry(p domain.Product, list domain.ProductList, prev *domain.ProductIndexEntry) domain.ProductIndexEntry {
	m := list.Mapping

	entry := domain.ProductIndexEntry{
		ID:        p.ID,
		ListID:    p.ListID,
		Code:      fieldString(p.Data, m.CodeKey, p.Code),
		Name:      fieldString(p.Data, m.NameKey, p.Name),
		Quantity:  p.Quantity,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if m.QuantityKey != "" {
		if q := ParseFlexibleNumber(p.Data[m.QuantityKey]); q != nil {
			entry.Quantity = *q
		}
	}

	price := copyFloat(p.Price)
	if m.PriceKey != "" {
		if f := ParseFlexibleNumber(p.Data[m.PriceKey]); f != nil {
			price = f
		}
	}
	if price != nil && m.PriceModPct != 0 {
		v := *price * (1 + m.PriceModPct/100)
		price = &v
	}
	entry.Price = price

	calc := make(map[string]any, len(m.CustomColumns))
	src := PriceSource{BasePrice: price, Data: p.Data}
	for _, cc := range m.CustomColumns {
		if v := ResolveUnitPrice(cc.Key, m, src); v != nil {
			calc[cc.Key] = *v
		}
	}
	entry.CalculatedData = calc

	if prev != nil {
		entry.StockThreshold = prev.StockThreshold
		if rate, ok := ConversionRate(prev.CalculatedData); ok {
			ConvertEntry(&entry, m, ConvertedKeys(prev.CalculatedData), rate)
		}
	}
	return entry
}

// NormalizeProduct fills a product's extracted fields from its raw data
// according to the mapping: code, name, base price and quantity. Fields
// already set are kept as fallbacks when the mapped column is absent.
func NormalizeProduct(p *domain.Product, m domain.MappingConfig) {
	p.Code = fieldString(p.Data, m.CodeKey, p.Code)
	p.Name = fieldString(p.Data, m.NameKey, p.Name)
	if m.PriceKey != "" {
		if f := ParseFlexibleNumber(p.Data[m.PriceKey]); f != nil {
			p.Price = f
		}
	}
	if m.QuantityKey != "" {
		if q := ParseFlexibleNumber(p.Data[m.QuantityKey]); q != nil {
			p.Quantity = *q
		}
	}
}

func fieldString(data map[string]any, key, fallback string) string {
	if key == "" {
		return fallback
	}
	switch v := data[key].(type) {
	case nil:
		return fallback
	case string:
		if v == "" {
			return fallback
		}
		return v
	case float64:
		// Codes imported from spreadsheets often arrive as numbers.
		return trimFloat(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.6f", f)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}
