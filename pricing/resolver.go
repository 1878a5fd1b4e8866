// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

// Package pricing resolves effective unit prices from a product list's
// mapping configuration: the primary price column, custom computed
// columns (percentage and VAT formulas over a base column), and the
// reversible currency-conversion overlay stored in a product's calculated
// data. It also normalizes the locale-formatted numbers that supplier
// imports carry.
package pricing

import (
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
)

// maxResolveDepth bounds custom-column recursion. A formula cycle
// terminates here and resolves to nil instead of looping.
const maxResolveDepth = 8

// PriceSource is the slice of a product the resolver reads: the
// normalized base price, the raw imported fields, and the computed
// calculated data (which carries the FX overlay).
type PriceSource struct {
	BasePrice  *float64
	Data       map[string]any
	Calculated map[string]any
}

// SourceFromProduct builds a PriceSource from a raw product.
func SourceFromProduct(p domain.Product) PriceSource {
	return PriceSource{BasePrice: p.Price, Data: p.Data}
}

// SourceFromIndexEntry builds a PriceSource from an index entry. The
// entry's calculated data takes precedence over raw fields, so converted
// and precomputed values win.
func SourceFromIndexEntry(e domain.ProductIndexEntry) PriceSource {
	return PriceSource{BasePrice: e.Price, Calculated: e.CalculatedData}
}

// ResolveUnitPrice resolves the effective unit price for priceColumnKey.
// Resolution order: a precomputed value in calculated or raw data, the
// configured primary price key, a custom computed column (resolved
// recursively through its base column), then the base price as fallback.
// It returns nil when the key resolves to nothing numeric or when custom
// column recursion revisits a column or exceeds its depth bound.
func ResolveUnitPrice(key string, m domain.MappingConfig, src PriceSource) *float64 {
	return resolvePrice(key, m, src, false, 0, nil)
}

// ResolveComparisonPrice resolves like ResolveUnitPrice but strips any
// active currency-conversion overlay, reading the preserved original
// value instead of the converted one. Comparing it against a delivery
// note line's stored base price detects a stale price column without
// being fooled by a conversion applied since the line was written.
func ResolveComparisonPrice(key string, m domain.MappingConfig, src PriceSource) *float64 {
	return resolvePrice(key, m, src, true, 0, nil)
}

func resolvePrice(key string, m domain.MappingConfig, src PriceSource, comparison bool, depth int, visited map[string]bool) *float64 {
	if depth > maxResolveDepth {
		return nil
	}
	if key == "" {
		return copyFloat(src.BasePrice)
	}

	if comparison {
		if v, ok := src.Calculated[domain.PreFXPrefix+key]; ok {
			if f := ParseFlexibleNumber(v); f != nil {
				return f
			}
		}
	}
	if v, ok := src.Calculated[key]; ok {
		if f := ParseFlexibleNumber(v); f != nil {
			return f
		}
	}
	if v, ok := src.Data[key]; ok {
		if f := ParseFlexibleNumber(v); f != nil {
			return f
		}
	}

	if key == m.PriceKey {
		return copyFloat(src.BasePrice)
	}

	if cc, ok := m.CustomColumn(key); ok {
		if visited[key] {
			return nil
		}
		if visited == nil {
			visited = make(map[string]bool, 4)
		}
		visited[key] = true
		base := resolvePrice(cc.BaseColumn, m, src, comparison, depth+1, visited)
		if base == nil {
			return nil
		}
		v := *base * (1 + cc.Percentage/100)
		if cc.ApplyVAT {
			v *= 1 + cc.VATRate/100
		}
		return &v
	}

	return copyFloat(src.BasePrice)
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
