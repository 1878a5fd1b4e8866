// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package pricing

import (
	"strings"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
)

// The currency-conversion overlay rewrites selected calculated-data keys
// in place while preserving each original value verbatim under the
// reserved prefix. Reverting restores the stored originals exactly, which
// is what makes convert-then-revert a strict round trip even for values
// that were locale-formatted strings.

// ApplyConversion multiplies each target key's numeric value by rate.
// The pre-conversion value is kept verbatim under the reserved prefix; a
// second conversion recomputes from that original instead of compounding.
// Keys with no parseable value are skipped. It reports whether anything
// changed.
func ApplyConversion(calc map[string]any, targetKeys []string, rate float64) bool {
	if calc == nil {
		return false
	}
	changed := false
	for _, key := range targetKeys {
		if key == "" || strings.HasPrefix(key, domain.PreFXPrefix) || key == domain.FXRateKey {
			continue
		}
		original, converted := calc[key], calc[key]
		if prev, ok := calc[domain.PreFXPrefix+key]; ok {
			// Already converted: recompute from the preserved original.
			original = prev
			converted = prev
		}
		f := ParseFlexibleNumber(converted)
		if f == nil {
			continue
		}
		calc[domain.PreFXPrefix+key] = original
		calc[key] = *f * rate
		changed = true
	}
	if changed {
		calc[domain.FXRateKey] = rate
	}
	return changed
}

// RevertConversion restores the preserved originals for the target keys
// and drops their overlay entries. When the last overlay entry goes away
// the stored rate goes with it. It reports whether anything changed.
func RevertConversion(calc map[string]any, targetKeys []string) bool {
	if calc == nil {
		return false
	}
	changed := false
	for _, key := range targetKeys {
		pre := domain.PreFXPrefix + key
		original, ok := calc[pre]
		if !ok {
			continue
		}
		calc[key] = original
		delete(calc, pre)
		changed = true
	}
	if changed && !HasConversion(calc) {
		delete(calc, domain.FXRateKey)
	}
	return changed
}

// ConvertEntry applies the overlay to an index entry's calculated data.
// A target key with no value there yet (the primary price column, say) is
// first seeded through the resolver so the conversion has a number to
// work on. It reports whether anything changed.
func ConvertEntry(e *domain.ProductIndexEntry, m domain.MappingConfig, targetKeys []string, rate float64) bool {
	if e.CalculatedData == nil {
		e.CalculatedData = make(map[string]any)
	}
	src := PriceSource{BasePrice: e.Price, Calculated: e.CalculatedData}
	for _, key := range targetKeys {
		if _, ok := e.CalculatedData[key]; ok {
			continue
		}
		if v := ResolveUnitPrice(key, m, src); v != nil {
			e.CalculatedData[key] = *v
		}
	}
	return ApplyConversion(e.CalculatedData, targetKeys, rate)
}

// RevertEntry restores the preserved originals on an index entry.
func RevertEntry(e *domain.ProductIndexEntry, targetKeys []string) bool {
	return RevertConversion(e.CalculatedData, targetKeys)
}

// HasConversion reports whether any overlay entry is present.
func HasConversion(calc map[string]any) bool {
	for k := range calc {
		if strings.HasPrefix(k, domain.PreFXPrefix) {
			return true
		}
	}
	return false
}

// ConvertedKeys lists the keys currently carrying an overlay, in no
// particular order.
func ConvertedKeys(calc map[string]any) []string {
	var keys []string
	for k := range calc {
		if strings.HasPrefix(k, domain.PreFXPrefix) {
			keys = append(keys, strings.TrimPrefix(k, domain.PreFXPrefix))
		}
	}
	return keys
}

// ConversionRate returns the stored rate of an active overlay.
func ConversionRate(calc map[string]any) (float64, bool) {
	v, ok := calc[domain.FXRateKey]
	if !ok {
		return 0, false
	}
	f := ParseFlexibleNumber(v)
	if f == nil {
		return 0, false
	}
	return *f, true
}
