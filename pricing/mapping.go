// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package pricing

import (
	"fmt"
	"strings"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
)

// ValidateMapping checks a mapping configuration against the list's
// column schema: every referenced key must exist in the schema or be a
// declared custom column, custom columns must not shadow schema keys or
// use reserved names, and every base column must itself resolve.
func ValidateMapping(schema []domain.ColumnSpec, m domain.MappingConfig) error {
	known := make(map[string]bool, len(schema)+len(m.CustomColumns))
	for _, col := range schema {
		if col.Key == "" {
			return fmt.Errorf("column schema contains an empty key")
		}
		known[col.Key] = true
	}

	for _, cc := range m.CustomColumns {
		if cc.Key == "" {
			return fmt.Errorf("custom column with empty key")
		}
		if strings.HasPrefix(cc.Key, domain.PreFXPrefix) || cc.Key == domain.FXRateKey {
			return fmt.Errorf("custom column key %q uses a reserved name", cc.Key)
		}
		if known[cc.Key] {
			return fmt.Errorf("custom column key %q collides with an existing column", cc.Key)
		}
		known[cc.Key] = true
	}

	for _, ref := range []struct{ field, key string }{
		{"code", m.CodeKey},
		{"name", m.NameKey},
		{"quantity", m.QuantityKey},
		{"price", m.PriceKey},
	} {
		if ref.key != "" && !known[ref.key] {
			return fmt.Errorf("mapping %s key %q not found in column schema", ref.field, ref.key)
		}
	}

	for _, cc := range m.CustomColumns {
		if cc.BaseColumn == "" {
			return fmt.Errorf("custom column %q has no base column", cc.Key)
		}
		if !known[cc.BaseColumn] {
			return fmt.Errorf("custom column %q references unknown base column %q", cc.Key, cc.BaseColumn)
		}
	}
	return nil
}
