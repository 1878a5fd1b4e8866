// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package pricing

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ParseFlexibleNumber extracts a numeric value from whatever an imported
// price cell holds. Supplier sheets mix plain numbers with locale-formatted
// strings ("1.234,56", "1,234.56", "$ 950"); when both separators appear,
// the one that appears last is the decimal separator. It returns nil (not
// zero) for unparseable input so callers can tell "no price" from "free".
func ParseFlexibleNumber(v any) *float64 {
	switch t := v.(type) {
	case nil:
		return nil
	case *float64:
		if t == nil {
			return nil
		}
		f := *t
		return &f
	case float64:
		f := t
		return &f
	case float32:
		f := float64(t)
		return &f
	case int:
		f := float64(t)
		return &f
	case int32:
		f := float64(t)
		return &f
	case int64:
		f := float64(t)
		return &f
	case json.Number:
		return parseLocaleNumber(t.String())
	case string:
		return parseLocaleNumber(t)
	default:
		return nil
	}
}

func parseLocaleNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" {
		return nil
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return nil
		}
	}

	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			// 1,234.56: comma groups thousands.
			s = strings.ReplaceAll(s, ",", "")
		} else {
			// 1.234,56: dot groups thousands.
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	if neg {
		f = -f
	}
	return &f
}
