// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"fmt"
)

// Record is the generic row shape the local store and the remote backend
// exchange: a JSON object that always carries a string "id".
type Record = map[string]any

// ToRecord converts an entity to its record form via its JSON encoding.
func ToRecord(v any) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var m Record
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return m, nil
}

// FromRecord decodes a record into the entity pointed to by v.
func FromRecord(rec Record, v any) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// RecordID extracts the "id" field of a record.
func RecordID(rec Record) (string, bool) {
	id, ok := rec["id"].(string)
	return id, ok && id != ""
}

// RecordString extracts a string field, tolerating absent or null values.
func RecordString(rec Record, key string) string {
	s, _ := rec[key].(string)
	return s
}

// RecordFloat extracts a numeric field. JSON numbers decode as float64.
func RecordFloat(rec Record, key string) float64 {
	f, _ := rec[key].(float64)
	return f
}
