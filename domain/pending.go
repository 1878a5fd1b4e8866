// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"
)

// OpKind is the kind of write captured by a pending operation.
type OpKind string

const (
	OpInsert OpKind = "INSERT"
	OpUpdate OpKind = "UPDATE"
	OpDelete OpKind = "DELETE"
)

// Reserved payload fields that change how a pending operation is replayed
// against the backend. A payload carrying PayloadFieldDelta is replayed
// through the bulk stock-adjust procedure (with PayloadFieldOpID as the
// idempotency token) instead of a plain row write; a payload carrying
// PayloadFieldRPC is replayed through the named batched procedure.
const (
	PayloadFieldDelta = "quantity_delta"
	PayloadFieldOpID  = "op_id"
	PayloadFieldRPC   = "rpc"
)

// RPC names used with PayloadFieldRPC.
const (
	RPCCurrencyConvert = "currency_convert"
	RPCCurrencyRevert  = "currency_revert"
)

// PendingOperation is one not-yet-synced write. Seq is assigned by the
// queue and defines drain order; QueuedAt is informational. RetryCount is
// incremented every time a replay fails transiently and the operation is
// left queued.
type PendingOperation struct {
	Seq        int64           `json:"seq"`
	Table      string          `json:"table"`
	Kind       OpKind          `json:"kind"`
	RecordID   string          `json:"record_id"`
	Payload    json.RawMessage `json:"payload"`
	QueuedAt   time.Time       `json:"queued_at"`
	RetryCount int             `json:"retry_count"`
}

// RecordKey identifies the record an operation touches, independent of the
// operation kind. Drain partitioning groups operations by this key.
func (op PendingOperation) RecordKey() string {
	return op.Table + "/" + op.RecordID
}

// PayloadMap decodes the payload into a map. A nil payload (DELETE) yields
// an empty map.
func (op PendingOperation) PayloadMap() (map[string]any, error) {
	if len(op.Payload) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(op.Payload, &m); err != nil {
		return nil, err
	}
	return m, nil
}
