// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/remote"
)

// ErrBadOperation marks a queued operation the backend can never accept:
// malformed payload, unknown kind, unknown procedure. Classified
// permanent, so the operation is dropped instead of retried forever.
var ErrBadOperation = errors.New("syncer: malformed pending operation")

// ErrRejected marks an operation the backend understood and refused.
var ErrRejected = errors.New("syncer: backend rejected operation")

// applyOperation replays one queued operation. Payloads carrying reserved
// fields route through the batched procedures; everything else is a plain
// row write keyed by the operation's table and record id.
func (r *Reconciler) applyOperation(ctx context.Context, op domain.PendingOperation) error {
	payload, err := op.PayloadMap()
	if err != nil {
		return fmt.Errorf("%w: undecodable payload for seq %d: %v", ErrBadOperation, op.Seq, err)
	}

	if rpc, ok := payload[domain.PayloadFieldRPC].(string); ok && rpc != "" {
		return r.applyProcedure(ctx, op, rpc, payload)
	}

	if rawDelta, ok := payload[domain.PayloadFieldDelta]; ok {
		delta, ok := rawDelta.(float64)
		if !ok {
			return fmt.Errorf("%w: non-numeric quantity delta for %s", ErrBadOperation, op.RecordKey())
		}
		opID, _ := payload[domain.PayloadFieldOpID].(string)
		if opID == "" {
			return fmt.Errorf("%w: stock adjustment without idempotency token for %s", ErrBadOperation, op.RecordKey())
		}
		outcome, err := r.backend.BulkAdjustStock(ctx, []remote.StockAdjustment{
			{ProductID: op.RecordID, Delta: delta, OpID: opID},
		})
		if err != nil {
			return err
		}
		if unapplied := outcome.Unapplied(); len(unapplied) > 0 {
			return fmt.Errorf("%w: stock adjustment for %s not applied", ErrRejected, op.RecordID)
		}
		return nil
	}

	switch op.Kind {
	case domain.OpInsert, domain.OpUpdate:
		if len(payload) == 0 {
			return fmt.Errorf("%w: %s %s carries no record", ErrBadOperation, op.Kind, op.RecordKey())
		}
		if _, ok := domain.RecordID(payload); !ok {
			payload["id"] = op.RecordID
		}
		_, err := r.backend.UpsertRow(ctx, op.Table, payload)
		return err
	case domain.OpDelete:
		return r.backend.DeleteRow(ctx, op.Table, op.RecordID)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrBadOperation, op.Kind)
	}
}

func (r *Reconciler) applyProcedure(ctx context.Context, op domain.PendingOperation, rpc string, payload map[string]any) error {
	switch rpc {
	case domain.RPCCurrencyConvert:
		req, err := currencyRequest(op, payload)
		if err != nil {
			return err
		}
		if req.Rate == 0 {
			return fmt.Errorf("%w: currency conversion without a rate for %s", ErrBadOperation, op.RecordKey())
		}
		_, err = r.backend.ConvertCurrency(ctx, req)
		return err
	case domain.RPCCurrencyRevert:
		req, err := currencyRequest(op, payload)
		if err != nil {
			return err
		}
		req.Rate = 0
		_, err = r.backend.RevertCurrency(ctx, req)
		return err
	default:
		return fmt.Errorf("%w: unknown procedure %q", ErrBadOperation, rpc)
	}
}

func currencyRequest(op domain.PendingOperation, payload map[string]any) (remote.CurrencyRequest, error) {
	req := remote.CurrencyRequest{
		ListID: domain.RecordString(payload, "list_id"),
		Rate:   domain.RecordFloat(payload, "rate"),
	}
	if req.ListID == "" {
		return req, fmt.Errorf("%w: currency operation without list id for %s", ErrBadOperation, op.RecordKey())
	}
	raw, _ := payload["target_keys"].([]any)
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			req.TargetKeys = append(req.TargetKeys, s)
		}
	}
	if len(req.TargetKeys) == 0 {
		return req, fmt.Errorf("%w: currency operation without target keys for %s", ErrBadOperation, op.RecordKey())
	}
	return req, nil
}

type failureClass int

const (
	classTransient failureClass = iota
	classPermanent
	classOutage
)

// classifyFailure sorts a replay error into the retry policy: permanent
// failures drop the operation, transient ones park the record, and
// transport-level failures abort the whole pass since nothing else will
// get through either.
func classifyFailure(err error) failureClass {
	if errors.Is(err, ErrBadOperation) || errors.Is(err, ErrRejected) {
		return classPermanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classOutage
	}
	var ce *remote.CallError
	if errors.As(err, &ce) {
		if !ce.Transient() {
			return classPermanent
		}
		if ce.Err != nil {
			return classOutage
		}
		return classTransient
	}
	return classTransient
}
