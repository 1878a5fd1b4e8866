// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
)

// The pending-operation queue is an ordered durable log of local mutations
// awaiting upload. Operations are assigned a monotonic seq on insert and
// always replayed in seq order; an operation leaves the queue only by
// being acked (uploaded or intentionally dropped) or by the database being
// reset.

// Enqueue appends one operation to the queue and returns its seq.
func (s *Store) Enqueue(ctx context.Context, op domain.PendingOperation) (int64, error) {
	return enqueueOp(ctx, s.db, op, s.now())
}

// EnqueueBulk appends operations in order inside one transaction.
func (s *Store) EnqueueBulk(ctx context.Context, ops []domain.PendingOperation) error {
	return s.Transaction(ctx, []string{queueTable}, func(ctx context.Context, tx *Tx) error {
		for _, op := range ops {
			if _, err := tx.Enqueue(ctx, op); err != nil {
				return err
			}
		}
		return nil
	})
}

// Enqueue appends one operation within the transaction. The transaction
// must have declared the pending_operations table.
func (t *Tx) Enqueue(ctx context.Context, op domain.PendingOperation) (int64, error) {
	if !t.allowed[queueTable] {
		return 0, &SchemaError{Table: queueTable, Reason: "not declared in this transaction"}
	}
	return enqueueOp(ctx, t.tx, op, t.store.now())
}

func enqueueOp(ctx context.Context, q querier, op domain.PendingOperation, now time.Time) (int64, error) {
	if op.Table == "" || op.RecordID == "" {
		return 0, fmt.Errorf("pending operation missing table or record id")
	}
	switch op.Kind {
	case domain.OpInsert, domain.OpUpdate, domain.OpDelete:
	default:
		return 0, fmt.Errorf("pending operation has unknown kind %q", op.Kind)
	}
	queuedAt := op.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = now
	}
	var payload any
	if len(op.Payload) > 0 {
		payload = string(op.Payload)
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO pending_operations (op_table, kind, record_id, payload, queued_at, retry_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		op.Table, string(op.Kind), op.RecordID, payload, queuedAt.UTC().Format(time.RFC3339Nano), op.RetryCount)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s %s/%s: %w", op.Kind, op.Table, op.RecordID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read enqueue seq: %w", err)
	}
	return seq, nil
}

// PendingOperations returns queued operations in seq order. limit <= 0
// returns all of them.
func (s *Store) PendingOperations(ctx context.Context, limit int) ([]domain.PendingOperation, error) {
	query := `SELECT seq, op_table, kind, record_id, payload, queued_at, retry_count
	          FROM pending_operations ORDER BY seq`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}
	defer rows.Close()

	var ops []domain.PendingOperation
	for rows.Next() {
		var op domain.PendingOperation
		var kind, queuedAt string
		var payload *string
		if err := rows.Scan(&op.Seq, &op.Table, &kind, &op.RecordID, &payload, &queuedAt, &op.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan pending operation: %w", err)
		}
		op.Kind = domain.OpKind(kind)
		if payload != nil {
			op.Payload = json.RawMessage(*payload)
		}
		if t, err := time.Parse(time.RFC3339Nano, queuedAt); err == nil {
			op.QueuedAt = t
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending operations: %w", err)
	}
	return ops, nil
}

// PendingCount returns how many operations are waiting.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_operations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return n, nil
}

// AckOperation removes a delivered (or deliberately discarded) operation.
func (s *Store) AckOperation(ctx context.Context, seq int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to ack pending operation %d: %w", seq, err)
	}
	return nil
}

// FailOperation records a failed delivery attempt, keeping the operation
// (and its position) for the next pass.
func (s *Store) FailOperation(ctx context.Context, seq int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE pending_operations SET retry_count = retry_count + 1 WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to bump retry count for operation %d: %w", seq, err)
	}
	return nil
}

// Drain feeds queued operations to fn in seq order. A nil return acks the
// operation; an error bumps its retry count and parks every later
// operation on the same record so per-record order is preserved, while
// operations on other records keep flowing. Drain returns the number of
// acked operations and the first error fn reported, after the pass
// completes.
func (s *Store) Drain(ctx context.Context, fn func(op domain.PendingOperation) error) (int, error) {
	ops, err := s.PendingOperations(ctx, 0)
	if err != nil {
		return 0, err
	}
	parked := make(map[string]bool)
	acked := 0
	var firstErr error
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return acked, err
		}
		key := op.RecordKey()
		if parked[key] {
			continue
		}
		if err := fn(op); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			parked[key] = true
			if ferr := s.FailOperation(ctx, op.Seq); ferr != nil {
				return acked, ferr
			}
			continue
		}
		if err := s.AckOperation(ctx, op.Seq); err != nil {
			return acked, err
		}
		acked++
	}
	return acked, firstErr
}
