// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

// Package repository is the single contact surface for application code:
// per-aggregate CRUD over clients, delivery notes, product lists and
// personal stock, plus bulk stock adjustment, currency conversion, price
// resolution and product search. Every operation reads the connectivity
// snapshot once and branches: online work goes to the backend first and
// mirrors locally only after confirmed success; offline work commits one
// local transaction that carries both the data change and its queued
// upload, so nothing is ever half-applied.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/connectivity"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/localstore"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/remote"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/syncer"
)

// ErrNotFound is returned when a requested record is absent locally and,
// online, remotely as well.
var ErrNotFound = localstore.ErrNotFound

// Config tunes a Repository. Zero values are production defaults.
type Config struct {
	Logger *slog.Logger
	// NewID mints record ids and idempotency tokens. Defaults to UUIDv4.
	NewID func() string
	// Now is the clock used for entity stamps. Defaults to time.Now UTC.
	Now func() time.Time
}

// Repository exposes the operation surface. All methods are safe for
// concurrent use; durability and ordering come from the store and queue
// underneath.
type Repository struct {
	store   *localstore.Store
	backend syncer.Backend
	monitor *connectivity.Monitor
	logger  *slog.Logger
	events  *Bus
	newID   func() string
	now     func() time.Time
}

// New wires a repository over its collaborators.
func New(store *localstore.Store, backend syncer.Backend, monitor *connectivity.Monitor, cfg Config) *Repository {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Repository{
		store:   store,
		backend: backend,
		monitor: monitor,
		logger:  logger,
		events:  NewBus(),
		newID:   newID,
		now:     now,
	}
}

// Events is the subscription surface for UI collaborators.
func (r *Repository) Events() *Bus { return r.events }

// Store exposes the underlying local store, mainly for state containers
// and tests.
func (r *Repository) Store() *localstore.Store { return r.store }

// NotifyRefreshed translates a sync pass's refreshed tables into the
// fire-and-forget UI events. Wire it to syncer.Config.OnReport.
func (r *Repository) NotifyRefreshed(tables []string) {
	var stock, prices bool
	for _, t := range tables {
		switch t {
		case domain.TableMyStock, domain.TableProducts, domain.TableProductIndex:
			stock = true
		}
		switch t {
		case domain.TableProductIndex, domain.TableProductLists:
			prices = true
		}
	}
	if stock {
		r.events.emitStock(StockUpdate{})
	}
	if prices {
		r.events.emitPrices(PriceUpdate{All: true})
	}
}

// online reads the connectivity snapshot. Each operation calls it exactly
// once and sticks with the answer for its whole span.
func (r *Repository) online() bool {
	return r.monitor.IsOnline()
}

// mirrorList replaces a table's local contents with rows confirmed by the
// backend. Used by online reads; failures here are logged, not surfaced,
// because the caller already has the data.
func (r *Repository) mirrorList(ctx context.Context, table string, rows []domain.Record) {
	err := r.store.Transaction(ctx, []string{table}, func(ctx context.Context, tx *localstore.Tx) error {
		if _, err := tx.DeleteWhere(ctx, table, nil); err != nil {
			return err
		}
		return tx.BulkPut(ctx, table, rows)
	})
	if err != nil {
		r.logger.Error("mirror update failed", "table", table, "error", err)
	}
}

// mirrorPut overwrites one mirrored row after a confirmed remote write.
func (r *Repository) mirrorPut(ctx context.Context, table string, rec domain.Record) {
	if err := r.store.Put(ctx, table, rec); err != nil {
		r.logger.Error("mirror update failed", "table", table, "error", err)
	}
}

// fetchRows serves a table read. The caller passes the connectivity
// snapshot it took at the start of its operation. Online the table is
// pulled from the backend and mirrored before filtering locally, so both
// paths return rows in the same shape and order; a transient remote
// failure downgrades to the mirror with a warning. Offline the mirror is
// read directly.
func (r *Repository) fetchRows(ctx context.Context, online bool, table string, filter map[string]any) ([]domain.Record, error) {
	if online {
		rows, err := r.backend.ListRows(ctx, table)
		switch {
		case err == nil:
			r.mirrorList(ctx, table, rows)
		case remote.IsTransient(err):
			r.logger.Warn("remote list failed, serving mirror", "table", table, "error", err)
		default:
			return nil, err
		}
	}
	return r.store.Query(ctx, table, filter)
}

// fetchRow serves a single-row read with the same policy as fetchRows.
func (r *Repository) fetchRow(ctx context.Context, online bool, table, id string) (domain.Record, error) {
	if online {
		rec, err := r.backend.GetRow(ctx, table, id)
		switch {
		case err == nil:
			r.mirrorPut(ctx, table, rec)
			return rec, nil
		case remote.IsNotFound(err):
			return nil, ErrNotFound
		case remote.IsTransient(err):
			r.logger.Warn("remote get failed, serving mirror", "table", table, "id", id, "error", err)
		default:
			return nil, err
		}
	}
	return r.store.Get(ctx, table, id)
}

// putRow performs a dual-path row write. Online the backend is written
// first and the mirror only after confirmed success; a failed online write
// applies nothing and is reported to the caller. Offline the mirror write
// and its queued upload commit in one local transaction.
func (r *Repository) putRow(ctx context.Context, online bool, table string, kind domain.OpKind, rec domain.Record) (domain.Record, error) {
	if _, ok := domain.RecordID(rec); !ok {
		return nil, fmt.Errorf("record for %s is missing an id", table)
	}
	if online {
		stored, err := r.backend.UpsertRow(ctx, table, rec)
		if err != nil {
			return nil, err
		}
		r.mirrorPut(ctx, table, stored)
		return stored, nil
	}
	err := r.store.Transaction(ctx, []string{table, domain.TablePendingOps}, func(ctx context.Context, tx *localstore.Tx) error {
		if err := tx.Put(ctx, table, rec); err != nil {
			return err
		}
		return queueRecordOpTx(ctx, tx, table, kind, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// deleteOp builds the queued form of a row deletion. The payload carries
// only the id; replay needs nothing else.
func deleteOp(table, id string) domain.PendingOperation {
	payload, _ := json.Marshal(map[string]any{"id": id})
	return domain.PendingOperation{Table: table, Kind: domain.OpDelete, RecordID: id, Payload: payload}
}

// queueRecordOpTx enqueues the replay of a row write inside an open
// transaction, with the full record snapshot as payload.
func queueRecordOpTx(ctx context.Context, tx *localstore.Tx, table string, kind domain.OpKind, rec domain.Record) error {
	id, ok := domain.RecordID(rec)
	if !ok {
		return fmt.Errorf("record for %s is missing an id", table)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode pending payload: %w", err)
	}
	_, err = tx.Enqueue(ctx, domain.PendingOperation{Table: table, Kind: kind, RecordID: id, Payload: payload})
	return err
}
