// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncer reconciles the local store with the backend. It drains
// the pending-operation queue strictly in enqueue order, classifies every
// failure as transient (record parked for the pass, retried later) or
// permanent (operation dropped and reported), and re-pulls the mirror for
// the tables a successful pass touched. Drains coalesce: a trigger while
// a pass runs is a no-op rather than a second concurrent drain.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/connectivity"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/localstore"
)

// Config tunes the reconciler. Zero values fall back to DefaultConfig.
type Config struct {
	// DrainInterval is how often Run re-checks the queue while online,
	// independent of explicit kicks.
	DrainInterval time.Duration
	// BackoffMin/BackoffMax bound the exponential backoff applied after
	// an aborted pass (transport outage).
	BackoffMin time.Duration
	BackoffMax time.Duration
	// MaxRetries, when positive, drops an operation (reporting it like a
	// permanent failure) once its retry count reaches the limit. Zero
	// keeps retrying forever.
	MaxRetries int

	// OnPermanentFailure is called for every operation dropped from the
	// queue after a permanent failure. This is the only channel through
	// which a rejected offline write surfaces to the user.
	OnPermanentFailure func(op domain.PendingOperation, err error)
	// OnReport observes every completed (non-coalesced) pass.
	OnReport func(rep *DrainReport)
}

// DefaultConfig returns the tuning used in production.
func DefaultConfig() Config {
	return Config{
		DrainInterval: 30 * time.Second,
		BackoffMin:    1 * time.Second,
		BackoffMax:    60 * time.Second,
	}
}

// Reconciler drains the queue against the backend and keeps the local
// mirror fresh.
type Reconciler struct {
	store   *localstore.Store
	backend Backend
	monitor *connectivity.Monitor
	cfg     Config
	logger  *slog.Logger

	draining atomic.Bool
	kick     chan struct{}
}

// New builds a reconciler. The monitor gates draining: passes are
// attempted only while it reports online.
func New(store *localstore.Store, backend Backend, monitor *connectivity.Monitor, cfg Config, logger *slog.Logger) *Reconciler {
	def := DefaultConfig()
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = def.DrainInterval
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = def.BackoffMin
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:   store,
		backend: backend,
		monitor: monitor,
		cfg:     cfg,
		logger:  logger,
		kick:    make(chan struct{}, 1),
	}
}

// DrainReport describes one DrainOnce call.
type DrainReport struct {
	// Coalesced means another pass was already running; nothing was done.
	Coalesced bool
	// Offline means the monitor reported offline; nothing was attempted.
	Offline bool

	Attempted int
	Uploaded  int
	Parked    int
	Dropped   int
	// Aborted means a transport-level outage ended the pass early;
	// everything still queued stays queued.
	Aborted bool
	// Refreshed lists the tables re-pulled from the backend afterwards.
	Refreshed []string
}

// DrainOnce runs a single reconciliation pass: replay queued operations
// in order, ack successes, park records that fail transiently, drop and
// report operations that fail permanently, then refresh the mirror for
// touched tables that have no operations left. Concurrent calls coalesce
// into the running pass.
func (r *Reconciler) DrainOnce(ctx context.Context) (*DrainReport, error) {
	rep := &DrainReport{}
	if !r.monitor.IsOnline() {
		rep.Offline = true
		return rep, nil
	}
	if !r.draining.CompareAndSwap(false, true) {
		rep.Coalesced = true
		return rep, nil
	}
	defer r.draining.Store(false)

	ops, err := r.store.PendingOperations(ctx, 0)
	if err != nil {
		return rep, err
	}

	parked := make(map[string]bool)
	touched := make(map[string]bool)

pass:
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			rep.Aborted = true
			return rep, err
		}
		if parked[op.RecordKey()] {
			rep.Parked++
			continue
		}

		rep.Attempted++
		applyErr := r.applyOperation(ctx, op)
		if applyErr == nil {
			if err := r.store.AckOperation(ctx, op.Seq); err != nil {
				return rep, err
			}
			rep.Uploaded++
			touched[op.Table] = true
			continue
		}

		switch classifyFailure(applyErr) {
		case classOutage:
			if err := r.store.FailOperation(ctx, op.Seq); err != nil {
				return rep, err
			}
			rep.Aborted = true
			r.logger.Warn("sync pass aborted by transport failure",
				"seq", op.Seq, "table", op.Table, "record", op.RecordID, "error", applyErr)
			break pass
		case classPermanent:
			if err := r.store.AckOperation(ctx, op.Seq); err != nil {
				return rep, err
			}
			rep.Dropped++
			r.logger.Warn("dropped operation after permanent failure",
				"seq", op.Seq, "kind", op.Kind, "table", op.Table, "record", op.RecordID, "error", applyErr)
			if r.cfg.OnPermanentFailure != nil {
				r.cfg.OnPermanentFailure(op, applyErr)
			}
		default:
			if r.cfg.MaxRetries > 0 && op.RetryCount+1 >= r.cfg.MaxRetries {
				if err := r.store.AckOperation(ctx, op.Seq); err != nil {
					return rep, err
				}
				rep.Dropped++
				r.logger.Warn("dropped operation after exhausting retries",
					"seq", op.Seq, "table", op.Table, "record", op.RecordID,
					"retries", op.RetryCount+1, "error", applyErr)
				if r.cfg.OnPermanentFailure != nil {
					r.cfg.OnPermanentFailure(op, applyErr)
				}
				continue
			}
			if err := r.store.FailOperation(ctx, op.Seq); err != nil {
				return rep, err
			}
			parked[op.RecordKey()] = true
			rep.Parked++
			r.logger.Debug("parked record after transient failure",
				"seq", op.Seq, "table", op.Table, "record", op.RecordID, "error", applyErr)
		}
	}

	if !rep.Aborted {
		rep.Refreshed = r.refreshAfterPass(ctx, touched)
	}

	r.logger.Info("sync pass finished",
		"attempted", rep.Attempted, "uploaded", rep.Uploaded,
		"parked", rep.Parked, "dropped", rep.Dropped, "aborted", rep.Aborted)
	if r.cfg.OnReport != nil {
		r.cfg.OnReport(rep)
	}
	return rep, nil
}

// refreshAfterPass re-pulls every touched table (plus dependents) whose
// queue position is clear. A table with operations still parked keeps its
// local state: those records will re-upload on the next pass, and pulling
// the server's version now would wind the mirror backwards underneath
// them. Refresh failures are logged, not surfaced; the uploads already
// succeeded.
func (r *Reconciler) refreshAfterPass(ctx context.Context, touched map[string]bool) []string {
	if len(touched) == 0 {
		return nil
	}

	remaining, err := r.store.PendingOperations(ctx, 0)
	if err != nil {
		r.logger.Error("failed to inspect queue before mirror refresh", "error", err)
		return nil
	}
	hasPending := make(map[string]bool)
	for _, op := range remaining {
		hasPending[op.Table] = true
	}

	want := make(map[string]bool)
	for table := range touched {
		want[table] = true
		for _, dep := range domain.Dependents(table) {
			want[dep] = true
		}
	}

	var refreshed []string
	for _, table := range domain.SyncedTables() {
		if !want[table] || hasPending[table] {
			continue
		}
		if err := r.RefreshTable(ctx, table); err != nil {
			r.logger.Error("mirror refresh failed", "table", table, "error", err)
			continue
		}
		refreshed = append(refreshed, table)
	}
	return refreshed
}

// PendingCount exposes the queue depth, for status surfaces.
func (r *Reconciler) PendingCount(ctx context.Context) (int, error) {
	n, err := r.store.PendingCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return n, nil
}
