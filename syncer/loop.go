// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"time"
)

// Kick asks the run loop for a drain pass. Non-blocking; kicks while a
// pass is already pending collapse into one.
func (r *Reconciler) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run drives the reconciler until ctx is canceled: it drains on
// connectivity regained, on Kick, and on a periodic interval, and backs
// off exponentially while the backend is unreachable. Run is the only
// place passes are scheduled; DrainOnce itself stays safe to call from
// anywhere thanks to coalescing.
func (r *Reconciler) Run(ctx context.Context) error {
	unsubscribe := r.monitor.OnChange(func(online bool) {
		if online {
			r.Kick()
		}
	})
	defer unsubscribe()

	if r.monitor.IsOnline() {
		r.Kick()
	}

	ticker := time.NewTicker(r.cfg.DrainInterval)
	defer ticker.Stop()

	backoff := r.cfg.BackoffMin
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.kick:
		case <-ticker.C:
		}

		rep, err := r.DrainOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("drain pass failed", "error", err)
		}
		if rep != nil && rep.Aborted {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > r.cfg.BackoffMax {
				backoff = r.cfg.BackoffMax
			}
			r.Kick()
			continue
		}
		backoff = r.cfg.BackoffMin
	}
}
