// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

// Package connectivity tracks whether the application currently believes
// it can reach the backend. The monitor does no probing of its own: the
// embedding application reports state changes from whatever signal it has
// (OS callbacks, a failed request, a user toggle), and everything else
// reads the snapshot or subscribes to transitions.
package connectivity

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// Monitor holds the current online/offline belief and fans out
// transitions to subscribers.
type Monitor struct {
	online atomic.Bool
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]func(online bool)
	nextID int
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(initiallyOnline bool, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		logger: logger,
		subs:   make(map[int]func(bool)),
	}
	m.online.Store(initiallyOnline)
	return m
}

// IsOnline returns the current belief. The value is a snapshot; it can be
// stale the moment it is read, which is why every networked caller still
// has to handle request failures.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// SetOnline reports a state change. Repeated reports of the same state
// coalesce: subscribers only hear actual transitions. It returns whether
// a transition happened. Subscribers run synchronously on the calling
// goroutine, in registration order.
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	if m.online.Load() == online {
		m.mu.Unlock()
		return false
	}
	m.online.Store(online)
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, m.subs[id])
	}
	m.mu.Unlock()

	m.logger.Debug("connectivity changed", "online", online)
	for _, fn := range subs {
		fn(online)
	}
	return true
}

// OnChange registers fn to run on every transition and returns a function
// that removes the subscription.
func (m *Monitor) OnChange(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}
