// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"sort"
	"sync"
)

// StockUpdate announces that product quantities changed. An empty
// ProductIDs slice means "anything may have changed, reload".
type StockUpdate struct {
	ProductIDs []string
}

// PriceUpdate announces that resolved prices changed for delivery-note
// lines. Exactly one of ListID, ProductIDs or All is meaningful.
type PriceUpdate struct {
	ListID     string
	ProductIDs []string
	All        bool
}

// Bus delivers repository events to subscribers. Delivery is synchronous
// and in registration order; handlers that need to do real work should
// hand off to their own goroutine.
type Bus struct {
	mu        sync.Mutex
	nextID    int
	stockSubs map[int]func(StockUpdate)
	priceSubs map[int]func(PriceUpdate)
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		stockSubs: make(map[int]func(StockUpdate)),
		priceSubs: make(map[int]func(PriceUpdate)),
	}
}

// OnMyStockUpdated registers a handler for stock changes. The returned
// function unsubscribes it.
func (b *Bus) OnMyStockUpdated(fn func(StockUpdate)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.stockSubs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.stockSubs, id)
	}
}

// OnNotePricesUpdated registers a handler for price changes. The returned
// function unsubscribes it.
func (b *Bus) OnNotePricesUpdated(fn func(PriceUpdate)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.priceSubs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.priceSubs, id)
	}
}

func (b *Bus) emitStock(u StockUpdate) {
	for _, fn := range b.stockSnapshot() {
		fn(u)
	}
}

func (b *Bus) emitPrices(u PriceUpdate) {
	for _, fn := range b.priceSnapshot() {
		fn(u)
	}
}

// Snapshots are taken under the lock and invoked outside it, in
// registration order, so a handler can unsubscribe itself safely.

func (b *Bus) stockSnapshot() []func(StockUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int, 0, len(b.stockSubs))
	for id := range b.stockSubs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(StockUpdate), 0, len(ids))
	for _, id := range ids {
		out = append(out, b.stockSubs[id])
	}
	return out
}

func (b *Bus) priceSnapshot() []func(PriceUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int, 0, len(b.priceSubs))
	for id := range b.priceSubs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(PriceUpdate), 0, len(ids))
	for _, id := range ids {
		out = append(out, b.priceSubs[id])
	}
	return out
}
