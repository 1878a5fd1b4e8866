// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/localstore"
)

// State containers replace ambient global stores: each is an explicit
// collaborator with a load/save/clear lifecycle, persisted in the local
// settings table so it survives restarts but never syncs.

const (
	cartStateKey = "cart_state"
	userPrefsKey = "user_prefs"
)

// CartLine is one line of the in-progress cart.
type CartLine struct {
	ProductID      string  `json:"product_id"`
	ListID         string  `json:"list_id"`
	Description    string  `json:"description"`
	Quantity       float64 `json:"quantity"`
	UnitPrice      float64 `json:"unit_price"`
	PriceColumnKey string  `json:"price_column_key"`
}

// CartState persists the in-progress cart.
type CartState struct {
	store *localstore.Store
}

// NewCartState returns a cart container over the given store.
func NewCartState(store *localstore.Store) *CartState {
	return &CartState{store: store}
}

// Load returns the saved cart, or nil when none is saved.
func (c *CartState) Load(ctx context.Context) ([]CartLine, error) {
	raw, ok, err := c.store.GetSetting(ctx, cartStateKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var lines []CartLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		return nil, fmt.Errorf("decode cart state: %w", err)
	}
	return lines, nil
}

// Save overwrites the saved cart.
func (c *CartState) Save(ctx context.Context, lines []CartLine) error {
	raw, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("encode cart state: %w", err)
	}
	return c.store.PutSetting(ctx, cartStateKey, string(raw))
}

// Clear discards the saved cart.
func (c *CartState) Clear(ctx context.Context) error {
	return c.store.DeleteSetting(ctx, cartStateKey)
}

// Preferences are per-device UI preferences. They are not part of the
// synced data set.
type Preferences struct {
	// ActivePriceColumns maps a list id to the price column its views
	// currently sell from.
	ActivePriceColumns map[string]string `json:"active_price_columns"`
	DefaultListID      string            `json:"default_list_id"`
}

// ActiveColumn returns the active price column for a list, falling back
// to the given key (normally the list's primary price key).
func (p *Preferences) ActiveColumn(listID, fallback string) string {
	if p == nil {
		return fallback
	}
	if key, ok := p.ActivePriceColumns[listID]; ok && key != "" {
		return key
	}
	return fallback
}

// PrefsState persists Preferences.
type PrefsState struct {
	store *localstore.Store
}

// NewPrefsState returns a preferences container over the given store.
func NewPrefsState(store *localstore.Store) *PrefsState {
	return &PrefsState{store: store}
}

// Load returns the saved preferences, or an empty set when none exist.
func (p *PrefsState) Load(ctx context.Context) (*Preferences, error) {
	prefs := &Preferences{ActivePriceColumns: make(map[string]string)}
	raw, ok, err := p.store.GetSetting(ctx, userPrefsKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return prefs, nil
	}
	if err := json.Unmarshal([]byte(raw), prefs); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	if prefs.ActivePriceColumns == nil {
		prefs.ActivePriceColumns = make(map[string]string)
	}
	return prefs, nil
}

// Save overwrites the saved preferences.
func (p *PrefsState) Save(ctx context.Context, prefs *Preferences) error {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	return p.store.PutSetting(ctx, userPrefsKey, string(raw))
}

// Clear discards the saved preferences.
func (p *PrefsState) Clear(ctx context.Context) error {
	return p.store.DeleteSetting(ctx, userPrefsKey)
}
