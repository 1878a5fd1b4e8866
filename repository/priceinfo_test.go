// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
)

func TestResolveUnitPriceReadsCalculatedThenBase(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, false)
	seedList(t, rig, false, "l1", "Mayorista", "ACME")
	rig.seedLocal(t, domain.TableProductIndex,
		mustRecord(t, domain.ProductIndexEntry{
			ID: "p1", ListID: "l1", Code: "A1", Name: "Martillo", Price: fptr(100),
			CalculatedData: map[string]any{"precio_publico": 140.0},
		}),
		mustRecord(t, domain.ProductIndexEntry{
			ID: "p2", ListID: "l1", Code: "A2", Name: "Tenaza", Price: fptr(100),
		}),
	)

	got, err := rig.repo.ResolveUnitPrice(ctx, "p1", "precio_publico")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.InDelta(t, 140, *got, 1e-9)

	// The mapped price key and the empty key both land on the base price.
	got, err = rig.repo.ResolveUnitPrice(ctx, "p1", "precio")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.InDelta(t, 100, *got, 1e-9)

	got, err = rig.repo.ResolveUnitPrice(ctx, "p1", "")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.InDelta(t, 100, *got, 1e-9)

	// No cached value: the custom column derives from its base column.
	got, err = rig.repo.ResolveUnitPrice(ctx, "p2", "precio_publico")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.InDelta(t, 140, *got, 1e-9)

	_, err = rig.repo.ResolveUnitPrice(ctx, "ghost", "precio")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveComparisonPriceSeesThroughConversion(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, false)
	seedList(t, rig, false, "l1", "Mayorista", "ACME")
	rig.seedLocal(t, domain.TableProductIndex,
		mustRecord(t, domain.ProductIndexEntry{
			ID: "p1", ListID: "l1", Code: "A1", Name: "Martillo", Price: fptr(100),
			CalculatedData: map[string]any{
				"precio_publico":                      280.0,
				domain.PreFXPrefix + "precio_publico": 140.0,
				domain.FXRateKey:                      2.0,
			},
		}),
	)

	unit, err := rig.repo.ResolveUnitPrice(ctx, "p1", "precio_publico")
	require.NoError(t, err)
	require.InDelta(t, 280, *unit, 1e-9)

	cmp, err := rig.repo.ResolveComparisonPrice(ctx, "p1", "precio_publico")
	require.NoError(t, err)
	require.InDelta(t, 140, *cmp, 1e-9)

	// Keys without an overlay compare at face value.
	cmp, err = rig.repo.ResolveComparisonPrice(ctx, "p1", "precio")
	require.NoError(t, err)
	require.InDelta(t, 100, *cmp, 1e-9)
}

func TestCheckLineFlagsStaleAndRepricedLines(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, false)
	seedList(t, rig, false, "l1", "Mayorista", "ACME")
	rig.seedLocal(t, domain.TableProductIndex,
		mustRecord(t, domain.ProductIndexEntry{
			ID: "p1", ListID: "l1", Code: "A1", Name: "Martillo", Price: fptr(100),
			CalculatedData: map[string]any{"precio_publico": 140.0},
		}),
	)

	current := domain.DeliveryNoteItem{
		ProductID:          pid("p1"),
		UnitPriceBase:      140,
		PriceColumnKeyUsed: "precio_publico",
	}
	st, err := rig.repo.CheckLine(ctx, current, "precio_publico")
	require.NoError(t, err)
	require.False(t, st.Stale)
	require.False(t, st.PriceChanged)
	require.False(t, st.ProductGone)
	require.NotNil(t, st.CurrentPrice)
	require.InDelta(t, 140, *st.CurrentPrice, 1e-9)
	require.False(t, st.Blocked())

	stale := current
	stale.PriceColumnKeyUsed = "precio"
	st, err = rig.repo.CheckLine(ctx, stale, "precio_publico")
	require.NoError(t, err)
	require.True(t, st.Stale)
	require.False(t, st.PriceChanged)
	require.True(t, st.Blocked())

	repriced := current
	repriced.UnitPriceBase = 120
	st, err = rig.repo.CheckLine(ctx, repriced, "precio_publico")
	require.NoError(t, err)
	require.False(t, st.Stale)
	require.True(t, st.PriceChanged)
	require.True(t, st.Blocked())
}

func TestCheckLineConversionAloneIsNotAPriceChange(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, false)
	seedList(t, rig, false, "l1", "Mayorista", "ACME")
	rig.seedLocal(t, domain.TableProductIndex,
		mustRecord(t, domain.ProductIndexEntry{
			ID: "p1", ListID: "l1", Code: "A1", Name: "Martillo", Price: fptr(100),
			CalculatedData: map[string]any{
				"precio_publico":                      280.0,
				domain.PreFXPrefix + "precio_publico": 140.0,
				domain.FXRateKey:                      2.0,
			},
		}),
	)

	item := domain.DeliveryNoteItem{
		ProductID:          pid("p1"),
		UnitPriceBase:      140,
		PriceColumnKeyUsed: "precio_publico",
	}
	st, err := rig.repo.CheckLine(ctx, item, "precio_publico")
	require.NoError(t, err)
	require.False(t, st.PriceChanged)
	require.NotNil(t, st.CurrentPrice)
	require.InDelta(t, 140, *st.CurrentPrice, 1e-9)
	require.False(t, st.Blocked())
}

func TestCheckLineHandlesGoneAndFreeTextLines(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, false)

	gone := domain.DeliveryNoteItem{
		ProductID:          pid("ghost"),
		UnitPriceBase:      10,
		PriceColumnKeyUsed: "precio",
	}
	st, err := rig.repo.CheckLine(ctx, gone, "precio")
	require.NoError(t, err)
	require.True(t, st.ProductGone)
	require.Nil(t, st.CurrentPrice)
	require.True(t, st.Blocked())

	// Free-text lines carry no product; only staleness applies.
	free := domain.DeliveryNoteItem{Description: "Flete", PriceColumnKeyUsed: "precio"}
	st, err = rig.repo.CheckLine(ctx, free, "precio_publico")
	require.NoError(t, err)
	require.True(t, st.Stale)
	require.False(t, st.ProductGone)
	require.Nil(t, st.CurrentPrice)
	require.True(t, st.Blocked())

	unpinned := domain.DeliveryNoteItem{Description: "Flete"}
	st, err = rig.repo.CheckLine(ctx, unpinned, "precio_publico")
	require.NoError(t, err)
	require.False(t, st.Stale)
	require.False(t, st.Blocked())
}
