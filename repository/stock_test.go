// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/remote"
)

func adjItem(productID string, qty float64) domain.DeliveryNoteItem {
	return domain.DeliveryNoteItem{ProductID: pid(productID), Quantity: qty}
}

func TestCalculateNetStockAdjustments(t *testing.T) {
	tests := []struct {
		name     string
		original []domain.DeliveryNoteItem
		updated  []domain.DeliveryNoteItem
		want     []Adjustment
	}{
		{
			name:    "create consumes stock",
			updated: []domain.DeliveryNoteItem{adjItem("p1", 2)},
			want:    []Adjustment{{ProductID: "p1", Delta: -2}},
		},
		{
			name:     "delete returns stock",
			original: []domain.DeliveryNoteItem{adjItem("p1", 2)},
			want:     []Adjustment{{ProductID: "p1", Delta: 2}},
		},
		{
			name:     "unchanged product yields no entry",
			original: []domain.DeliveryNoteItem{adjItem("p1", 5), adjItem("p2", 3)},
			updated:  []domain.DeliveryNoteItem{adjItem("p1", 5), adjItem("p2", 1), adjItem("p3", 2)},
			want:     []Adjustment{{ProductID: "p2", Delta: 2}, {ProductID: "p3", Delta: -2}},
		},
		{
			name:     "lines for one product aggregate",
			original: []domain.DeliveryNoteItem{adjItem("p1", 1), adjItem("p1", 2)},
			updated:  []domain.DeliveryNoteItem{adjItem("p1", 1)},
			want:     []Adjustment{{ProductID: "p1", Delta: 2}},
		},
		{
			name: "items without product are ignored",
			updated: []domain.DeliveryNoteItem{
				{Quantity: 4},
				{ProductID: pid(""), Quantity: 4},
				adjItem("p1", 1),
			},
			want: []Adjustment{{ProductID: "p1", Delta: -1}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, CalculateNetStockAdjustments(tc.original, tc.updated))
		})
	}
}

func TestAdjustStockOfflineClampsAndPropagates(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, false)
	rig.seedLocal(t, domain.TableProducts,
		mustRecord(t, domain.Product{ID: "p1", ListID: "l1", Code: "A1", Quantity: 5}),
	)
	rig.seedLocal(t, domain.TableProductIndex,
		mustRecord(t, domain.ProductIndexEntry{ID: "p1", ListID: "l1", Code: "A1", Quantity: 5}),
	)
	rig.seedLocal(t, domain.TableMyStock,
		mustRecord(t, domain.MyStockEntry{ID: "ms1", ProductID: "p1", ListID: "l1", Quantity: 5}),
	)
	stock := captureStock(rig)

	outcome, err := rig.repo.AdjustStock(ctx, []Adjustment{{ProductID: "p1", Delta: -8}})
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Processed)
	require.Equal(t, []string{"p1"}, outcome.Deferred)
	require.Len(t, outcome.Results, 1)
	require.Equal(t, 5.0, outcome.Results[0].OldQty)
	require.Equal(t, 0.0, outcome.Results[0].NewQty)

	require.Equal(t, 0.0, rig.quantity(t, domain.TableProducts, "p1"))
	require.Equal(t, 0.0, rig.quantity(t, domain.TableProductIndex, "p1"))
	require.Equal(t, 0.0, rig.quantity(t, domain.TableMyStock, "ms1"))

	ops := rig.pendingOps(t)
	require.Equal(t, []string{"UPDATE products"}, opSummary(ops))
	payload := opPayload(t, ops[0])
	require.Equal(t, "p1", payload["id"])
	require.Equal(t, -8.0, payload[domain.PayloadFieldDelta])
	require.NotEmpty(t, payload[domain.PayloadFieldOpID])

	require.Equal(t, []StockUpdate{{ProductIDs: []string{"p1"}}}, *stock)
}

func TestAdjustStockOnlineMirrorsConfirmedQuantities(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, true)
	prod := mustRecord(t, domain.Product{ID: "p1", ListID: "l1", Quantity: 5})
	idx := mustRecord(t, domain.ProductIndexEntry{ID: "p1", ListID: "l1", Quantity: 5})
	rig.seedBoth(t, domain.TableProducts, prod)
	rig.seedBoth(t, domain.TableProductIndex, idx)

	outcome, err := rig.repo.AdjustStock(ctx, []Adjustment{{ProductID: "p1", Delta: -2}})
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Processed)
	require.Empty(t, outcome.Deferred)

	remoteProd, ok := rig.fake.Row(domain.TableProducts, "p1")
	require.True(t, ok)
	require.Equal(t, 3.0, domain.RecordFloat(remoteProd, "quantity"))
	require.Equal(t, 3.0, rig.quantity(t, domain.TableProducts, "p1"))
	require.Equal(t, 3.0, rig.quantity(t, domain.TableProductIndex, "p1"))

	n, err := rig.store.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestAdjustStockOnlinePartialSuccessQueuesRest(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, true)
	rig.seedBoth(t, domain.TableProducts,
		mustRecord(t, domain.Product{ID: "p1", ListID: "l1", Quantity: 5}),
	)
	// p2 exists only in the mirror; the backend reports it unapplied.
	rig.seedLocal(t, domain.TableProducts,
		mustRecord(t, domain.Product{ID: "p2", ListID: "l1", Quantity: 5}),
	)

	outcome, err := rig.repo.AdjustStock(ctx, []Adjustment{
		{ProductID: "p1", Delta: -1},
		{ProductID: "p2", Delta: -1},
	})
	require.NoError(t, err)
	require.Equal(t, 2, outcome.Processed)
	require.Equal(t, []string{"p2"}, outcome.Deferred)

	byID := make(map[string]remote.StockAdjustResult)
	for _, res := range outcome.Results {
		byID[res.ProductID] = res
	}
	require.Equal(t, 4.0, byID["p1"].NewQty)
	require.Equal(t, 4.0, byID["p2"].NewQty)

	require.Equal(t, 4.0, rig.quantity(t, domain.TableProducts, "p1"))
	require.Equal(t, 4.0, rig.quantity(t, domain.TableProducts, "p2"))

	ops := rig.pendingOps(t)
	require.Equal(t, []string{"UPDATE products"}, opSummary(ops))
	require.Equal(t, "p2", ops[0].RecordID)
}

func TestAdjustStockOnlineTransientFailureQueuesAll(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, true)
	rig.seedBoth(t, domain.TableProducts,
		mustRecord(t, domain.Product{ID: "p1", ListID: "l1", Quantity: 5}),
	)
	rig.failCalls("ADJUST", http.StatusServiceUnavailable)

	outcome, err := rig.repo.AdjustStock(ctx, []Adjustment{{ProductID: "p1", Delta: -2}})
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, outcome.Deferred)

	remoteProd, _ := rig.fake.Row(domain.TableProducts, "p1")
	require.Equal(t, 5.0, domain.RecordFloat(remoteProd, "quantity"))
	require.Equal(t, 3.0, rig.quantity(t, domain.TableProducts, "p1"))
	require.Equal(t, []string{"UPDATE products"}, opSummary(rig.pendingOps(t)))
}

func TestAdjustStockOnlinePermanentFailureRejects(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, true)
	rig.seedBoth(t, domain.TableProducts,
		mustRecord(t, domain.Product{ID: "p1", ListID: "l1", Quantity: 5}),
	)
	rig.failCalls("ADJUST", http.StatusUnprocessableEntity)

	_, err := rig.repo.AdjustStock(ctx, []Adjustment{{ProductID: "p1", Delta: -2}})
	require.Error(t, err)

	require.Equal(t, 5.0, rig.quantity(t, domain.TableProducts, "p1"))
	n, err := rig.store.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestAdjustStockSkipsZeroDeltas(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, true)

	outcome, err := rig.repo.AdjustStock(ctx, []Adjustment{{ProductID: "p1", Delta: 0}})
	require.NoError(t, err)
	require.Zero(t, outcome.Processed)
	require.Empty(t, outcome.Results)
	require.Zero(t, rig.fake.CallCount("ADJUST"))
}

func TestAdjustStockRejectsMissingProductID(t *testing.T) {
	rig := newRepoRig(t, false)
	_, err := rig.repo.AdjustStock(context.Background(), []Adjustment{{Delta: -1}})
	require.Error(t, err)
}

func TestAdjustStockOfflineUnknownProductNotQueued(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, false)
	stock := captureStock(rig)

	outcome, err := rig.repo.AdjustStock(ctx, []Adjustment{{ProductID: "ghost", Delta: -1}})
	require.NoError(t, err)
	require.Zero(t, outcome.Processed)
	require.Len(t, outcome.Results, 1)
	require.False(t, outcome.Results[0].Applied)

	n, err := rig.store.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, *stock)
}
