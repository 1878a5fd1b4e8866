// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
)

// newTestService connects to the database named by TEST_DATABASE_URL.
// Every test works under its own user id, so runs never interfere.
func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping backend integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	svc, err := New(ctx, pool, nil, nil)
	require.NoError(t, err)
	return svc, "user-" + uuid.NewString()
}

func mustBackendRecord(t *testing.T, v any) domain.Record {
	t.Helper()
	rec, err := domain.ToRecord(v)
	require.NoError(t, err)
	return rec
}

func listRecord(t *testing.T, id, name, supplier string) domain.Record {
	t.Helper()
	return mustBackendRecord(t, domain.ProductList{
		ID: id, Name: name, Supplier: supplier,
		Mapping: domain.MappingConfig{CodeKey: "codigo", NameKey: "nombre", PriceKey: "precio"},
	})
}

func productRecord(t *testing.T, id, listID, code, name string, qty float64) domain.Record {
	t.Helper()
	return mustBackendRecord(t, domain.Product{
		ID: id, ListID: listID, Code: code, Name: name, Quantity: qty,
	})
}

func indexRecord(t *testing.T, id, listID, code, name string, qty float64, calc map[string]any) domain.Record {
	t.Helper()
	return mustBackendRecord(t, domain.ProductIndexEntry{
		ID: id, ListID: listID, Code: code, Name: name, Quantity: qty,
		CalculatedData: calc,
	})
}

func myStockRecord(t *testing.T, id, productID, listID string, qty float64) domain.Record {
	t.Helper()
	return mustBackendRecord(t, domain.MyStockEntry{
		ID: id, ProductID: productID, ListID: listID, Quantity: qty,
	})
}

func rowQuantity(t *testing.T, svc *Service, userID, table, id string) float64 {
	t.Helper()
	rec, err := svc.GetRow(context.Background(), userID, table, id)
	require.NoError(t, err)
	return domain.RecordFloat(rec, "quantity")
}

func TestRowLifecycleAndUserScoping(t *testing.T) {
	svc, userA := newTestService(t)
	userB := "user-" + uuid.NewString()
	ctx := context.Background()

	_, err := svc.UpsertRow(ctx, userA, domain.TableProducts,
		productRecord(t, "p1", "l1", "A1", "Martillo", 10))
	require.NoError(t, err)

	rec, err := svc.GetRow(ctx, userA, domain.TableProducts, "p1")
	require.NoError(t, err)
	require.Equal(t, "Martillo", domain.RecordString(rec, "name"))

	// Another user cannot see the row.
	_, err = svc.GetRow(ctx, userB, domain.TableProducts, "p1")
	require.ErrorIs(t, err, ErrNotFound)
	rows, err := svc.ListRows(ctx, userB, domain.TableProducts)
	require.NoError(t, err)
	require.Empty(t, rows)

	// Upserting again replaces the stored record.
	rec["name"] = "Martillo grande"
	_, err = svc.UpsertRow(ctx, userA, domain.TableProducts, rec)
	require.NoError(t, err)
	rec, err = svc.GetRow(ctx, userA, domain.TableProducts, "p1")
	require.NoError(t, err)
	require.Equal(t, "Martillo grande", domain.RecordString(rec, "name"))

	require.NoError(t, svc.DeleteRow(ctx, userA, domain.TableProducts, "p1"))
	_, err = svc.GetRow(ctx, userA, domain.TableProducts, "p1")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent row is not an error, unknown tables are.
	require.NoError(t, svc.DeleteRow(ctx, userA, domain.TableProducts, "p1"))
	_, err = svc.ListRows(ctx, userA, "secrets")
	require.ErrorIs(t, err, ErrUnknownTable)
}

func TestBulkUpsertStoresEverything(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()

	count, err := svc.BulkUpsert(ctx, userID, domain.TableProducts, []domain.Record{
		productRecord(t, "p1", "l1", "A1", "Martillo", 1),
		productRecord(t, "p2", "l1", "B2", "Lija", 2),
		productRecord(t, "p3", "l1", "C3", "Taladro", 3),
	})
	require.NoError(t, err)
	require.Equal(t, 3, count)

	rows, err := svc.ListRows(ctx, userID, domain.TableProducts)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Overlapping ids replace rather than duplicate.
	count, err = svc.BulkUpsert(ctx, userID, domain.TableProducts, []domain.Record{
		productRecord(t, "p2", "l1", "B2", "Lija fina", 9),
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	rows, err = svc.ListRows(ctx, userID, domain.TableProducts)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, 9.0, rowQuantity(t, svc, userID, domain.TableProducts, "p2"))
}

func TestDeleteClientDetachesItsNotes(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpsertRow(ctx, userID, domain.TableClients,
		mustBackendRecord(t, domain.DeliveryClient{ID: "c1", Name: "Acme SRL"}))
	require.NoError(t, err)
	clientID := "c1"
	_, err = svc.UpsertRow(ctx, userID, domain.TableDeliveryNotes,
		mustBackendRecord(t, domain.DeliveryNote{
			ID: "n1", ClientID: &clientID, Number: "R-0001", Status: domain.NoteStatusPending,
		}))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRow(ctx, userID, domain.TableClients, "c1"))

	// The note survives with its client reference nulled, in the doc too.
	rec, err := svc.GetRow(ctx, userID, domain.TableDeliveryNotes, "n1")
	require.NoError(t, err)
	require.Nil(t, rec["client_id"])
	require.Equal(t, "R-0001", domain.RecordString(rec, "number"))
}

func TestDeleteNoteRemovesItsItems(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpsertRow(ctx, userID, domain.TableDeliveryNotes,
		mustBackendRecord(t, domain.DeliveryNote{ID: "n1", Number: "R-0001"}))
	require.NoError(t, err)
	_, err = svc.UpsertRow(ctx, userID, domain.TableDeliveryNotes,
		mustBackendRecord(t, domain.DeliveryNote{ID: "n2", Number: "R-0002"}))
	require.NoError(t, err)
	_, err = svc.BulkUpsert(ctx, userID, domain.TableDeliveryNoteItems, []domain.Record{
		mustBackendRecord(t, domain.DeliveryNoteItem{ID: "i1", NoteID: "n1", Description: "Martillo"}),
		mustBackendRecord(t, domain.DeliveryNoteItem{ID: "i2", NoteID: "n1", Description: "Lija"}),
		mustBackendRecord(t, domain.DeliveryNoteItem{ID: "i3", NoteID: "n2", Description: "Taladro"}),
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRow(ctx, userID, domain.TableDeliveryNotes, "n1"))

	rows, err := svc.ListRows(ctx, userID, domain.TableDeliveryNoteItems)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "i3", rows[0]["id"])
}

func TestDeleteListRemovesItsRows(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()

	for _, rec := range []domain.Record{
		listRecord(t, "l1", "Ferretería", "ACME"),
		listRecord(t, "l2", "Pinturería", "Beta"),
	} {
		_, err := svc.UpsertRow(ctx, userID, domain.TableProductLists, rec)
		require.NoError(t, err)
	}
	_, err := svc.BulkUpsert(ctx, userID, domain.TableProducts, []domain.Record{
		productRecord(t, "p1", "l1", "A1", "Martillo", 1),
		productRecord(t, "p2", "l2", "B2", "Lija", 2),
	})
	require.NoError(t, err)
	_, err = svc.BulkUpsert(ctx, userID, domain.TableProductIndex, []domain.Record{
		indexRecord(t, "p1", "l1", "A1", "Martillo", 1, nil),
		indexRecord(t, "p2", "l2", "B2", "Lija", 2, nil),
	})
	require.NoError(t, err)
	_, err = svc.BulkUpsert(ctx, userID, domain.TableMyStock, []domain.Record{
		myStockRecord(t, "ms1", "p1", "l1", 4),
		myStockRecord(t, "ms2", "p2", "l2", 5),
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRow(ctx, userID, domain.TableProductLists, "l1"))

	for _, table := range []string{domain.TableProducts, domain.TableProductIndex, domain.TableMyStock} {
		rows, err := svc.ListRows(ctx, userID, table)
		require.NoError(t, err, table)
		require.Len(t, rows, 1, table)
	}
	_, err = svc.GetRow(ctx, userID, domain.TableProductLists, "l1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAdjustStockAppliesClampsAndPropagates(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpsertRow(ctx, userID, domain.TableProducts,
		productRecord(t, "p1", "l1", "A1", "Martillo", 10))
	require.NoError(t, err)
	_, err = svc.UpsertRow(ctx, userID, domain.TableProductIndex,
		indexRecord(t, "p1", "l1", "A1", "Martillo", 10, nil))
	require.NoError(t, err)
	_, err = svc.UpsertRow(ctx, userID, domain.TableMyStock,
		myStockRecord(t, "ms1", "p1", "l1", 4))
	require.NoError(t, err)

	out, err := svc.AdjustStock(ctx, userID, []StockAdjustment{
		{ProductID: "p1", Delta: -6, OpID: "op-a"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Processed)
	require.True(t, out.Results[0].Applied)
	require.Equal(t, 10.0, out.Results[0].OldQty)
	require.Equal(t, 4.0, out.Results[0].NewQty)

	require.Equal(t, 4.0, rowQuantity(t, svc, userID, domain.TableProducts, "p1"))
	require.Equal(t, 4.0, rowQuantity(t, svc, userID, domain.TableProductIndex, "p1"))
	// The personal-stock link moves by the delta with its own floor.
	require.Equal(t, 0.0, rowQuantity(t, svc, userID, domain.TableMyStock, "ms1"))

	out, err = svc.AdjustStock(ctx, userID, []StockAdjustment{
		{ProductID: "p1", Delta: -100, OpID: "op-b"},
	})
	require.NoError(t, err)
	require.Equal(t, 0.0, out.Results[0].NewQty)
	require.Equal(t, 0.0, rowQuantity(t, svc, userID, domain.TableProducts, "p1"))
}

func TestAdjustStockReplaysByOpID(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpsertRow(ctx, userID, domain.TableProducts,
		productRecord(t, "p1", "l1", "A1", "Martillo", 10))
	require.NoError(t, err)

	batch := []StockAdjustment{{ProductID: "p1", Delta: -3, OpID: "op-1"}}
	out, err := svc.AdjustStock(ctx, userID, batch)
	require.NoError(t, err)
	require.Equal(t, 7.0, out.Results[0].NewQty)

	// Redelivery returns the recorded result without applying again.
	out, err = svc.AdjustStock(ctx, userID, batch)
	require.NoError(t, err)
	require.Equal(t, 1, out.Processed)
	require.Equal(t, 10.0, out.Results[0].OldQty)
	require.Equal(t, 7.0, out.Results[0].NewQty)
	require.Equal(t, 7.0, rowQuantity(t, svc, userID, domain.TableProducts, "p1"))
}

func TestAdjustStockReportsUnknownProducts(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpsertRow(ctx, userID, domain.TableProducts,
		productRecord(t, "p1", "l1", "A1", "Martillo", 10))
	require.NoError(t, err)

	out, err := svc.AdjustStock(ctx, userID, []StockAdjustment{
		{ProductID: "p1", Delta: -2, OpID: "op-x"},
		{ProductID: "ghost", Delta: 1, OpID: "op-y"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Processed)
	require.Len(t, out.Results, 2)
	require.True(t, out.Results[0].Applied)
	require.False(t, out.Results[1].Applied)

	// The miss was not recorded, so the op can land once the product
	// exists.
	_, err = svc.UpsertRow(ctx, userID, domain.TableProducts,
		productRecord(t, "ghost", "l1", "G1", "Fantasma", 5))
	require.NoError(t, err)
	out, err = svc.AdjustStock(ctx, userID, []StockAdjustment{
		{ProductID: "ghost", Delta: 1, OpID: "op-y"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Processed)
	require.True(t, out.Results[0].Applied)
	require.Equal(t, 6.0, out.Results[0].NewQty)
}

func TestMyStockAddAndRemove(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()

	count, err := svc.MyStockAdd(ctx, userID, []domain.Record{
		myStockRecord(t, "ms1", "p1", "l1", 4),
		myStockRecord(t, "ms2", "p2", "l1", 5),
	})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	removed, err := svc.MyStockRemove(ctx, userID, []string{"p1", "nope"})
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	rows, err := svc.ListRows(ctx, userID, domain.TableMyStock)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "ms2", rows[0]["id"])
}

func TestCurrencyConvertThenRevert(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpsertRow(ctx, userID, domain.TableProductLists,
		listRecord(t, "l1", "Ferretería", "ACME"))
	require.NoError(t, err)
	_, err = svc.BulkUpsert(ctx, userID, domain.TableProductIndex, []domain.Record{
		indexRecord(t, "e1", "l1", "A1", "Martillo", 1, map[string]any{"precio_publico": 140.0}),
		indexRecord(t, "e2", "l1", "B2", "Lija", 2, nil),
	})
	require.NoError(t, err)

	req := CurrencyRequest{ListID: "l1", TargetKeys: []string{"precio_publico"}, Rate: 2}
	updated, err := svc.ConvertCurrency(ctx, userID, req)
	require.NoError(t, err)
	require.Equal(t, 1, updated)

	rec, err := svc.GetRow(ctx, userID, domain.TableProductIndex, "e1")
	require.NoError(t, err)
	var entry domain.ProductIndexEntry
	require.NoError(t, domain.FromRecord(rec, &entry))
	require.InDelta(t, 280, entry.CalculatedData["precio_publico"].(float64), 1e-9)
	require.InDelta(t, 140, entry.CalculatedData[domain.PreFXPrefix+"precio_publico"].(float64), 1e-9)

	// Converting again does not compound.
	updated, err = svc.ConvertCurrency(ctx, userID, req)
	require.NoError(t, err)
	require.Equal(t, 0, updated)

	updated, err = svc.RevertCurrency(ctx, userID, CurrencyRequest{
		ListID: "l1", TargetKeys: []string{"precio_publico"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, updated)

	rec, err = svc.GetRow(ctx, userID, domain.TableProductIndex, "e1")
	require.NoError(t, err)
	require.NoError(t, domain.FromRecord(rec, &entry))
	require.InDelta(t, 140, entry.CalculatedData["precio_publico"].(float64), 1e-9)
	require.NotContains(t, entry.CalculatedData, domain.PreFXPrefix+"precio_publico")

	// An unknown list is a permanent error, not a silent no-op.
	_, err = svc.ConvertCurrency(ctx, userID, CurrencyRequest{
		ListID: "ghost", TargetKeys: []string{"precio_publico"}, Rate: 2,
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func seedSearchFixture(t *testing.T, svc *Service, userID string) {
	t.Helper()
	ctx := context.Background()
	for _, rec := range []domain.Record{
		listRecord(t, "l1", "Ferretería", "ACME"),
		listRecord(t, "l2", "Pinturería", "Beta"),
	} {
		_, err := svc.UpsertRow(ctx, userID, domain.TableProductLists, rec)
		require.NoError(t, err)
	}
	_, err := svc.BulkUpsert(ctx, userID, domain.TableProductIndex, []domain.Record{
		indexRecord(t, "e0", "l2", "MARTILLO", "Otra cosa", 1, nil),
		indexRecord(t, "e1", "l1", "A1", "Martillo", 1, nil),
		indexRecord(t, "e2", "l1", "B2", "Martillo grande", 1, nil),
		indexRecord(t, "e3", "l2", "C3", "Super martillo", 1, nil),
		indexRecord(t, "e4", "l1", "D4", "Clavos 100% acero", 1, nil),
	})
	require.NoError(t, err)
}

func searchIDs(res *SearchResult) []string {
	ids := make([]string, 0, len(res.Rows))
	for _, rec := range res.Rows {
		if id, ok := domain.RecordID(rec); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func TestSearchRanksFiltersAndPages(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()
	seedSearchFixture(t, svc, userID)

	// Exact code first, then name prefixes by name, then substrings.
	res, err := svc.SearchProducts(ctx, userID, SearchQuery{Term: "Martillo"})
	require.NoError(t, err)
	require.Equal(t, 4, res.Total)
	require.Equal(t, []string{"e0", "e1", "e2", "e3"}, searchIDs(res))

	res, err = svc.SearchProducts(ctx, userID, SearchQuery{Term: "martillo", Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 4, res.Total)
	require.Equal(t, []string{"e0", "e1"}, searchIDs(res))

	res, err = svc.SearchProducts(ctx, userID, SearchQuery{Term: "martillo", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Equal(t, 4, res.Total)
	require.Equal(t, []string{"e2", "e3"}, searchIDs(res))

	// A page past the end still reports the true total.
	res, err = svc.SearchProducts(ctx, userID, SearchQuery{Term: "martillo", Limit: 2, Offset: 10})
	require.NoError(t, err)
	require.Equal(t, 4, res.Total)
	require.Empty(t, res.Rows)

	// Supplier scoping joins through the owning list.
	res, err = svc.SearchProducts(ctx, userID, SearchQuery{Term: "martillo", Supplier: "acme"})
	require.NoError(t, err)
	require.Equal(t, []string{"e1", "e2"}, searchIDs(res))

	// List scoping.
	res, err = svc.SearchProducts(ctx, userID, SearchQuery{Term: "martillo", ListID: "l2"})
	require.NoError(t, err)
	require.Equal(t, []string{"e0", "e3"}, searchIDs(res))

	// LIKE metacharacters in the term are literal.
	res, err = svc.SearchProducts(ctx, userID, SearchQuery{Term: "100% a"})
	require.NoError(t, err)
	require.Equal(t, []string{"e4"}, searchIDs(res))

	// Another user sees nothing.
	res, err = svc.SearchProducts(ctx, userID+"-other", SearchQuery{Term: "martillo"})
	require.NoError(t, err)
	require.Zero(t, res.Total)
	require.Empty(t, res.Rows)
}

func TestSearchServesFromCacheUntilInvalidated(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping backend integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	svc, err := New(ctx, pool, NewCache(rdb, time.Minute, nil), nil)
	require.NoError(t, err)
	userID := "user-" + uuid.NewString()
	seedSearchFixture(t, svc, userID)

	query := SearchQuery{Term: "martillo"}
	res, err := svc.SearchProducts(ctx, userID, query)
	require.NoError(t, err)
	require.Equal(t, 4, res.Total)

	// Remove a row behind the service's back: the cached page still
	// serves.
	_, err = svc.Pool().Exec(ctx,
		`DELETE FROM product_index WHERE user_id = $1 AND id = 'e3'`, userID)
	require.NoError(t, err)
	res, err = svc.SearchProducts(ctx, userID, query)
	require.NoError(t, err)
	require.Equal(t, 4, res.Total)

	// Any write through the service invalidates, and the next search sees
	// the real state.
	_, err = svc.UpsertRow(ctx, userID, domain.TableProductIndex,
		indexRecord(t, "e5", "l1", "E5", "Martillo chico", 1, nil))
	require.NoError(t, err)
	res, err = svc.SearchProducts(ctx, userID, query)
	require.NoError(t, err)
	require.Equal(t, 4, res.Total)
	require.Contains(t, searchIDs(res), "e5")
	require.NotContains(t, searchIDs(res), "e3")
}
