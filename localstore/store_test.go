// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := domain.Record{
		"id":      "c1",
		"name":    "Corralón San Martín",
		"phone":   "+54 11 5555-0101",
		"address": "Av. Rivadavia 742",
	}
	require.NoError(t, s.Put(ctx, domain.TableClients, rec))

	got, err := s.Get(ctx, domain.TableClients, "c1")
	require.NoError(t, err)
	require.Equal(t, "Corralón San Martín", got["name"])
	require.Equal(t, "+54 11 5555-0101", got["phone"])
	require.NotEmpty(t, got["created_at"])
	require.NotEmpty(t, got["updated_at"])
}

func TestPutPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s.SetNowFunc(func() time.Time { return base })
	require.NoError(t, s.Put(ctx, domain.TableClients, domain.Record{"id": "c1", "name": "first"}))

	s.SetNowFunc(func() time.Time { return base.Add(time.Hour) })
	require.NoError(t, s.Put(ctx, domain.TableClients, domain.Record{"id": "c1", "name": "second"}))

	got, err := s.Get(ctx, domain.TableClients, "c1")
	require.NoError(t, err)
	require.Equal(t, "second", got["name"])
	require.Equal(t, base.Format(time.RFC3339Nano), got["created_at"])
	require.Equal(t, base.Add(time.Hour).Format(time.RFC3339Nano), got["updated_at"])
}

func TestPutKeepsExplicitStamps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Mirrored rows arrive with authoritative timestamps that must win
	// over the local clock.
	rec := domain.Record{
		"id":         "p1",
		"list_id":    "l1",
		"name":       "Cemento x50kg",
		"created_at": "2024-12-01T00:00:00Z",
		"updated_at": "2025-01-15T12:30:00Z",
	}
	require.NoError(t, s.Put(ctx, domain.TableProducts, rec))

	got, err := s.Get(ctx, domain.TableProducts, "p1")
	require.NoError(t, err)
	require.Equal(t, "2024-12-01T00:00:00Z", got["created_at"])
	require.Equal(t, "2025-01-15T12:30:00Z", got["updated_at"])
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, domain.TableClients, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUnknownTableFailsWithSchemaError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Put(ctx, "no_such_table", domain.Record{"id": "x"})
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Equal(t, "no_such_table", schemaErr.Table)
}

func TestPutWithoutIDFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Put(ctx, domain.TableClients, domain.Record{"name": "anonymous"})
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestQueryByIndexedField(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, rec := range []domain.Record{
		{"id": "p1", "list_id": "l1", "code": "A-100", "name": "Arena fina"},
		{"id": "p2", "list_id": "l1", "code": "A-200", "name": "Arena gruesa"},
		{"id": "p3", "list_id": "l2", "code": "A-100", "name": "Arena fina"},
	} {
		i, rec := i, rec
		s.SetNowFunc(func() time.Time { return base.Add(time.Duration(i) * time.Second) })
		require.NoError(t, s.Put(ctx, domain.TableProducts, rec))
	}

	got, err := s.Query(ctx, domain.TableProducts, domain.Record{"list_id": "l1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "p1", got[0]["id"])
	require.Equal(t, "p2", got[1]["id"])

	got, err = s.Query(ctx, domain.TableProducts, domain.Record{"list_id": "l1", "code": "A-200"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "p2", got[0]["id"])

	all, err := s.Query(ctx, domain.TableProducts, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestQueryUnindexedFieldFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Query(ctx, domain.TableProducts, domain.Record{"name_typo": "x"})
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestQueryNullMatchFindsDetachedRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, domain.TableDeliveryNotes,
		domain.Record{"id": "n1", "client_id": "c1", "number": "R-0001"}))
	require.NoError(t, s.Put(ctx, domain.TableDeliveryNotes,
		domain.Record{"id": "n2", "client_id": nil, "number": "R-0002"}))

	got, err := s.Query(ctx, domain.TableDeliveryNotes, domain.Record{"client_id": nil})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "n2", got[0]["id"])
}

func TestBulkPut(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	recs := make([]domain.Record, 0, 10)
	for i := 0; i < 10; i++ {
		recs = append(recs, domain.Record{
			"id": fmt.Sprintf("p%d", i), "list_id": "l1", "code": fmt.Sprintf("C-%03d", i),
		})
	}
	require.NoError(t, s.BulkPut(ctx, domain.TableProducts, recs))

	n, err := s.Count(ctx, domain.TableProducts)
	require.NoError(t, err)
	require.Equal(t, 10, n)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, domain.TableClients, domain.Record{"id": "c1", "name": "x"}))
	require.NoError(t, s.Delete(ctx, domain.TableClients, "c1"))
	require.NoError(t, s.Delete(ctx, domain.TableClients, "c1"))

	_, err := s.Get(ctx, domain.TableClients, "c1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	boom := errors.New("boom")
	err := s.Transaction(ctx, []string{domain.TableClients}, func(ctx context.Context, tx *Tx) error {
		if err := tx.Put(ctx, domain.TableClients, domain.Record{"id": "c1", "name": "x"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, domain.TableClients, "c1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransactionRejectsUndeclaredTable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Transaction(ctx, []string{domain.TableClients}, func(ctx context.Context, tx *Tx) error {
		return tx.Put(ctx, domain.TableProducts, domain.Record{"id": "p1"})
	})
	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Equal(t, domain.TableProducts, schemaErr.Table)

	// The rejected write rolled the whole transaction back.
	n, err := s.Count(ctx, domain.TableProducts)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestTransactionAtomicWithQueue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	boom := errors.New("boom")
	tables := []string{domain.TableDeliveryNotes, domain.TablePendingOps}
	err := s.Transaction(ctx, tables, func(ctx context.Context, tx *Tx) error {
		if err := tx.Put(ctx, domain.TableDeliveryNotes, domain.Record{"id": "n1", "number": "R-0001"}); err != nil {
			return err
		}
		if _, err := tx.Enqueue(ctx, domain.PendingOperation{
			Table: domain.TableDeliveryNotes, Kind: domain.OpInsert, RecordID: "n1",
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, domain.TableDeliveryNotes, "n1")
	require.ErrorIs(t, err, ErrNotFound)
	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestTransactionDeleteWhere(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, domain.TableDeliveryNoteItems,
		domain.Record{"id": "i1", "note_id": "n1", "description": "a"}))
	require.NoError(t, s.Put(ctx, domain.TableDeliveryNoteItems,
		domain.Record{"id": "i2", "note_id": "n1", "description": "b"}))
	require.NoError(t, s.Put(ctx, domain.TableDeliveryNoteItems,
		domain.Record{"id": "i3", "note_id": "n2", "description": "c"}))

	err := s.Transaction(ctx, []string{domain.TableDeliveryNoteItems}, func(ctx context.Context, tx *Tx) error {
		n, err := tx.DeleteWhere(ctx, domain.TableDeliveryNoteItems, domain.Record{"note_id": "n1"})
		require.NoError(t, err)
		require.EqualValues(t, 2, n)
		return nil
	})
	require.NoError(t, err)

	left, err := s.Query(ctx, domain.TableDeliveryNoteItems, nil)
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "i3", left[0]["id"])
}

func TestConcurrentTransactionsOnDisjointTables(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = s.Transaction(ctx, []string{domain.TableClients}, func(ctx context.Context, tx *Tx) error {
			return tx.Put(ctx, domain.TableClients, domain.Record{"id": "c1", "name": "x"})
		})
	}()
	go func() {
		defer wg.Done()
		errs[1] = s.Transaction(ctx, []string{domain.TableProducts}, func(ctx context.Context, tx *Tx) error {
			return tx.Put(ctx, domain.TableProducts, domain.Record{"id": "p1", "list_id": "l1"})
		})
	}()
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	_, err := s.Get(ctx, domain.TableClients, "c1")
	require.NoError(t, err)
	_, err = s.Get(ctx, domain.TableProducts, "p1")
	require.NoError(t, err)
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.GetSetting(ctx, "currency")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.PutSetting(ctx, "currency", "ARS"))
	v, ok, err := s.GetSetting(ctx, "currency")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ARS", v)

	require.NoError(t, s.PutSetting(ctx, "currency", "USD"))
	v, _, err = s.GetSetting(ctx, "currency")
	require.NoError(t, err)
	require.Equal(t, "USD", v)

	require.NoError(t, s.PutSettingFloat(ctx, "fx_rate", 1042.5))
	f, ok, err := s.GetSettingFloat(ctx, "fx_rate")
	require.NoError(t, err)
	require.True(t, ok)
	require.InDelta(t, 1042.5, f, 1e-9)

	require.NoError(t, s.DeleteSetting(ctx, "currency"))
	_, ok, err = s.GetSetting(ctx, "currency")
	require.NoError(t, err)
	require.False(t, ok)
}
