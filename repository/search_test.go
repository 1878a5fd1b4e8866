// Copyright 2025 The InspiraStock Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gonzagiaco/inspirastock-bf21a350-sub001/domain"
)

func seedSearchIndex(t *testing.T, rig *repoRig) {
	t.Helper()
	rig.seedLocal(t, domain.TableProductIndex,
		mustRecord(t, domain.ProductIndexEntry{ID: "e0", ListID: "l1", Code: "MARTILLO", Name: "Otra cosa"}),
		mustRecord(t, domain.ProductIndexEntry{ID: "e1", ListID: "l1", Code: "M1", Name: "Martillo"}),
		mustRecord(t, domain.ProductIndexEntry{ID: "e2", ListID: "l1", Code: "M2", Name: "Martillo grande"}),
		mustRecord(t, domain.ProductIndexEntry{ID: "e3", ListID: "l1", Code: "M3", Name: "Super martillo"}),
		mustRecord(t, domain.ProductIndexEntry{ID: "e4", ListID: "l1", Code: "T1", Name: "Taladro"}),
	)
}

func entryIDs(entries []domain.ProductIndexEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestSearchOfflineRanksCodeThenPrefixThenContains(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, false)
	seedSearchIndex(t, rig)

	res, err := rig.repo.SearchProducts(ctx, SearchQuery{Term: "Martillo", Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 4, res.Total)
	require.Equal(t, []string{"e0", "e1"}, entryIDs(res.Entries))

	res, err = rig.repo.SearchProducts(ctx, SearchQuery{Term: "Martillo", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Equal(t, 4, res.Total)
	require.Equal(t, []string{"e2", "e3"}, entryIDs(res.Entries))
}

func TestSearchOfflineFiltersBySupplier(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, false)
	seedList(t, rig, false, "l1", "Mayorista", "ACME")
	seedList(t, rig, false, "l2", "Minorista", "Beta")
	rig.seedLocal(t, domain.TableProductIndex,
		mustRecord(t, domain.ProductIndexEntry{ID: "e1", ListID: "l1", Code: "M1", Name: "Martillo"}),
		mustRecord(t, domain.ProductIndexEntry{ID: "e2", ListID: "l2", Code: "M2", Name: "Martillo"}),
	)

	res, err := rig.repo.SearchProducts(ctx, SearchQuery{Term: "martillo", Supplier: "acme"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, []string{"e1"}, entryIDs(res.Entries))
}

func TestSearchOnlineRefreshesMirrorRows(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, true)
	rig.fake.Seed(domain.TableProductIndex,
		mustRecord(t, domain.ProductIndexEntry{ID: "f1", ListID: "l1", Code: "M1", Name: "Martillo"}),
	)

	res, err := rig.repo.SearchProducts(ctx, SearchQuery{Term: "martillo"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, []string{"f1"}, entryIDs(res.Entries))

	// The returned rows refreshed their mirror entries.
	rig.local(t, domain.TableProductIndex, "f1")
}

func TestSearchOnlineTransientFailureScansMirror(t *testing.T) {
	ctx := context.Background()
	rig := newRepoRig(t, true)
	seedSearchIndex(t, rig)
	rig.failCalls("SEARCH", http.StatusBadGateway)

	res, err := rig.repo.SearchProducts(ctx, SearchQuery{Term: "taladro"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, []string{"e4"}, entryIDs(res.Entries))
}
