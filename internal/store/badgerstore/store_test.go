// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package badgerstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/internal/query"
	"github.com/holomush/ledger/internal/store"
	"github.com/holomush/ledger/internal/store/badgerstore"
	"github.com/holomush/ledger/internal/store/storetest"
)

func openMemory(t *testing.T) *badgerstore.Store {
	t.Helper()
	s, err := badgerstore.Open(badgerstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.ActionStore {
		return openMemory(t)
	})
}

func TestStore_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	seed := storetest.Seed()

	s, err := badgerstore.Open(badgerstore.Options{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.RecordBatch(ctx, seed))
	require.NoError(t, s.SetRolledBack(ctx, nil, true))
	require.NoError(t, s.Close())

	s, err = badgerstore.Open(badgerstore.Options{Path: dir})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Query(ctx, query.SearchParams{})
	require.NoError(t, err)
	assert.Len(t, got, len(seed))
}

func TestStore_DescendingWithBefore(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	seed := storetest.Seed()
	require.NoError(t, s.RecordBatch(ctx, seed))

	before := seed[3].Time
	got, err := s.Query(ctx, query.SearchParams{Before: &before, Order: query.Descending, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, seed[2].ID, got[0].ID)
	assert.Equal(t, seed[1].ID, got[1].ID)
}

func TestStore_AfterSeek(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	seed := storetest.Seed()
	require.NoError(t, s.RecordBatch(ctx, seed))

	after := seed[4].Time.Add(-time.Nanosecond)
	got, err := s.Query(ctx, query.SearchParams{After: &after})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, seed[4].ID, got[0].ID)
}

func TestStore_OrdersAcrossTheEpoch(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	at := func(year int) time.Time { return time.Date(year, 6, 1, 0, 0, 0, 0, time.UTC) }

	for _, year := range []int{1969, 1950, 2026, 1970} {
		f := action.NewFactory(action.WithClock(func() time.Time { return at(year) }))
		a := f.ItemInsert(action.ItemEvent{World: "overworld", Stack: action.ItemStack{Item: "dirt", Count: 1}}, action.Label("hopper"))
		require.NoError(t, s.Record(ctx, a))
	}
	years := func(actions []action.Action) []int {
		out := make([]int, len(actions))
		for i := range actions {
			out[i] = actions[i].Time.Year()
		}
		return out
	}

	asc, err := s.Query(ctx, query.SearchParams{})
	require.NoError(t, err)
	assert.Equal(t, []int{1950, 1969, 1970, 2026}, years(asc))

	after := at(1960)
	got, err := s.Query(ctx, query.SearchParams{After: &after})
	require.NoError(t, err)
	assert.Equal(t, []int{1969, 1970, 2026}, years(got))

	before := at(1970)
	got, err = s.Query(ctx, query.SearchParams{Before: &before, Order: query.Descending})
	require.NoError(t, err)
	assert.Equal(t, []int{1969, 1950}, years(got))
}
