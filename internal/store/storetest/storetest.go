// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package storetest holds behavior checks every ActionStore must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/internal/query"
	"github.com/holomush/ledger/internal/store"
	"github.com/holomush/ledger/pkg/errutil"
)

// Base is the timestamp fixtures are anchored on.
var Base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Steve is the player used by fixtures.
var Steve = action.Profile{ID: uuid.MustParse("6f1b2a64-8f0e-4c3e-9a59-3f1f8f3c2b10"), Name: "Steve"}

// Alex is a second player.
var Alex = action.Profile{ID: uuid.MustParse("0e7c4b55-2b8e-4d5f-8a8e-2d3c7c1b9a01"), Name: "Alex"}

// Fixture returns a factory whose clock starts at Base and advances one
// second per action.
func Fixture() *action.Factory {
	var n int
	return action.NewFactory(action.WithClock(func() time.Time {
		n++
		return Base.Add(time.Duration(n) * time.Second)
	}))
}

// Seed builds a small mixed log:
//
//	0 Steve breaks stone at (0,64,0)
//	1 Steve places dirt at (0,64,0)
//	2 lava burns an oak_log at (10,64,10)
//	3 Alex inserts 3 diamonds into the chest at (1,64,1)
//	4 a zombie kills a cow at (2,64,2)
func Seed() []action.Action {
	f := Fixture()
	return []action.Action{
		f.BlockBreak(action.BlockEvent{World: "overworld", Pos: action.Position{Y: 64}, State: action.BlockState{Block: "stone"}}, action.Player(Steve)),
		f.BlockPlace(action.BlockEvent{World: "overworld", Pos: action.Position{Y: 64}, State: action.BlockState{Block: "dirt"}}, action.Player(Steve)),
		f.BlockBreak(action.BlockEvent{World: "overworld", Pos: action.Position{X: 10, Y: 64, Z: 10}, State: action.BlockState{Block: "oak_log", Properties: map[string]string{"axis": "y"}}}, action.Label("lava")),
		f.ItemInsert(action.ItemEvent{World: "overworld", Pos: action.Position{X: 1, Y: 64, Z: 1}, Stack: action.ItemStack{Item: "diamond", Count: 3}}, action.Player(Alex)),
		f.EntityKill(action.EntityDeath{World: "overworld", Pos: action.Position{X: 2, Y: 64, Z: 2}, Entity: "cow", Cause: action.DamageCause{Name: "mob", Attacker: &action.Attacker{Type: "minecraft:zombie"}}}),
	}
}

// Run exercises an ActionStore. newStore must return an empty store; it is
// called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.ActionStore) {
	t.Helper()
	ctx := context.Background()

	seeded := func(t *testing.T) (store.ActionStore, []action.Action) {
		t.Helper()
		s := newStore(t)
		seed := Seed()
		require.NoError(t, s.RecordBatch(ctx, seed))
		return s, seed
	}

	ids := func(actions []action.Action) []ulid.ULID {
		out := make([]ulid.ULID, len(actions))
		for i := range actions {
			out[i] = actions[i].ID
		}
		return out
	}

	t.Run("round trip preserves every field", func(t *testing.T) {
		s, seed := seeded(t)
		got, err := s.Query(ctx, query.SearchParams{})
		require.NoError(t, err)
		require.Len(t, got, len(seed))
		for i := range seed {
			assert.Equal(t, seed[i], got[i], "action %d", i)
		}
	})

	t.Run("round trip of nanosecond clock and sourceless kill", func(t *testing.T) {
		s := newStore(t)
		zone := time.FixedZone("CEST", 2*60*60)
		f := action.NewFactory(action.WithClock(func() time.Time {
			return time.Date(2026, 3, 1, 14, 0, 0, 123456789, zone)
		}))
		recorded := []action.Action{
			f.EntityKill(action.EntityDeath{World: "overworld", Pos: action.Position{X: 3, Y: 64, Z: 3}, Entity: "cow"}),
			f.BlockPlace(action.BlockEvent{World: "overworld", State: action.BlockState{Block: "torch"}}, action.Label("")),
		}
		for _, a := range recorded {
			require.NoError(t, s.Record(ctx, a))
		}

		got, err := s.Query(ctx, query.SearchParams{})
		require.NoError(t, err)
		assert.Equal(t, recorded, got)
		assert.Equal(t, action.UnknownSource, got[0].SourceName)
	})

	t.Run("ascending and descending order", func(t *testing.T) {
		s, seed := seeded(t)
		asc, err := s.Query(ctx, query.SearchParams{Order: query.Ascending})
		require.NoError(t, err)
		desc, err := s.Query(ctx, query.SearchParams{Order: query.Descending})
		require.NoError(t, err)

		assert.Equal(t, ids(seed), ids(asc))
		want := ids(seed)
		for i, j := 0, len(want)-1; i < j; i, j = i+1, j-1 {
			want[i], want[j] = want[j], want[i]
		}
		assert.Equal(t, want, ids(desc))
	})

	t.Run("timestamp ties order by id", func(t *testing.T) {
		s := newStore(t)
		f := action.NewFactory(action.WithClock(func() time.Time { return Base }))
		var batch []action.Action
		for range 5 {
			batch = append(batch, f.ItemRemove(action.ItemEvent{World: "overworld", Stack: action.ItemStack{Item: "dirt", Count: 1}}, action.Label("hopper")))
		}
		for i := len(batch) - 1; i >= 0; i-- {
			require.NoError(t, s.Record(ctx, batch[i]))
		}
		got, err := s.Query(ctx, query.SearchParams{})
		require.NoError(t, err)
		assert.Equal(t, ids(batch), ids(got))
	})

	t.Run("filters", func(t *testing.T) {
		s, seed := seeded(t)
		origin := query.Around(action.Position{Y: 64}, 1)
		after := seed[2].Time
		before := seed[2].Time
		notRolled := false

		tests := []struct {
			name   string
			params query.SearchParams
			want   []int
		}{
			{"bounds", query.SearchParams{Bounds: &origin}, []int{0, 1, 3}},
			{"after inclusive", query.SearchParams{After: &after}, []int{2, 3, 4}},
			{"before exclusive", query.SearchParams{Before: &before}, []int{0, 1}},
			{"kind include", query.SearchParams{Kinds: query.Filter[action.Kind]{Include: []action.Kind{action.KindBlockBreak}}}, []int{0, 2}},
			{"kind exclude", query.SearchParams{Kinds: query.Filter[action.Kind]{Exclude: []action.Kind{action.KindEntityKill, action.KindItemInsert}}}, []int{0, 1, 2}},
			{"player name", query.SearchParams{Sources: query.Filter[string]{Include: []string{"steve"}}}, []int{0, 1}},
			{"label", query.SearchParams{Sources: query.Filter[string]{Include: []string{"@zombie", "@lava"}}}, []int{2, 4}},
			{"any label", query.SearchParams{Sources: query.Filter[string]{Include: []string{"@"}}}, []int{2, 4}},
			{"exclude player", query.SearchParams{Sources: query.Filter[string]{Exclude: []string{"Steve"}}}, []int{2, 3, 4}},
			{"object like", query.SearchParams{Objects: query.Filter[string]{Include: []string{"*_log"}}}, []int{2}},
			{"object exact", query.SearchParams{Objects: query.Filter[string]{Include: []string{"minecraft:dirt"}}}, []int{1}},
			{"object exclude", query.SearchParams{Objects: query.Filter[string]{Exclude: []string{"air"}}}, []int{3, 4}},
			{"object alternatives", query.SearchParams{Objects: query.Filter[string]{Include: []string{"minecraft:{stone,diamond}"}}}, []int{0, 3}},
			{"object class exclude with limit", query.SearchParams{Objects: query.Filter[string]{Exclude: []string{"[a]ir"}}, Limit: 1}, []int{3}},
			{"world", query.SearchParams{Worlds: query.Filter[action.Identifier]{Include: []action.Identifier{"the_end"}}}, nil},
			{"rolled back false", query.SearchParams{RolledBack: &notRolled}, []int{0, 1, 2, 3, 4}},
			{"limit and offset", query.SearchParams{Limit: 2, Offset: 1}, []int{1, 2}},
			{"offset past end", query.SearchParams{Offset: 10}, nil},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.Query(ctx, tt.params)
				require.NoError(t, err)
				var want []ulid.ULID
				for _, i := range tt.want {
					want = append(want, seed[i].ID)
				}
				assert.Equal(t, want, nilIfEmpty(ids(got)))
			})
		}
	})

	t.Run("set rolled back", func(t *testing.T) {
		s, seed := seeded(t)
		require.NoError(t, s.SetRolledBack(ctx, []ulid.ULID{seed[0].ID, seed[2].ID, action.NewID()}, true))

		rolled := true
		got, err := s.Query(ctx, query.SearchParams{RolledBack: &rolled})
		require.NoError(t, err)
		assert.Equal(t, []ulid.ULID{seed[0].ID, seed[2].ID}, ids(got))

		require.NoError(t, s.SetRolledBack(ctx, []ulid.ULID{seed[0].ID}, false))
		got, err = s.Query(ctx, query.SearchParams{RolledBack: &rolled})
		require.NoError(t, err)
		assert.Equal(t, []ulid.ULID{seed[2].ID}, ids(got))
	})

	t.Run("invalid action rejected", func(t *testing.T) {
		s := newStore(t)
		bad := Seed()[0]
		bad.World = ""
		err := s.Record(ctx, bad)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, action.CodeInvalidAction)
	})

	t.Run("batch is all or nothing", func(t *testing.T) {
		s := newStore(t)
		batch := Seed()
		batch[3].Kind = "block-melt"
		require.Error(t, s.RecordBatch(ctx, batch))

		got, err := s.Query(ctx, query.SearchParams{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("duplicate id", func(t *testing.T) {
		s, seed := seeded(t)
		err := s.Record(ctx, seed[0])
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, store.CodeDuplicate)
	})

	t.Run("invalid params", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Query(ctx, query.SearchParams{Limit: -1})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, query.CodeInvalidParams)
	})

	t.Run("player names", func(t *testing.T) {
		s, _ := seeded(t)
		dir, ok := s.(store.PlayerDirectory)
		if !ok {
			t.Skip("store does not list players")
		}
		names, err := dir.PlayerNames(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Alex", "Steve"}, names)
	})
}

func nilIfEmpty(ids []ulid.ULID) []ulid.ULID {
	if len(ids) == 0 {
		return nil
	}
	return ids
}
