// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package world

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/pkg/errutil"
)

type sliceSink struct {
	actions []action.Action
	err     error
}

func (s *sliceSink) Record(_ context.Context, a action.Action) error {
	if s.err != nil {
		return s.err
	}
	s.actions = append(s.actions, a)
	return nil
}

var (
	overworld = action.Identifier("overworld")
	steve     = action.Player(action.Profile{ID: uuid.MustParse("6f1b2a64-8f0e-4c3e-9a59-3f1f8f3c2b10"), Name: "Steve"})
	chestPos  = action.Position{X: 1, Y: 64, Z: 1}
)

func newWorld() (*MemoryWorld, *sliceSink) {
	sink := &sliceSink{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := action.NewFactory(action.WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	return NewMemoryWorld(f, sink), sink
}

func TestMemoryWorld_PlaceAndBreak(t *testing.T) {
	w, sink := newWorld()
	ctx := context.Background()
	pos := action.Position{Y: 64}

	placed, err := w.Place(ctx, overworld, pos, action.BlockState{Block: "stone"}, steve)
	require.NoError(t, err)
	assert.Equal(t, action.KindBlockPlace, placed.Kind)
	assert.Equal(t, action.Identifier("minecraft:stone"), w.Block("minecraft:overworld", pos).Block)

	broken, err := w.Break(ctx, overworld, pos, steve)
	require.NoError(t, err)
	assert.Equal(t, action.KindBlockBreak, broken.Kind)
	assert.Equal(t, action.Identifier("minecraft:stone"), *broken.OldObject)
	air := w.Block(overworld, pos)
	assert.True(t, air.IsAir())

	require.Len(t, sink.actions, 2)
	assert.Empty(t, w.Positions(overworld))

	_, err = w.Break(ctx, overworld, pos, steve)
	errutil.AssertErrorCode(t, err, CodeNoBlock)
}

func TestMemoryWorld_PlaceOnOccupiedPositionFails(t *testing.T) {
	w, sink := newWorld()
	ctx := context.Background()
	pos := action.Position{X: 7, Y: 64}
	require.NoError(t, w.SetBlock(ctx, overworld, pos, action.BlockState{Block: "stone"}, nil))

	_, err := w.Place(ctx, overworld, pos, action.BlockState{Block: "dirt"}, steve)

	errutil.AssertErrorCode(t, err, CodeOccupied)
	assert.Equal(t, action.Identifier("minecraft:stone"), w.Block(overworld, pos).Block)
	assert.Empty(t, sink.actions)

	_, err = w.Break(ctx, overworld, pos, steve)
	require.NoError(t, err)
	placed, err := w.Place(ctx, overworld, pos, action.BlockState{Block: "dirt"}, steve)
	require.NoError(t, err)
	require.NoError(t, w.SetBlock(ctx, placed.World, placed.Pos, *placed.OldBlockState, nil))
	assert.True(t, w.Block(overworld, pos).IsAir(), "rolling back the place restores what was there")
}

func TestMemoryWorld_Containers(t *testing.T) {
	w, _ := newWorld()
	ctx := context.Background()
	diamonds := action.ItemStack{Item: "diamond", Count: 3}

	_, err := w.Insert(ctx, overworld, chestPos, diamonds, steve)
	errutil.AssertErrorCode(t, err, CodeNotAContainer)

	_, err = w.Place(ctx, overworld, chestPos, action.BlockState{Block: "chest"}, steve)
	require.NoError(t, err)
	_, err = w.Insert(ctx, overworld, chestPos, diamonds, steve)
	require.NoError(t, err)
	assert.Equal(t, Contents{"minecraft:diamond": 3}, w.Contents(overworld, chestPos))

	_, err = w.Remove(ctx, overworld, chestPos, action.ItemStack{Item: "diamond", Count: 5}, steve)
	errutil.AssertErrorCode(t, err, CodeItemNotPresent)

	_, err = w.Remove(ctx, overworld, chestPos, diamonds, steve)
	require.NoError(t, err)
	assert.Equal(t, Contents{}, w.Contents(overworld, chestPos))
}

func TestMemoryWorld_BreakingContainerSnapshotsContents(t *testing.T) {
	w, _ := newWorld()
	ctx := context.Background()

	_, err := w.Place(ctx, overworld, chestPos, action.BlockState{Block: "chest"}, steve)
	require.NoError(t, err)
	require.NoError(t, w.InsertItem(ctx, overworld, chestPos, action.ItemStack{Item: "minecraft:emerald", Count: 7}))

	broken, err := w.Break(ctx, overworld, chestPos, action.Label("creeper"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"minecraft:emerald":7}`, string(broken.ExtraData))
	assert.Nil(t, w.Contents(overworld, chestPos))

	require.NoError(t, w.SetBlock(ctx, broken.World, broken.Pos, *broken.OldBlockState, broken.ExtraData))
	assert.Equal(t, Contents{"minecraft:emerald": 7}, w.Contents(overworld, chestPos))
}

func TestMemoryWorld_SetBlockRejectsBadSnapshot(t *testing.T) {
	w, _ := newWorld()

	err := w.SetBlock(context.Background(), overworld, chestPos, action.BlockState{Block: "barrel"}, []byte("nope"))

	require.Error(t, err)
}

func TestMemoryWorld_SinkFailure(t *testing.T) {
	w, sink := newWorld()
	sink.err = errors.New("disk full")

	a, err := w.Kill(context.Background(), overworld, chestPos, "cow", action.DamageCause{Name: "lava"})

	require.ErrorIs(t, err, sink.err)
	assert.Equal(t, action.KindEntityKill, a.Kind)
	assert.Equal(t, "lava", a.SourceName)
}

func TestMemoryWorld_Positions(t *testing.T) {
	w, _ := newWorld()
	ctx := context.Background()
	for _, p := range []action.Position{{X: 2}, {X: 1, Y: 5}, {X: 1}} {
		require.NoError(t, w.SetBlock(ctx, overworld, p, action.BlockState{Block: "dirt"}, nil))
	}
	require.NoError(t, w.SetBlock(ctx, "the_nether", action.Position{}, action.BlockState{Block: "netherrack"}, nil))

	assert.Equal(t, []action.Position{{X: 1}, {X: 1, Y: 5}, {X: 2}}, w.Positions(overworld))
	assert.True(t, IsContainer("hopper"))
	assert.False(t, IsContainer("dirt"))
}
