// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package action

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testPlayer = Profile{ID: uuid.MustParse("6f1b2a64-8f0e-4c3e-9a59-3f1f8f3c2b10"), Name: "Steve"}
)

func newTestFactory() *Factory {
	return NewFactory(WithClock(func() time.Time { return testNow }))
}

func TestFactory_BlockBreak(t *testing.T) {
	f := newTestFactory()
	ev := BlockEvent{
		World: "overworld",
		Pos:   Position{X: 0, Y: 64, Z: 0},
		State: BlockState{Block: "stone"},
	}

	a := f.BlockBreak(ev, Player(testPlayer))

	require.NoError(t, a.Validate())
	assert.Equal(t, KindBlockBreak, a.Kind)
	assert.Equal(t, Identifier("minecraft:overworld"), a.World)
	assert.Equal(t, Identifier("minecraft:air"), a.Object)
	require.NotNil(t, a.OldObject)
	assert.Equal(t, Identifier("minecraft:stone"), *a.OldObject)
	assert.True(t, a.BlockState.IsAir())
	assert.Equal(t, Identifier("minecraft:stone"), a.OldBlockState.Block)
	assert.Equal(t, PlayerSource, a.SourceName)
	require.NotNil(t, a.SourceProfile)
	assert.Equal(t, testPlayer, *a.SourceProfile)
	assert.Equal(t, testNow, a.Time)
	assert.Nil(t, a.ExtraData)
}

func TestFactory_BlockPlaceWithLabelSource(t *testing.T) {
	f := newTestFactory()
	entity := SnapshotFunc(func() ([]byte, error) { return []byte(`{"Items":[]}`), nil })
	at := testNow.Add(-time.Minute)

	a := f.BlockPlace(BlockEvent{
		World:  "minecraft:the_nether",
		Pos:    Position{X: 1, Y: 2, Z: 3},
		State:  BlockState{Block: "minecraft:chest", Properties: map[string]string{"facing": "north"}},
		Entity: entity,
		Time:   at,
	}, Label("dispenser"))

	require.NoError(t, a.Validate())
	assert.Equal(t, KindBlockPlace, a.Kind)
	assert.Equal(t, Identifier("minecraft:chest"), a.Object)
	assert.Equal(t, Air, *a.OldObject)
	assert.Equal(t, "north", a.BlockState.Properties["facing"])
	assert.True(t, a.OldBlockState.IsAir())
	assert.Equal(t, "dispenser", a.SourceName)
	assert.Nil(t, a.SourceProfile)
	assert.Equal(t, at, a.Time, "host timestamp must be trusted")
	assert.Equal(t, []byte(`{"Items":[]}`), a.ExtraData)
}

func TestFactory_SnapshotFailureDegradesToNoExtraData(t *testing.T) {
	f := newTestFactory()
	failing := SnapshotFunc(func() ([]byte, error) { return nil, errors.New("nbt write failed") })

	a := f.BlockBreak(BlockEvent{World: "overworld", State: BlockState{Block: "chest"}, Entity: failing}, Label("creeper"))

	require.NoError(t, a.Validate())
	assert.Nil(t, a.ExtraData)
	assert.Equal(t, KindBlockBreak, a.Kind)
}

func TestFactory_ItemActions(t *testing.T) {
	f := newTestFactory()
	stack := ItemStack{Item: "diamond", Count: 3}
	ev := ItemEvent{World: "overworld", Pos: Position{X: 5, Y: 70, Z: -2}, Stack: stack}

	insert := f.ItemInsert(ev, Player(testPlayer))
	remove := f.ItemRemove(ev, Label("hopper"))

	for _, a := range []Action{insert, remove} {
		require.NoError(t, a.Validate())
		assert.Equal(t, Identifier("minecraft:diamond"), a.Object)
		assert.Nil(t, a.OldObject)
		assert.Nil(t, a.BlockState)
		assert.Equal(t, ev.Pos, a.Pos)

		decoded, err := DecodeStack(a.ExtraData)
		require.NoError(t, err)
		assert.Equal(t, 3, decoded.Count)
		assert.Equal(t, Identifier("minecraft:diamond"), decoded.Item)
	}
	assert.Equal(t, KindItemInsert, insert.Kind)
	assert.Equal(t, KindItemRemove, remove.Kind)
}

func TestFactory_ItemSnapshotFailure(t *testing.T) {
	f := newTestFactory()
	bad := ItemStack{Item: "book", Count: 1, Tag: json.RawMessage(`{not json`)}

	a := f.ItemInsert(ItemEvent{World: "overworld", Stack: bad}, Label("hopper"))

	require.NoError(t, a.Validate())
	assert.Nil(t, a.ExtraData)
}

func TestFactory_EntityKillSourceResolution(t *testing.T) {
	f := newTestFactory()
	data := SnapshotFunc(func() ([]byte, error) { return []byte(`{"Health":0}`), nil })

	tests := []struct {
		name        string
		cause       DamageCause
		wantSource  string
		wantProfile bool
	}{
		{
			name:        "player attacker",
			cause:       DamageCause{Name: "player", Attacker: &Attacker{Type: "minecraft:player", Player: &testPlayer}},
			wantSource:  PlayerSource,
			wantProfile: true,
		},
		{
			name:       "mob attacker uses entity type path",
			cause:      DamageCause{Name: "mob", Attacker: &Attacker{Type: "minecraft:zombie"}},
			wantSource: "zombie",
		},
		{
			name:       "no attacker uses cause name",
			cause:      DamageCause{Name: "lava"},
			wantSource: "lava",
		},
		{
			name:       "no attacker and no cause",
			cause:      DamageCause{},
			wantSource: UnknownSource,
		},
		{
			name:       "attacker without type",
			cause:      DamageCause{Name: "mob", Attacker: &Attacker{}},
			wantSource: UnknownSource,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := f.EntityKill(EntityDeath{
				World:  "overworld",
				Pos:    Position{X: 10, Y: 64, Z: 10},
				Entity: "sheep",
				Data:   data,
				Cause:  tt.cause,
			})

			require.NoError(t, a.Validate())
			assert.Equal(t, KindEntityKill, a.Kind)
			assert.Equal(t, Identifier("minecraft:sheep"), a.Object)
			assert.Equal(t, tt.wantSource, a.SourceName)
			assert.Equal(t, tt.wantProfile, a.SourceProfile != nil)
			assert.Equal(t, []byte(`{"Health":0}`), a.ExtraData)
		})
	}
}

func TestLabel_BlankIsUnknown(t *testing.T) {
	for _, label := range []string{"", "  "} {
		a := newTestFactory().BlockBreak(BlockEvent{World: "overworld", State: BlockState{Block: "stone"}}, Label(label))
		require.NoError(t, a.Validate())
		assert.Equal(t, UnknownSource, a.SourceName)
	}
}

func TestFactory_TimeTruncatedToMicroseconds(t *testing.T) {
	zone := time.FixedZone("CEST", 2*60*60)
	host := time.Date(2026, 3, 1, 14, 0, 0, 123456789, zone)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 987654321, time.UTC)
	f := NewFactory(WithClock(func() time.Time { return clock }))

	fromHost := f.ItemInsert(ItemEvent{World: "overworld", Stack: ItemStack{Item: "dirt", Count: 1}, Time: host}, Label("hopper"))
	fromClock := f.ItemInsert(ItemEvent{World: "overworld", Stack: ItemStack{Item: "dirt", Count: 1}}, Label("hopper"))

	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC), fromHost.Time)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 987654000, time.UTC), fromClock.Time)
}

func TestFactory_IDsAreIncreasing(t *testing.T) {
	var n uint64
	f := NewFactory(WithIDSource(func() ulid.ULID {
		n++
		return ulid.MustNew(n, nil)
	}))

	a := f.ItemInsert(ItemEvent{World: "overworld", Stack: ItemStack{Item: "dirt", Count: 1}}, Label("x"))
	b := f.ItemInsert(ItemEvent{World: "overworld", Stack: ItemStack{Item: "dirt", Count: 1}}, Label("x"))

	assert.Equal(t, -1, a.ID.Compare(b.ID))
}

func TestNewID_Monotonic(t *testing.T) {
	prev := NewID()
	for range 100 {
		next := NewID()
		require.Equal(t, -1, prev.Compare(next))
		prev = next
	}
}
