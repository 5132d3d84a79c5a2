// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package action

import (
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(" " + string(k) + " ")
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseKind("block-explode")
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidAction, oopsErr.Code())
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		id        Identifier
		namespace string
		path      string
		normal    Identifier
	}{
		{"minecraft:stone", "minecraft", "stone", "minecraft:stone"},
		{"stone", "minecraft", "stone", "minecraft:stone"},
		{"mymod:thing", "mymod", "thing", "mymod:thing"},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			assert.Equal(t, tt.namespace, tt.id.Namespace())
			assert.Equal(t, tt.path, tt.id.Path())
			assert.Equal(t, tt.normal, tt.id.Normalize())
		})
	}
}

func TestAction_Validate(t *testing.T) {
	f := newTestFactory()
	valid := f.BlockBreak(BlockEvent{World: "overworld", State: BlockState{Block: "stone"}}, Player(testPlayer))
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(a *Action)
	}{
		{"unknown kind", func(a *Action) { a.Kind = "block-melt" }},
		{"missing world", func(a *Action) { a.World = "" }},
		{"zero time", func(a *Action) { a.Time = time.Time{} }},
		{"player without profile", func(a *Action) { a.SourceProfile = nil }},
		{"profile without player source", func(a *Action) { a.SourceName = "lava" }},
		{"block action without old state", func(a *Action) { a.OldBlockState = nil }},
		{"item action with block state", func(a *Action) { a.Kind = KindItemInsert }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid.Clone()
			tt.mutate(&a)
			err := a.Validate()
			require.Error(t, err)
			oopsErr, ok := oops.AsOops(err)
			require.True(t, ok)
			assert.Equal(t, CodeInvalidAction, oopsErr.Code())
		})
	}
}

func TestAction_CloneIsDeep(t *testing.T) {
	f := newTestFactory()
	a := f.BlockPlace(BlockEvent{
		World:  "overworld",
		State:  BlockState{Block: "chest", Properties: map[string]string{"facing": "east"}},
		Entity: SnapshotFunc(func() ([]byte, error) { return []byte("data"), nil }),
	}, Player(testPlayer))

	c := a.Clone()
	c.BlockState.Properties["facing"] = "west"
	c.ExtraData[0] = 'X'
	c.SourceProfile.Name = "Alex"

	assert.Equal(t, "east", a.BlockState.Properties["facing"])
	assert.Equal(t, []byte("data"), a.ExtraData)
	assert.Equal(t, "Steve", a.SourceProfile.Name)
}

func TestAction_SourceDisplay(t *testing.T) {
	f := newTestFactory()
	p := f.EntityKill(EntityDeath{World: "overworld", Entity: "cow", Cause: DamageCause{Attacker: &Attacker{Player: &testPlayer}}})
	l := f.EntityKill(EntityDeath{World: "overworld", Entity: "cow", Cause: DamageCause{Name: "fall"}})

	assert.Equal(t, "Steve", p.SourceDisplay())
	assert.Equal(t, "fall", l.SourceDisplay())
}
