// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/google/uuid"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/internal/world"
)

// Demo players.
var (
	demoSteve = action.Profile{ID: uuid.MustParse("6f1b2a64-8f0e-4c3e-9a59-3f1f8f3c2b10"), Name: "Steve"}
	demoAlex  = action.Profile{ID: uuid.MustParse("0e7c4b55-2b8e-4d5f-8a8e-2d3c7c1b9a01"), Name: "Alex"}
)

// seedDemo builds a small griefing scene in w: Steve digs out stone and
// loots a chest Alex filled, then lava burns a log and a zombie kills a cow.
func seedDemo(ctx context.Context, w *world.MemoryWorld) error {
	const overworld = action.Identifier("minecraft:overworld")
	steve := action.Player(demoSteve)
	alex := action.Player(demoAlex)

	steps := []func() (action.Action, error){
		func() (action.Action, error) {
			return w.Place(ctx, overworld, action.Position{Y: 64}, action.BlockState{Block: "minecraft:stone"}, alex)
		},
		func() (action.Action, error) {
			return w.Place(ctx, overworld, action.Position{X: 10, Y: 64, Z: 10}, action.BlockState{Block: "minecraft:oak_log"}, alex)
		},
		func() (action.Action, error) {
			return w.Place(ctx, overworld, action.Position{X: 1, Y: 64, Z: 1}, action.BlockState{Block: "minecraft:chest"}, alex)
		},
		func() (action.Action, error) {
			return w.Insert(ctx, overworld, action.Position{X: 1, Y: 64, Z: 1}, action.ItemStack{Item: "minecraft:diamond", Count: 3}, alex)
		},
		func() (action.Action, error) {
			return w.Break(ctx, overworld, action.Position{Y: 64}, steve)
		},
		func() (action.Action, error) {
			return w.Remove(ctx, overworld, action.Position{X: 1, Y: 64, Z: 1}, action.ItemStack{Item: "minecraft:diamond", Count: 3}, steve)
		},
		func() (action.Action, error) {
			return w.Break(ctx, overworld, action.Position{X: 10, Y: 64, Z: 10}, action.Label("lava"))
		},
		func() (action.Action, error) {
			return w.Kill(ctx, overworld, action.Position{X: 2, Y: 64, Z: 2}, "minecraft:cow",
				action.DamageCause{Name: "mob", Attacker: &action.Attacker{Type: "minecraft:zombie"}})
		},
	}
	for _, step := range steps {
		if _, err := step(); err != nil {
			return err
		}
	}
	return nil
}
