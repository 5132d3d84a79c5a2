// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package world provides an in-memory block world that records what
// happens in it and accepts the preview engine's mutation commands.
package world

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/ledger/internal/action"
)

// Host error codes.
const (
	CodeItemNotPresent = "ITEM_NOT_PRESENT"
	CodeNotAContainer  = "NOT_A_CONTAINER"
	CodeNoBlock        = "NO_BLOCK"
	CodeOccupied       = "OCCUPIED"
)

// containerBlocks are the block types that hold items.
var containerBlocks = map[action.Identifier]bool{
	"minecraft:chest":         true,
	"minecraft:trapped_chest": true,
	"minecraft:barrel":        true,
	"minecraft:hopper":        true,
	"minecraft:dispenser":     true,
	"minecraft:dropper":       true,
	"minecraft:shulker_box":   true,
}

// IsContainer reports whether a block of this type holds items.
func IsContainer(block action.Identifier) bool {
	return containerBlocks[block.Normalize()]
}

// Sink receives the actions the world emits.
type Sink interface {
	Record(ctx context.Context, a action.Action) error
}

// Contents is a container's inventory, item to count. It is also the
// block entity snapshot format of containers.
type Contents map[action.Identifier]int

type key struct {
	world action.Identifier
	pos   action.Position
}

func keyOf(world action.Identifier, pos action.Position) key {
	return key{world: world.Normalize(), pos: pos}
}

// MemoryWorld is a sparse block grid. Absent positions are air.
type MemoryWorld struct {
	factory *action.Factory
	sink    Sink

	mu         sync.Mutex
	blocks     map[key]action.BlockState
	containers map[key]Contents
}

// NewMemoryWorld creates an empty world that reports through sink using
// factory.
func NewMemoryWorld(factory *action.Factory, sink Sink) *MemoryWorld {
	return &MemoryWorld{
		factory:    factory,
		sink:       sink,
		blocks:     make(map[key]action.BlockState),
		containers: make(map[key]Contents),
	}
}

// Block returns the state at pos.
func (w *MemoryWorld) Block(world action.Identifier, pos action.Position) action.BlockState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blockLocked(keyOf(world, pos))
}

// Contents returns a copy of the container inventory at pos, or nil if
// there is no container.
func (w *MemoryWorld) Contents(world action.Identifier, pos action.Position) Contents {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.containers[keyOf(world, pos)]
	if !ok {
		return nil
	}
	return maps.Clone(c)
}

func (w *MemoryWorld) blockLocked(k key) action.BlockState {
	if s, ok := w.blocks[k]; ok {
		return *s.Clone()
	}
	return *action.AirState()
}

// setLocked replaces the block at k. Containers get their inventory from
// extra, or start empty; anything else drops the inventory.
func (w *MemoryWorld) setLocked(k key, state action.BlockState, extra []byte) error {
	state.Block = state.Block.Normalize()
	if state.IsAir() {
		delete(w.blocks, k)
	} else {
		w.blocks[k] = *state.Clone()
	}

	if !IsContainer(state.Block) {
		delete(w.containers, k)
		return nil
	}
	contents := Contents{}
	if extra != nil {
		if err := json.Unmarshal(extra, &contents); err != nil {
			return oops.With("pos", k.pos.String()).Wrapf(err, "decode container contents")
		}
	}
	w.containers[k] = contents
	return nil
}

func (w *MemoryWorld) snapshotLocked(k key) action.Snapshotter {
	c, ok := w.containers[k]
	if !ok {
		return nil
	}
	c = maps.Clone(c)
	return action.SnapshotFunc(func() ([]byte, error) {
		return json.Marshal(c) //nolint:wrapcheck // the factory logs capture failures
	})
}

func (w *MemoryWorld) containerLocked(k key) (Contents, error) {
	c, ok := w.containers[k]
	if !ok {
		return nil, oops.Code(CodeNotAContainer).
			With("world", string(k.world)).
			With("pos", k.pos.String()).
			Errorf("no container at %s", k.pos)
	}
	return c, nil
}

func insertLocked(c Contents, stack action.ItemStack) {
	c[stack.Item.Normalize()] += stack.Count
}

func removeLocked(k key, c Contents, stack action.ItemStack) error {
	item := stack.Item.Normalize()
	if c[item] < stack.Count {
		return oops.Code(CodeItemNotPresent).
			With("pos", k.pos.String()).
			With("item", string(item)).
			With("want", stack.Count).
			With("have", c[item]).
			Errorf("container holds %d %s, need %d", c[item], item, stack.Count)
	}
	c[item] -= stack.Count
	if c[item] == 0 {
		delete(c, item)
	}
	return nil
}

// SetBlock implements preview.Host.
func (w *MemoryWorld) SetBlock(_ context.Context, world action.Identifier, pos action.Position, state action.BlockState, extra []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.setLocked(keyOf(world, pos), state, extra)
}

// InsertItem implements preview.Host.
func (w *MemoryWorld) InsertItem(_ context.Context, world action.Identifier, pos action.Position, stack action.ItemStack) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := keyOf(world, pos)
	c, err := w.containerLocked(k)
	if err != nil {
		return err
	}
	insertLocked(c, stack)
	return nil
}

// RemoveItem implements preview.Host.
func (w *MemoryWorld) RemoveItem(_ context.Context, world action.Identifier, pos action.Position, stack action.ItemStack) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := keyOf(world, pos)
	c, err := w.containerLocked(k)
	if err != nil {
		return err
	}
	return removeLocked(k, c, stack)
}

// Break replaces the block at pos with air and records it.
func (w *MemoryWorld) Break(ctx context.Context, world action.Identifier, pos action.Position, src action.Source) (action.Action, error) {
	w.mu.Lock()
	k := keyOf(world, pos)
	state := w.blockLocked(k)
	if state.IsAir() {
		w.mu.Unlock()
		return action.Action{}, oops.Code(CodeNoBlock).With("pos", pos.String()).Errorf("nothing to break at %s", pos)
	}
	ev := action.BlockEvent{World: world, Pos: pos, State: state, Entity: w.snapshotLocked(k)}
	_ = w.setLocked(k, *action.AirState(), nil)
	w.mu.Unlock()

	return w.emit(ctx, w.factory.BlockBreak(ev, src))
}

// Place puts state at pos and records it. The position must hold air;
// replacing a block takes a Break first.
func (w *MemoryWorld) Place(ctx context.Context, world action.Identifier, pos action.Position, state action.BlockState, src action.Source) (action.Action, error) {
	w.mu.Lock()
	k := keyOf(world, pos)
	if existing := w.blockLocked(k); !existing.IsAir() {
		w.mu.Unlock()
		return action.Action{}, oops.Code(CodeOccupied).
			With("pos", pos.String()).
			With("block", string(existing.Block)).
			Errorf("%s is occupied by %s", pos, existing.Block)
	}
	if err := w.setLocked(k, state, nil); err != nil {
		w.mu.Unlock()
		return action.Action{}, err
	}
	ev := action.BlockEvent{World: world, Pos: pos, State: state, Entity: w.snapshotLocked(k)}
	w.mu.Unlock()

	return w.emit(ctx, w.factory.BlockPlace(ev, src))
}

// Insert adds stack to the container at pos and records it.
func (w *MemoryWorld) Insert(ctx context.Context, world action.Identifier, pos action.Position, stack action.ItemStack, src action.Source) (action.Action, error) {
	if err := w.InsertItem(ctx, world, pos, stack); err != nil {
		return action.Action{}, err
	}
	return w.emit(ctx, w.factory.ItemInsert(action.ItemEvent{World: world, Pos: pos, Stack: stack}, src))
}

// Remove takes stack from the container at pos and records it.
func (w *MemoryWorld) Remove(ctx context.Context, world action.Identifier, pos action.Position, stack action.ItemStack, src action.Source) (action.Action, error) {
	if err := w.RemoveItem(ctx, world, pos, stack); err != nil {
		return action.Action{}, err
	}
	return w.emit(ctx, w.factory.ItemRemove(action.ItemEvent{World: world, Pos: pos, Stack: stack}, src))
}

// Kill records an entity death. Entities are not simulated.
func (w *MemoryWorld) Kill(ctx context.Context, world action.Identifier, pos action.Position, entity action.Identifier, cause action.DamageCause) (action.Action, error) {
	return w.emit(ctx, w.factory.EntityKill(action.EntityDeath{World: world, Pos: pos, Entity: entity, Cause: cause}))
}

func (w *MemoryWorld) emit(ctx context.Context, a action.Action) (action.Action, error) {
	if err := w.sink.Record(ctx, a); err != nil {
		return a, oops.With("id", a.ID.String()).With("kind", string(a.Kind)).Wrap(err)
	}
	return a, nil
}

// Positions lists every non-air position in world, sorted.
func (w *MemoryWorld) Positions(world action.Identifier) []action.Position {
	w.mu.Lock()
	defer w.mu.Unlock()
	world = world.Normalize()
	var out []action.Position
	for k := range w.blocks {
		if k.world == world {
			out = append(out, k.pos)
		}
	}
	slices.SortFunc(out, func(a, b action.Position) int {
		if a.X != b.X {
			return a.X - b.X
		}
		if a.Y != b.Y {
			return a.Y - b.Y
		}
		return a.Z - b.Z
	})
	return out
}
