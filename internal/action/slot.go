// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package action

import "time"

// SlotEvent describes one container slot changing contents while a
// player has the container open.
type SlotEvent struct {
	World Identifier
	Pos   Position
	Old   ItemStack
	New   ItemStack
	Time  time.Time
}

// SlotChange is a single insert or remove derived from a slot transition.
type SlotChange struct {
	Kind  Kind
	Stack ItemStack
}

// SlotChanges reduces a slot transition to inserts and removes.
//
// Growing or shrinking a stack of the same item yields one change for the
// difference. Swapping one item for another yields a remove of the old
// stack followed by an insert of the new one.
func SlotChanges(old, updated ItemStack) []SlotChange {
	oldEmpty, newEmpty := old.IsEmpty(), updated.IsEmpty()

	switch {
	case oldEmpty && newEmpty:
		return nil
	case oldEmpty:
		return []SlotChange{{Kind: KindItemInsert, Stack: updated}}
	case newEmpty:
		return []SlotChange{{Kind: KindItemRemove, Stack: old}}
	case old.Item.Normalize() != updated.Item.Normalize():
		return []SlotChange{
			{Kind: KindItemRemove, Stack: old},
			{Kind: KindItemInsert, Stack: updated},
		}
	}

	delta := updated.Count - old.Count
	switch {
	case delta > 0:
		return []SlotChange{{Kind: KindItemInsert, Stack: ItemStack{Item: updated.Item, Count: delta, Tag: updated.Tag}}}
	case delta < 0:
		return []SlotChange{{Kind: KindItemRemove, Stack: ItemStack{Item: old.Item, Count: -delta, Tag: old.Tag}}}
	default:
		return nil
	}
}

// ContainerSlot builds the item actions for a slot transition made by a player.
func (f *Factory) ContainerSlot(ev SlotEvent, player Profile) []Action {
	changes := SlotChanges(ev.Old, ev.New)
	if len(changes) == 0 {
		return nil
	}

	src := Player(player)
	actions := make([]Action, 0, len(changes))
	for _, c := range changes {
		item := ItemEvent{World: ev.World, Pos: ev.Pos, Stack: c.Stack, Time: ev.Time}
		if c.Kind == KindItemInsert {
			actions = append(actions, f.ItemInsert(item, src))
		} else {
			actions = append(actions, f.ItemRemove(item, src))
		}
	}
	return actions
}
