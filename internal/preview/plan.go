// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package preview

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/internal/query"
)

// Direction says whether a preview undoes or redoes its actions.
type Direction uint8

// Directions. The zero value is invalid.
const (
	Rollback Direction = iota + 1
	Restore
)

// ParseDirection accepts "rollback" or "restore".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rollback":
		return Rollback, nil
	case "restore":
		return Restore, nil
	}
	return 0, oops.Code(query.CodeInvalidParams).With("direction", s).Errorf("direction must be rollback or restore")
}

func (d Direction) String() string {
	switch d {
	case Rollback:
		return "rollback"
	case Restore:
		return "restore"
	}
	return fmt.Sprintf("Direction(%d)", d)
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Rollback || d == Restore
}

// Host applies world mutations during apply. Each call succeeds or fails
// on its own; the engine does not retry.
type Host interface {
	// SetBlock replaces whatever is at pos with state. extra, when not nil,
	// is the block entity data to restore with it.
	SetBlock(ctx context.Context, world action.Identifier, pos action.Position, state action.BlockState, extra []byte) error
	// InsertItem puts stack into the container at pos.
	InsertItem(ctx context.Context, world action.Identifier, pos action.Position, stack action.ItemStack) error
	// RemoveItem takes stack out of the container at pos.
	RemoveItem(ctx context.Context, world action.Identifier, pos action.Position, stack action.ItemStack) error
}

// MutationKind enumerates host commands.
type MutationKind uint8

// Host commands.
const (
	SetBlock MutationKind = iota + 1
	InsertItem
	RemoveItem
)

func (k MutationKind) String() string {
	switch k {
	case SetBlock:
		return "set-block"
	case InsertItem:
		return "insert-item"
	case RemoveItem:
		return "remove-item"
	}
	return fmt.Sprintf("MutationKind(%d)", k)
}

// Mutation is one host command.
type Mutation struct {
	Kind  MutationKind
	World action.Identifier
	Pos   action.Position
	State action.BlockState
	Extra []byte
	Stack action.ItemStack
}

// Dispatch sends m to h.
func (m *Mutation) Dispatch(ctx context.Context, h Host) error {
	switch m.Kind {
	case SetBlock:
		return h.SetBlock(ctx, m.World, m.Pos, m.State, m.Extra)
	case InsertItem:
		return h.InsertItem(ctx, m.World, m.Pos, m.Stack)
	case RemoveItem:
		return h.RemoveItem(ctx, m.World, m.Pos, m.Stack)
	}
	return oops.Errorf("unknown mutation kind %s", m.Kind)
}

// Step pairs a staged action with the command that reverses or replays
// it. A step with neither Mutation nor Err is skipped; Err means no
// command could be built.
type Step struct {
	Action   *action.Action
	Mutation *Mutation
	Err      error
}

// Skipped reports whether the action has no inverse and is left alone.
func (s Step) Skipped() bool {
	return s.Mutation == nil && s.Err == nil
}

// Plan orders actions for d and computes each one's mutation. actions
// must be in chronological order: rollback walks them newest first,
// restore oldest first.
func Plan(d Direction, actions []action.Action) []Step {
	steps := make([]Step, len(actions))
	for i := range actions {
		a := &actions[i]
		m, err := mutationFor(d, a)
		steps[i] = Step{Action: a, Mutation: m, Err: err}
	}
	if d == Rollback {
		slices.Reverse(steps)
	}
	return steps
}

func mutationFor(d Direction, a *action.Action) (*Mutation, error) {
	m := &Mutation{World: a.World, Pos: a.Pos}

	switch a.Kind {
	case action.KindBlockBreak, action.KindBlockPlace:
		// The block entity snapshot belongs to the non-air side: the broken
		// block for a break, the placed block for a place.
		state, withExtra := a.OldBlockState, a.Kind == action.KindBlockBreak
		if d == Restore {
			state, withExtra = a.BlockState, a.Kind == action.KindBlockPlace
		}
		if state == nil {
			return nil, oops.With("id", a.ID.String()).Errorf("block action has no %s state", d)
		}
		m.Kind = SetBlock
		m.State = *state.Clone()
		if withExtra {
			m.Extra = slices.Clone(a.ExtraData)
		}
		return m, nil

	case action.KindItemInsert, action.KindItemRemove:
		stack, err := stackOf(a)
		if err != nil {
			return nil, err
		}
		// Rolling back an insert removes; restoring it inserts. Item
		// removals mirror that.
		insert := (a.Kind == action.KindItemInsert) == (d == Restore)
		m.Kind = RemoveItem
		if insert {
			m.Kind = InsertItem
		}
		m.Stack = stack
		return m, nil

	case action.KindEntityKill:
		return nil, nil //nolint:nilnil // no inverse; the step is skipped
	}
	return nil, oops.With("kind", string(a.Kind)).Errorf("unknown action kind")
}

// stackOf recovers the moved stack. Without a snapshot only the item type
// is known, so a single item is assumed.
func stackOf(a *action.Action) (action.ItemStack, error) {
	if a.ExtraData == nil {
		return action.ItemStack{Item: a.Object, Count: 1}, nil
	}
	stack, err := action.DecodeStack(a.ExtraData)
	if err != nil {
		return action.ItemStack{}, oops.With("id", a.ID.String()).Wrapf(err, "decoding item stack")
	}
	if stack.Item == "" {
		stack.Item = a.Object
	}
	return stack, nil
}
