// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package action defines the recorded world mutations and the pure
// constructors that build them from host events.
package action

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// PlayerSource is the reserved source name for actions caused by a player.
const PlayerSource = "player"

// UnknownSource labels actions whose host gave no source at all.
const UnknownSource = "unknown"

// CodeInvalidAction is the error code for malformed actions.
const CodeInvalidAction = "INVALID_ACTION"

// Kind identifies what sort of mutation an action records.
type Kind string

// The closed set of action kinds.
const (
	KindBlockBreak Kind = "block-break"
	KindBlockPlace Kind = "block-place"
	KindItemInsert Kind = "item-insert"
	KindItemRemove Kind = "item-remove"
	KindEntityKill Kind = "entity-kill"
)

// Kinds returns every action kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindBlockBreak, KindBlockPlace, KindItemInsert, KindItemRemove, KindEntityKill}
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", oops.Code(CodeInvalidAction).With("kind", s).Errorf("unknown action kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindBlockBreak, KindBlockPlace, KindItemInsert, KindItemRemove, KindEntityKill:
		return true
	default:
		return false
	}
}

// IsBlockChange reports whether k carries old and new block state.
func (k Kind) IsBlockChange() bool {
	return k == KindBlockBreak || k == KindBlockPlace
}

func (k Kind) String() string {
	return string(k)
}

// Identifier is a namespaced registry id such as "minecraft:stone".
type Identifier string

// DefaultNamespace is assumed for identifiers written without one.
const DefaultNamespace = "minecraft"

// Air is the identifier of the empty block.
const Air Identifier = "minecraft:air"

// Namespace returns the part before the colon.
func (id Identifier) Namespace() string {
	ns, _, found := strings.Cut(string(id), ":")
	if !found {
		return DefaultNamespace
	}
	return ns
}

// Path returns the part after the colon, or the whole id when there is none.
func (id Identifier) Path() string {
	_, path, found := strings.Cut(string(id), ":")
	if !found {
		return string(id)
	}
	return path
}

// Normalize adds the default namespace when missing.
func (id Identifier) Normalize() Identifier {
	if id == "" || strings.Contains(string(id), ":") {
		return id
	}
	return Identifier(DefaultNamespace + ":" + string(id))
}

func (id Identifier) String() string {
	return string(id)
}

// Position is an integer block coordinate.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z)
}

// Profile is the strong identity of a player.
type Profile struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// BlockState is a block type together with its state properties.
type BlockState struct {
	Block      Identifier        `json:"block"`
	Properties map[string]string `json:"properties,omitempty"`
}

// AirState returns the empty block state.
func AirState() *BlockState {
	return &BlockState{Block: Air}
}

// IsAir reports whether the state is the empty block.
func (s *BlockState) IsAir() bool {
	return s != nil && s.Block == Air
}

// Clone returns a deep copy of the state.
func (s *BlockState) Clone() *BlockState {
	if s == nil {
		return nil
	}
	c := &BlockState{Block: s.Block}
	if len(s.Properties) > 0 {
		c.Properties = make(map[string]string, len(s.Properties))
		for k, v := range s.Properties {
			c.Properties[k] = v
		}
	}
	return c
}

// Action is one recorded mutation with its actor attribution.
type Action struct {
	ID            ulid.ULID   `json:"id"`
	Kind          Kind        `json:"kind"`
	Pos           Position    `json:"pos"`
	World         Identifier  `json:"world"`
	Time          time.Time   `json:"time"`
	SourceName    string      `json:"source_name"`
	SourceProfile *Profile    `json:"source_profile,omitempty"`
	Object        Identifier  `json:"object"`
	OldObject     *Identifier `json:"old_object,omitempty"`
	BlockState    *BlockState `json:"block_state,omitempty"`
	OldBlockState *BlockState `json:"old_block_state,omitempty"`
	ExtraData     []byte      `json:"extra_data,omitempty"`
	RolledBack    bool        `json:"rolled_back"`
}

// IsPlayer reports whether a player caused the action.
func (a *Action) IsPlayer() bool {
	return a.SourceName == PlayerSource
}

// SourceDisplay returns the player name for player actions and the source label otherwise.
func (a *Action) SourceDisplay() string {
	if a.SourceProfile != nil {
		return a.SourceProfile.Name
	}
	return a.SourceName
}

// Clone returns a deep copy of the action.
func (a Action) Clone() Action {
	c := a
	if a.SourceProfile != nil {
		p := *a.SourceProfile
		c.SourceProfile = &p
	}
	if a.OldObject != nil {
		o := *a.OldObject
		c.OldObject = &o
	}
	c.BlockState = a.BlockState.Clone()
	c.OldBlockState = a.OldBlockState.Clone()
	if a.ExtraData != nil {
		c.ExtraData = append([]byte(nil), a.ExtraData...)
	}
	return c
}

// Validate checks field consistency for the action kind.
func (a *Action) Validate() error {
	fail := func(format string, args ...any) error {
		return oops.Code(CodeInvalidAction).
			With("id", a.ID.String()).
			With("kind", string(a.Kind)).
			Errorf(format, args...)
	}

	if !a.Kind.Valid() {
		return fail("unknown action kind %q", a.Kind)
	}
	if a.ID == (ulid.ULID{}) {
		return fail("action has no id")
	}
	if a.Time.IsZero() {
		return fail("action has no timestamp")
	}
	if a.World == "" {
		return fail("action has no world")
	}
	if a.Object == "" {
		return fail("action has no object identifier")
	}
	if a.SourceName == "" {
		return fail("action has no source")
	}
	if a.IsPlayer() != (a.SourceProfile != nil) {
		return fail("source profile must be present exactly when source is %q", PlayerSource)
	}

	hasBlockData := a.BlockState != nil || a.OldBlockState != nil || a.OldObject != nil
	if a.Kind.IsBlockChange() {
		if a.BlockState == nil || a.OldBlockState == nil || a.OldObject == nil {
			return fail("block action requires old and new block state")
		}
	} else if hasBlockData {
		return fail("%s action cannot carry block state", a.Kind)
	}
	return nil
}
