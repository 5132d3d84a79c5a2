// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package action

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var captureDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_capture_degraded_total",
	Help: "Total number of actions recorded without extra data because the snapshot failed",
}, []string{"kind"})

// Snapshotter serializes auxiliary state captured alongside an action,
// such as a container's contents or an entity's persistent data.
type Snapshotter interface {
	Snapshot() ([]byte, error)
}

// SnapshotFunc adapts a function to Snapshotter.
type SnapshotFunc func() ([]byte, error)

// Snapshot calls f.
func (f SnapshotFunc) Snapshot() ([]byte, error) {
	return f()
}

// Source is the actor an action is attributed to: either a known player
// or a free-form label.
type Source struct {
	label  string
	player *Profile
}

// Player attributes an action to a known player.
func Player(p Profile) Source {
	return Source{label: PlayerSource, player: &p}
}

// Label attributes an action to a non-player source such as "lava" or "tnt".
// A blank label becomes UnknownSource.
func Label(label string) Source {
	if strings.TrimSpace(label) == "" {
		label = UnknownSource
	}
	return Source{label: label}
}

// Name returns the source name recorded on the action.
func (s Source) Name() string {
	return s.label
}

// Profile returns the player profile, or nil for labelled sources.
func (s Source) Profile() *Profile {
	if s.player == nil {
		return nil
	}
	p := *s.player
	return &p
}

// BlockEvent describes a block being broken or placed.
type BlockEvent struct {
	World Identifier
	Pos   Position
	// State is the broken block for a break and the placed block for a place.
	State BlockState
	// Entity captures the block entity data, if the block has one.
	Entity Snapshotter
	// Time is the host's timestamp for the event; zero means "now".
	Time time.Time
}

// ItemStack is a quantity of one item type.
type ItemStack struct {
	Item  Identifier      `json:"item"`
	Count int             `json:"count"`
	Tag   json.RawMessage `json:"tag,omitempty"`
}

// IsEmpty reports whether the stack holds nothing.
func (s ItemStack) IsEmpty() bool {
	return s.Item == "" || s.Item == Air || s.Count <= 0
}

// Snapshot serializes the stack for storage as extra data.
func (s ItemStack) Snapshot() ([]byte, error) {
	return json.Marshal(s) //nolint:wrapcheck // caller degrades on failure
}

// DecodeStack reverses ItemStack.Snapshot.
func DecodeStack(data []byte) (ItemStack, error) {
	var s ItemStack
	if err := json.Unmarshal(data, &s); err != nil {
		return ItemStack{}, err //nolint:wrapcheck // caller adds context
	}
	return s, nil
}

// ItemEvent describes a stack moving into or out of a container.
type ItemEvent struct {
	World Identifier
	// Pos is the container's position.
	Pos   Position
	Stack ItemStack
	Time  time.Time
}

// Attacker is the entity credited with a kill.
type Attacker struct {
	Type   Identifier
	Player *Profile
}

// DamageCause is the cause chain of a death.
type DamageCause struct {
	// Name is the abstract damage type, e.g. "fall" or "lava".
	Name     string
	Attacker *Attacker
}

// EntityDeath describes a living entity being killed.
type EntityDeath struct {
	World  Identifier
	Pos    Position
	Entity Identifier
	Data   Snapshotter
	Cause  DamageCause
	Time   time.Time
}

// Factory builds actions from host events. It performs no I/O and never
// mutates host state.
type Factory struct {
	now    func() time.Time
	newID  func() ulid.ULID
	logger *slog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithClock sets the clock used when an event carries no timestamp.
func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) { f.now = now }
}

// WithIDSource sets the action ID generator.
func WithIDSource(newID func() ulid.ULID) FactoryOption {
	return func(f *Factory) { f.newID = newID }
}

// WithLogger sets the logger used to report degraded captures.
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

// NewFactory creates a Factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		now:    time.Now,
		newID:  NewID,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// BlockBreak records ev.State being replaced by air.
func (f *Factory) BlockBreak(ev BlockEvent, src Source) Action {
	a := f.envelope(KindBlockBreak, ev.World, ev.Pos, ev.Time, src)
	f.setBlockData(&a, AirState(), ev.State.Clone(), ev.Entity)
	return a
}

// BlockPlace records ev.State replacing air.
func (f *Factory) BlockPlace(ev BlockEvent, src Source) Action {
	a := f.envelope(KindBlockPlace, ev.World, ev.Pos, ev.Time, src)
	f.setBlockData(&a, ev.State.Clone(), AirState(), ev.Entity)
	return a
}

// ItemInsert records ev.Stack being put into a container.
func (f *Factory) ItemInsert(ev ItemEvent, src Source) Action {
	a := f.envelope(KindItemInsert, ev.World, ev.Pos, ev.Time, src)
	f.setItemData(&a, ev.Stack)
	return a
}

// ItemRemove records ev.Stack being taken out of a container.
func (f *Factory) ItemRemove(ev ItemEvent, src Source) Action {
	a := f.envelope(KindItemRemove, ev.World, ev.Pos, ev.Time, src)
	f.setItemData(&a, ev.Stack)
	return a
}

// EntityKill records a death. The source is the attacking player if there
// is one, else the attacking entity's type path, else the damage cause.
func (f *Factory) EntityKill(ev EntityDeath) Action {
	var src Source
	switch attacker := ev.Cause.Attacker; {
	case attacker != nil && attacker.Player != nil:
		src = Player(*attacker.Player)
	case attacker != nil:
		src = Label(attacker.Type.Path())
	default:
		src = Label(ev.Cause.Name)
	}

	a := f.envelope(KindEntityKill, ev.World, ev.Pos, ev.Time, src)
	a.Object = ev.Entity.Normalize()
	a.ExtraData = f.capture(KindEntityKill, ev.Data)
	return a
}

func (f *Factory) envelope(kind Kind, world Identifier, pos Position, at time.Time, src Source) Action {
	if at.IsZero() {
		at = f.now()
	}
	// Stored timestamps keep microseconds, the PostgreSQL resolution.
	at = at.Truncate(time.Microsecond).UTC()
	return Action{
		ID:            f.newID(),
		Kind:          kind,
		Pos:           pos,
		World:         world.Normalize(),
		Time:          at,
		SourceName:    src.Name(),
		SourceProfile: src.Profile(),
	}
}

func (f *Factory) setBlockData(a *Action, state, oldState *BlockState, entity Snapshotter) {
	state.Block = state.Block.Normalize()
	oldState.Block = oldState.Block.Normalize()
	old := oldState.Block

	a.Object = state.Block
	a.OldObject = &old
	a.BlockState = state
	a.OldBlockState = oldState
	a.ExtraData = f.capture(a.Kind, entity)
}

func (f *Factory) setItemData(a *Action, stack ItemStack) {
	stack.Item = stack.Item.Normalize()
	a.Object = stack.Item
	a.ExtraData = f.capture(a.Kind, stack)
}

// capture takes the auxiliary snapshot. A failure never drops the action:
// it is logged and the action is recorded without extra data.
func (f *Factory) capture(kind Kind, s Snapshotter) []byte {
	if s == nil {
		return nil
	}
	data, err := s.Snapshot()
	if err != nil {
		f.logger.Warn("auxiliary state capture failed, recording action without extra data",
			"kind", string(kind),
			"error", err,
		)
		captureDegraded.WithLabelValues(string(kind)).Inc()
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	return data
}
