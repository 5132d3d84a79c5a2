// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package preview stages rollbacks and restores per actor and applies
// them to the world.
//
// Each actor has at most one staged preview. Stage, Apply and Cancel for
// one actor are serialized by that actor's slot; different actors never
// wait on each other.
package preview

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/internal/query"
	"github.com/holomush/ledger/internal/store"
)

var tracer = otel.Tracer("ledger/preview")

// Preview is a staged, uncommitted rollback or restore.
type Preview struct {
	ID        ulid.ULID
	Actor     uuid.UUID
	Direction Direction
	Params    query.SearchParams
	// Actions are in chronological order regardless of direction.
	Actions  []action.Action
	StagedAt time.Time
}

// Counts tallies the staged actions by kind.
func (p *Preview) Counts() map[action.Kind]int {
	counts := make(map[action.Kind]int)
	for i := range p.Actions {
		counts[p.Actions[i].Kind]++
	}
	return counts
}

func (p *Preview) clone() *Preview {
	c := *p
	c.Params = p.Params.Clone()
	c.Actions = make([]action.Action, len(p.Actions))
	for i := range p.Actions {
		c.Actions[i] = p.Actions[i].Clone()
	}
	return &c
}

// StageResult describes a successful stage.
type StageResult struct {
	Preview *Preview
	// Replaced is set when an earlier preview for the actor was discarded.
	Replaced bool
}

// Failure is one action whose mutation the host rejected.
type Failure struct {
	Action action.Action
	Err    error
}

// ApplyResult tallies an apply.
type ApplyResult struct {
	PreviewID ulid.ULID
	Direction Direction
	Applied   int
	Failed    int
	Skipped   int
	Failures  []Failure
}

// Engine runs the preview workflow against a store and a host.
type Engine struct {
	store  store.ActionStore
	host   Host
	slots  *slotMap
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithShards sets the number of slot map shards.
func WithShards(n int) Option {
	return func(e *Engine) { e.slots = newSlotMap(n) }
}

// WithTTL makes previews older than ttl count as absent. Zero disables
// expiry.
func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an Engine.
func NewEngine(s store.ActionStore, h Host, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		host:   h,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.slots == nil {
		e.slots = newSlotMap(DefaultShards)
	}
	return e
}

// candidateParams narrows params to what d can act on: actions not yet
// rolled back for a rollback, rolled back ones for a restore, never
// entity kills, oldest first.
func candidateParams(params query.SearchParams, d Direction) query.SearchParams {
	p := params.Clone()
	if !slices.Contains(p.Kinds.Exclude, action.KindEntityKill) {
		p.Kinds.Exclude = append(p.Kinds.Exclude, action.KindEntityKill)
	}
	rolledBack := d == Restore
	p.RolledBack = &rolledBack
	p.Order = query.Ascending
	return p
}

// Stage queries the candidates for params and stages them for actor,
// replacing any earlier preview. When nothing matches, the earlier
// preview is discarded too and a NO_RESULTS error is returned. A storage
// failure leaves the earlier preview in place.
func (e *Engine) Stage(ctx context.Context, actor uuid.UUID, params query.SearchParams, d Direction) (res *StageResult, err error) {
	ctx, span := tracer.Start(ctx, "preview.stage", trace.WithAttributes(
		attribute.String("actor", actor.String()),
		attribute.String("direction", d.String()),
	))
	defer func() { e.finish(span, "stage", err) }()

	if !d.Valid() {
		return nil, oops.Code(query.CodeInvalidParams).With("direction", int(d)).Errorf("invalid direction")
	}
	candidates := candidateParams(params, d)
	if err := candidates.Validate(); err != nil {
		return nil, err
	}

	s, release, err := e.slots.acquire(ctx, actor)
	if err != nil {
		return nil, oops.With("actor", actor.String()).Wrapf(err, "waiting for preview slot")
	}
	defer release()

	actions, err := e.store.Query(ctx, candidates)
	if err != nil {
		return nil, oops.With("actor", actor.String()).With("operation", "stage").Wrap(err)
	}

	prior := e.live(s)
	if len(actions) == 0 {
		if prior != nil {
			e.clear(s)
		}
		return nil, ErrNoResults(actor, prior != nil)
	}

	p := &Preview{
		ID:        action.NewID(),
		Actor:     actor,
		Direction: d,
		Params:    params.Clone(),
		Actions:   actions,
		StagedAt:  e.now(),
	}
	e.set(s, p)
	span.SetAttributes(attribute.Int("preview.actions", len(actions)))

	e.logger.InfoContext(ctx, "preview staged",
		"actor", actor.String(),
		"preview_id", p.ID.String(),
		"direction", d.String(),
		"actions", len(actions),
		"replaced", prior != nil,
	)
	return &StageResult{Preview: p.clone(), Replaced: prior != nil}, nil
}

// Apply dispatches the actor's staged preview to the host and removes it.
// Rollbacks run newest first, restores oldest first. Every action is
// attempted; host failures are collected in the result and reported as a
// PARTIAL_APPLY error. Successfully processed actions have their rolled
// back flag updated afterwards.
func (e *Engine) Apply(ctx context.Context, actor uuid.UUID) (res *ApplyResult, err error) {
	ctx, span := tracer.Start(ctx, "preview.apply", trace.WithAttributes(
		attribute.String("actor", actor.String()),
	))
	defer func() { e.finish(span, "apply", err) }()

	s, release, err := e.slots.acquire(ctx, actor)
	if err != nil {
		return nil, oops.With("actor", actor.String()).Wrapf(err, "waiting for preview slot")
	}
	defer release()

	p := e.live(s)
	if p == nil {
		return nil, ErrNoActivePreview(actor)
	}

	// Once started, an apply is not abandoned halfway.
	ctx = context.WithoutCancel(ctx)

	res = &ApplyResult{PreviewID: p.ID, Direction: p.Direction}
	var done []ulid.ULID
	for _, step := range Plan(p.Direction, p.Actions) {
		switch {
		case step.Skipped():
			res.Skipped++
			mutationsCounter.WithLabelValues(resultSkipped).Inc()
			continue
		case step.Err != nil:
			err = step.Err
		default:
			err = step.Mutation.Dispatch(ctx, e.host)
		}
		if err != nil {
			res.Failed++
			res.Failures = append(res.Failures, Failure{Action: step.Action.Clone(), Err: err})
			mutationsCounter.WithLabelValues(resultFailed).Inc()
			e.logger.WarnContext(ctx, "preview mutation failed",
				"actor", actor.String(),
				"action_id", step.Action.ID.String(),
				"kind", string(step.Action.Kind),
				"pos", step.Action.Pos.String(),
				"error", err,
			)
			continue
		}
		res.Applied++
		done = append(done, step.Action.ID)
		mutationsCounter.WithLabelValues(resultApplied).Inc()
	}
	e.clear(s)

	span.SetAttributes(
		attribute.Int("preview.applied", res.Applied),
		attribute.Int("preview.failed", res.Failed),
		attribute.Int("preview.skipped", res.Skipped),
	)
	e.logger.InfoContext(ctx, "preview applied",
		"actor", actor.String(),
		"preview_id", p.ID.String(),
		"direction", p.Direction.String(),
		"applied", res.Applied,
		"failed", res.Failed,
		"skipped", res.Skipped,
	)

	if len(done) > 0 {
		if err := e.store.SetRolledBack(ctx, done, p.Direction == Rollback); err != nil {
			return res, oops.With("actor", actor.String()).
				With("operation", "apply").
				With("preview_id", p.ID.String()).
				Wrap(err)
		}
	}
	if res.Failed > 0 {
		return res, ErrPartialApply(actor, res)
	}
	return res, nil
}

// Cancel discards the actor's staged preview without touching the world.
func (e *Engine) Cancel(ctx context.Context, actor uuid.UUID) (err error) {
	ctx, span := tracer.Start(ctx, "preview.cancel", trace.WithAttributes(
		attribute.String("actor", actor.String()),
	))
	defer func() { e.finish(span, "cancel", err) }()

	s, release, err := e.slots.acquire(ctx, actor)
	if err != nil {
		return oops.With("actor", actor.String()).Wrapf(err, "waiting for preview slot")
	}
	defer release()

	p := e.live(s)
	if p == nil {
		return ErrNoActivePreview(actor)
	}
	e.clear(s)
	e.logger.InfoContext(ctx, "preview cancelled", "actor", actor.String(), "preview_id", p.ID.String())
	return nil
}

// Get returns a copy of the actor's staged preview. It does not wait for
// an operation in progress and may return the preview that operation is
// about to replace.
func (e *Engine) Get(actor uuid.UUID) (*Preview, bool) {
	p := e.slots.peek(actor)
	if p == nil || e.expired(p) {
		return nil, false
	}
	return p.clone(), true
}

func (e *Engine) expired(p *Preview) bool {
	return e.ttl > 0 && e.now().Sub(p.StagedAt) > e.ttl
}

// live returns the slot's preview, clearing it first if it has expired.
// The caller holds the slot lock.
func (e *Engine) live(s *slot) *Preview {
	p := s.preview.Load()
	if p != nil && e.expired(p) {
		e.logger.Debug("preview expired", "actor", p.Actor.String(), "preview_id", p.ID.String())
		e.clear(s)
		return nil
	}
	return p
}

func (e *Engine) set(s *slot, p *Preview) {
	if s.preview.Swap(p) == nil {
		activeGauge.Inc()
	}
}

func (e *Engine) clear(s *slot) {
	if s.preview.Swap(nil) != nil {
		activeGauge.Dec()
	}
}

func (e *Engine) finish(span trace.Span, op string, err error) {
	status := Status(err)
	operationsCounter.WithLabelValues(op, status).Inc()
	if status == StatusError {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("preview.status", status))
	span.End()
}
