// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package query defines the action search filter shared by listing and
// by preview candidate selection, plus the text form users type it in.
package query

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/holomush/ledger/internal/action"
)

// CodeInvalidParams is the error code for malformed search parameters.
const CodeInvalidParams = "INVALID_PARAMS"

// LabelMarker prefixes non-player source labels in source tokens: "@tnt"
// matches the label "tnt" and a bare "@" matches every non-player source.
// Tokens without the marker name a player, compared case-insensitively.
const LabelMarker = "@"

// Order is the sort direction of query results.
type Order uint8

// Result orderings. Ties on timestamp are broken by action ID.
const (
	Ascending Order = iota
	Descending
)

// Region is an inclusive axis-aligned box.
type Region struct {
	Min action.Position
	Max action.Position
}

// Around returns the cube of the given radius centered on center.
func Around(center action.Position, radius int) Region {
	return Region{
		Min: action.Position{X: center.X - radius, Y: center.Y - radius, Z: center.Z - radius},
		Max: action.Position{X: center.X + radius, Y: center.Y + radius, Z: center.Z + radius},
	}
}

// Contains reports whether p lies inside r.
func (r Region) Contains(p action.Position) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X &&
		p.Y >= r.Min.Y && p.Y <= r.Max.Y &&
		p.Z >= r.Min.Z && p.Z <= r.Max.Z
}

// Filter is an include/exclude set. An empty Include admits everything;
// any Exclude match rejects.
type Filter[T comparable] struct {
	Include []T
	Exclude []T
}

// Empty reports whether the filter constrains nothing.
func (f Filter[T]) Empty() bool {
	return len(f.Include) == 0 && len(f.Exclude) == 0
}

// Allows applies the filter using match to compare one entry.
func (f Filter[T]) Allows(match func(T) bool) bool {
	if len(f.Include) > 0 && !slices.ContainsFunc(f.Include, match) {
		return false
	}
	return !slices.ContainsFunc(f.Exclude, match)
}

// Contains applies the filter with equality.
func (f Filter[T]) Contains(v T) bool {
	return f.Allows(func(e T) bool { return e == v })
}

func (f Filter[T]) clone() Filter[T] {
	return Filter[T]{Include: slices.Clone(f.Include), Exclude: slices.Clone(f.Exclude)}
}

// SearchParams selects actions. The zero value matches everything.
// Values are passed and stored by copy; use Clone before retaining one.
type SearchParams struct {
	Bounds     *Region
	Worlds     Filter[action.Identifier]
	After      *time.Time
	Before     *time.Time
	Sources    Filter[string]
	Kinds      Filter[action.Kind]
	Objects    Filter[string]
	RolledBack *bool

	Order  Order
	Limit  int
	Offset int
}

// Clone returns a deep copy.
func (p SearchParams) Clone() SearchParams {
	c := p
	if p.Bounds != nil {
		b := *p.Bounds
		c.Bounds = &b
	}
	if p.After != nil {
		t := *p.After
		c.After = &t
	}
	if p.Before != nil {
		t := *p.Before
		c.Before = &t
	}
	if p.RolledBack != nil {
		v := *p.RolledBack
		c.RolledBack = &v
	}
	c.Worlds = p.Worlds.clone()
	c.Sources = p.Sources.clone()
	c.Kinds = p.Kinds.clone()
	c.Objects = p.Objects.clone()
	return c
}

// Validate rejects contradictory or malformed parameters.
func (p SearchParams) Validate() error {
	fail := func(format string, args ...any) error {
		return oops.Code(CodeInvalidParams).Errorf(format, args...)
	}

	if p.Limit < 0 {
		return fail("limit must be non-negative, got %d", p.Limit)
	}
	if p.Offset < 0 {
		return fail("offset must be non-negative, got %d", p.Offset)
	}
	if p.After != nil && p.Before != nil && p.After.After(*p.Before) {
		return fail("time range is inverted: after %s is later than before %s",
			p.After.Format(time.RFC3339), p.Before.Format(time.RFC3339))
	}
	if b := p.Bounds; b != nil && (b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z) {
		return fail("bounds are inverted: min %s exceeds max %s", b.Min, b.Max)
	}
	for _, k := range append(slices.Clone(p.Kinds.Include), p.Kinds.Exclude...) {
		if !k.Valid() {
			return fail("unknown action kind %q", k)
		}
	}
	for _, s := range append(slices.Clone(p.Sources.Include), p.Sources.Exclude...) {
		if s == "" {
			return fail("empty source filter")
		}
	}
	for _, pattern := range append(slices.Clone(p.Objects.Include), p.Objects.Exclude...) {
		if _, err := compileObjectPattern(pattern); err != nil {
			return oops.Code(CodeInvalidParams).With("pattern", pattern).Wrapf(err, "invalid object pattern")
		}
	}
	return nil
}

// Matches reports whether a satisfies every filter dimension. Pagination
// and ordering are not considered.
func (p SearchParams) Matches(a *action.Action) bool {
	if p.Bounds != nil && !p.Bounds.Contains(a.Pos) {
		return false
	}
	if !p.Worlds.Allows(func(w action.Identifier) bool { return w.Normalize() == a.World }) {
		return false
	}
	if p.After != nil && a.Time.Before(*p.After) {
		return false
	}
	if p.Before != nil && !a.Time.Before(*p.Before) {
		return false
	}
	if !p.Kinds.Contains(a.Kind) {
		return false
	}
	if !p.Sources.Allows(func(s string) bool { return MatchSource(s, a) }) {
		return false
	}
	if !p.Objects.Allows(func(pattern string) bool { return matchObject(pattern, a) }) {
		return false
	}
	if p.RolledBack != nil && *p.RolledBack != a.RolledBack {
		return false
	}
	return true
}

// MatchSource reports whether a source token selects a.
func MatchSource(token string, a *action.Action) bool {
	if label, ok := strings.CutPrefix(token, LabelMarker); ok {
		if label == "" {
			return !a.IsPlayer()
		}
		return label == a.SourceName
	}
	return a.IsPlayer() && a.SourceProfile != nil && strings.EqualFold(token, a.SourceProfile.Name)
}

// NormalizeObjectPattern qualifies a pattern written without a namespace.
func NormalizeObjectPattern(pattern string) string {
	if strings.Contains(pattern, ":") {
		return pattern
	}
	return action.DefaultNamespace + ":" + pattern
}

var patternCache sync.Map // string -> glob.Glob

func compileObjectPattern(pattern string) (glob.Glob, error) {
	pattern = NormalizeObjectPattern(pattern)
	if g, ok := patternCache.Load(pattern); ok {
		return g.(glob.Glob), nil //nolint:forcetypeassert // cache only holds glob.Glob
	}
	g, err := glob.Compile(pattern, ':')
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by Validate
	}
	patternCache.Store(pattern, g)
	return g, nil
}

func matchObject(pattern string, a *action.Action) bool {
	g, err := compileObjectPattern(pattern)
	if err != nil {
		return false
	}
	if g.Match(string(a.Object)) {
		return true
	}
	return a.OldObject != nil && g.Match(string(*a.OldObject))
}

// LikePattern translates an object glob into an SQL LIKE pattern with
// backslash escapes. It reports false when the glob uses classes,
// alternatives or escapes that LIKE cannot express.
func LikePattern(pattern string) (string, bool) {
	pattern = NormalizeObjectPattern(pattern)
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '[', ']', '{', '}', '!', '\\':
			return "", false
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), true
}
