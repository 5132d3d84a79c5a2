// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"fmt"
	"strings"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/internal/query"
)

// sqlQuery is a SELECT built from SearchParams. When postFilter is set the
// SQL over-selects and the caller must apply params.Matches and paging.
type sqlQuery struct {
	sql        string
	args       []any
	postFilter bool
}

type sqlBuilder struct {
	where []string
	args  []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *sqlBuilder) cond(format string, args ...any) {
	b.where = append(b.where, fmt.Sprintf(format, args...))
}

func buildQuery(p query.SearchParams) sqlQuery {
	var b sqlBuilder
	postFilter := false

	if r := p.Bounds; r != nil {
		b.cond("x BETWEEN %s AND %s", b.arg(r.Min.X), b.arg(r.Max.X))
		b.cond("y BETWEEN %s AND %s", b.arg(r.Min.Y), b.arg(r.Max.Y))
		b.cond("z BETWEEN %s AND %s", b.arg(r.Min.Z), b.arg(r.Max.Z))
	}
	if len(p.Worlds.Include) > 0 {
		b.cond("world = ANY(%s)", b.arg(worldKeys(p.Worlds.Include)))
	}
	if len(p.Worlds.Exclude) > 0 {
		b.cond("world <> ALL(%s)", b.arg(worldKeys(p.Worlds.Exclude)))
	}
	if p.After != nil {
		b.cond("time >= %s", b.arg(*p.After))
	}
	if p.Before != nil {
		b.cond("time < %s", b.arg(*p.Before))
	}
	if len(p.Kinds.Include) > 0 {
		b.cond("kind = ANY(%s)", b.arg(kindKeys(p.Kinds.Include)))
	}
	if len(p.Kinds.Exclude) > 0 {
		b.cond("kind <> ALL(%s)", b.arg(kindKeys(p.Kinds.Exclude)))
	}
	if len(p.Sources.Include) > 0 {
		b.cond("(%s)", b.anySource(p.Sources.Include))
	}
	if len(p.Sources.Exclude) > 0 {
		b.cond("NOT (%s)", b.anySource(p.Sources.Exclude))
	}
	if len(p.Objects.Include) > 0 {
		if like, ok := b.anyObject(p.Objects.Include); ok {
			b.cond("(%s)", like)
		} else {
			postFilter = true
		}
	}
	for _, pattern := range p.Objects.Exclude {
		if like, ok := b.anyObject([]string{pattern}); ok {
			b.cond("NOT (%s)", like)
		} else {
			postFilter = true
		}
	}
	if p.RolledBack != nil {
		b.cond("rolled_back = %s", b.arg(*p.RolledBack))
	}

	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(selectColumns)
	sql.WriteString(" FROM actions")
	if len(b.where) > 0 {
		sql.WriteString(" WHERE ")
		sql.WriteString(strings.Join(b.where, " AND "))
	}
	if p.Order == query.Descending {
		sql.WriteString(" ORDER BY time DESC, id DESC")
	} else {
		sql.WriteString(" ORDER BY time ASC, id ASC")
	}
	if !postFilter {
		if p.Limit > 0 {
			sql.WriteString(" LIMIT " + b.arg(p.Limit))
		}
		if p.Offset > 0 {
			sql.WriteString(" OFFSET " + b.arg(p.Offset))
		}
	}

	return sqlQuery{sql: sql.String(), args: b.args, postFilter: postFilter}
}

// anySource ORs the SQL form of each source token.
func (b *sqlBuilder) anySource(tokens []string) string {
	parts := make([]string, len(tokens))
	for i, token := range tokens {
		switch label, isLabel := strings.CutPrefix(token, query.LabelMarker); {
		case isLabel && label == "":
			parts[i] = fmt.Sprintf("source_name <> %s", b.arg(action.PlayerSource))
		case isLabel:
			parts[i] = fmt.Sprintf("source_name = %s", b.arg(label))
		default:
			parts[i] = fmt.Sprintf("(source_name = %s AND lower(player_name) = lower(%s))",
				b.arg(action.PlayerSource), b.arg(token))
		}
	}
	return strings.Join(parts, " OR ")
}

// anyObject ORs LIKE matches against either object column. It reports
// false if any pattern has no LIKE form.
func (b *sqlBuilder) anyObject(patterns []string) (string, bool) {
	likes := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		like, ok := query.LikePattern(pattern)
		if !ok {
			return "", false
		}
		likes = append(likes, like)
	}
	parts := make([]string, len(likes))
	for i, like := range likes {
		n := b.arg(like)
		parts[i] = fmt.Sprintf("object_id LIKE %s OR COALESCE(old_object_id, '') LIKE %s", n, n)
	}
	return strings.Join(parts, " OR "), true
}

func worldKeys(ids []action.Identifier) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id.Normalize())
	}
	return out
}

func kindKeys(kinds []action.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
