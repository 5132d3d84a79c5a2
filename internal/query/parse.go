// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"

	"github.com/holomush/ledger/internal/action"
)

// CodeInvalidQuery is the error code for text queries that do not parse.
const CodeInvalidQuery = "INVALID_QUERY"

// MaxRange caps the radius accepted by the range key.
const MaxRange = 1024

// queryLexer switches into a value state after each key so that values
// may carry colons (namespaced ids, RFC 3339 times).
var queryLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{Name: "Key", Pattern: `[a-zA-Z_]+`},
		{Name: "Colon", Pattern: `:`, Action: lexer.Push("Values")},
		{Name: "whitespace", Pattern: `\s+`},
	},
	"Values": {
		{Name: "String", Pattern: `"[^"]*"`},
		{Name: "Comma", Pattern: `,`},
		{Name: "Bang", Pattern: `!`},
		{Name: "Value", Pattern: `[^\s,"!]+`},
		{Name: "whitespace", Pattern: `\s+`, Action: lexer.Pop()},
	},
})

// queryAST is the parsed form of a text query.
//
// Grammar: { key ":" value { "," value } }
type queryAST struct {
	Terms []*termAST `parser:"@@*"`
}

type termAST struct {
	Pos    lexer.Position
	Key    string      `parser:"@Key Colon"`
	Values []*valueAST `parser:"@@ (Comma @@)*"`
}

type valueAST struct {
	Negated bool   `parser:"@Bang?"`
	Text    string `parser:"@(String | Value)"`
}

var queryParser = participle.MustBuild[queryAST](
	participle.Lexer(queryLexer),
	participle.Unquote("String"),
)

// ParseContext supplies what a text query cannot state by itself.
type ParseContext struct {
	// Origin centers range:N; nil makes range an error.
	Origin *action.Position
	// Now anchors relative times; zero means time.Now.
	Now time.Time
}

// Parse turns a text query such as
//
//	action:block-break,!item-insert source:Steve,!@tnt range:5 after:1d
//
// into SearchParams. Keys may be repeated for list-valued filters; a "!"
// before a value moves it to the exclude set.
func Parse(text string, pc ParseContext) (SearchParams, error) {
	if pc.Now.IsZero() {
		pc.Now = time.Now()
	}

	ast, err := queryParser.ParseString("", text)
	if err != nil {
		return SearchParams{}, oops.Code(CodeInvalidQuery).With("query", text).Wrapf(err, "parsing query")
	}

	var p SearchParams
	seen := make(map[string]bool, len(ast.Terms))
	for _, term := range ast.Terms {
		key := strings.ToLower(term.Key)
		if err := applyTerm(&p, key, term.Values, pc, seen[key]); err != nil {
			return SearchParams{}, oops.Code(CodeInvalidQuery).
				With("query", text).
				With("key", key).
				With("column", term.Pos.Column).
				Wrap(err)
		}
		seen[key] = true
	}

	if err := p.Validate(); err != nil {
		return SearchParams{}, err
	}
	return p, nil
}

func applyTerm(p *SearchParams, key string, values []*valueAST, pc ParseContext, repeated bool) error {
	switch key {
	case "action", "a":
		return addValues(&p.Kinds, values, func(s string) (action.Kind, error) {
			k, err := action.ParseKind(s)
			if err != nil {
				return "", fmt.Errorf("unknown action %q", s)
			}
			return k, nil
		})
	case "source", "s":
		return addValues(&p.Sources, values, func(s string) (string, error) {
			token, rest := ParseSource(s)
			if token == "" || rest != "" {
				return "", fmt.Errorf("invalid source %q", s)
			}
			return token, nil
		})
	case "object", "o":
		return addValues(&p.Objects, values, func(s string) (string, error) {
			return NormalizeObjectPattern(strings.ToLower(s)), nil
		})
	case "world", "w":
		return addValues(&p.Worlds, values, func(s string) (action.Identifier, error) {
			return action.Identifier(strings.ToLower(s)).Normalize(), nil
		})
	}

	// The remaining keys take exactly one plain value.
	if repeated {
		return fmt.Errorf("%s given more than once", key)
	}
	v, err := single(key, values)
	if err != nil {
		return err
	}

	switch key {
	case "before", "after":
		t, err := ParseTime(v, pc.Now)
		if err != nil {
			return err
		}
		if key == "before" {
			p.Before = &t
		} else {
			p.After = &t
		}
	case "range", "r":
		if pc.Origin == nil {
			return fmt.Errorf("range needs an origin position")
		}
		radius, err := strconv.Atoi(v)
		if err != nil || radius < 0 || radius > MaxRange {
			return fmt.Errorf("range must be an integer between 0 and %d, got %q", MaxRange, v)
		}
		r := Around(*pc.Origin, radius)
		p.Bounds = &r
	case "rolledback":
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("rolledback must be true or false, got %q", v)
		}
		p.RolledBack = &b
	case "limit":
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("limit must be a non-negative integer, got %q", v)
		}
		p.Limit = n
	case "order":
		switch strings.ToLower(v) {
		case "asc", "oldest":
			p.Order = Ascending
		case "desc", "newest":
			p.Order = Descending
		default:
			return fmt.Errorf("order must be asc or desc, got %q", v)
		}
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

func single(key string, values []*valueAST) (string, error) {
	if len(values) != 1 {
		return "", fmt.Errorf("%s takes a single value", key)
	}
	if values[0].Negated {
		return "", fmt.Errorf("%s cannot be negated", key)
	}
	return values[0].Text, nil
}

func addValues[T comparable](f *Filter[T], values []*valueAST, conv func(string) (T, error)) error {
	for _, v := range values {
		item, err := conv(v.Text)
		if err != nil {
			return err
		}
		if v.Negated {
			f.Exclude = append(f.Exclude, item)
		} else {
			f.Include = append(f.Include, item)
		}
	}
	return nil
}
