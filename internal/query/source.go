// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package query

import (
	"slices"
	"strings"
)

// IsSourceChar reports whether r may appear in a source token.
func IsSourceChar(r rune) bool {
	return (r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		r == '@' || r == '_'
}

// ParseSource reads the longest source token at the start of s and
// returns it with the unread remainder. Any label made of the allowed
// characters is accepted; there is no check that the source exists.
func ParseSource(s string) (token, rest string) {
	end := strings.IndexFunc(s, func(r rune) bool { return !IsSourceChar(r) })
	if end == -1 {
		return s, ""
	}
	return s[:end], s[end:]
}

// SuggestSources offers completions for a partially typed source token:
// every known player name plus the bare label marker.
//
// Non-player labels (entity types, damage causes, free-form sources) are
// not suggested because the set is open-ended; they are still accepted.
func SuggestSources(prefix string, players []string) []string {
	candidates := make([]string, 0, len(players)+1)
	candidates = append(candidates, LabelMarker)
	candidates = append(candidates, players...)

	lower := strings.ToLower(prefix)
	var out []string
	for _, c := range candidates {
		if strings.HasPrefix(strings.ToLower(c), lower) {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
