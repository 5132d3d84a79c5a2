// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package query

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/markusmobius/go-dateparser"
	"github.com/samber/oops"
)

// durationRegex matches compact durations such as "30m", "1d12h" or "2w".
var (
	durationRegex     = regexp.MustCompile(`^(\d+[smhdw])+$`)
	durationPartRegex = regexp.MustCompile(`(\d+)([smhdw])`)
)

var durationUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

func isDuration(s string) bool {
	return durationRegex.MatchString(strings.ToLower(strings.TrimSpace(s)))
}

// ParseDuration parses a compact duration like "1d2h30m". Units are
// s, m, h, d (24h) and w (7d). Totals beyond time.Duration's range
// (about 292 years) are rejected.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !durationRegex.MatchString(s) {
		return 0, oops.Code(CodeInvalidQuery).With("value", s).Errorf("not a duration")
	}
	tooLong := func() error {
		return oops.Code(CodeInvalidQuery).With("value", s).Errorf("duration out of range")
	}
	var total time.Duration
	for _, m := range durationPartRegex.FindAllStringSubmatch(s, -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, tooLong()
		}
		unit := durationUnits[m[2]]
		if n > int64(math.MaxInt64/unit) {
			return 0, tooLong()
		}
		part := time.Duration(n) * unit
		if total > math.MaxInt64-part {
			return 0, tooLong()
		}
		total += part
	}
	return total, nil
}

// ParseTime resolves a time bound. Compact durations are taken as "that
// long before now"; RFC 3339 instants are used as given; anything else is
// handed to the natural-language date parser relative to now.
func ParseTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, oops.Code(CodeInvalidQuery).Errorf("empty time value")
	}
	if strings.EqualFold(s, "now") {
		return now, nil
	}
	if isDuration(s) {
		d, err := ParseDuration(s)
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	cfg := &dateparser.Configuration{CurrentTime: now}
	result, err := dateparser.Parse(cfg, s)
	if err != nil {
		return time.Time{}, oops.Code(CodeInvalidQuery).With("value", s).Wrapf(err, "unrecognized time")
	}
	return result.Time, nil
}
