// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/ledger/pkg/errutil"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"15m", 15 * time.Minute},
		{"1d2h30m", 26*time.Hour + 30*time.Minute},
		{"2w", 14 * 24 * time.Hour},
		{"1H", time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "d", "1x", "1.5h", "-1h"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseDuration_OutOfRange(t *testing.T) {
	got, err := ParseDuration("15250w")
	require.NoError(t, err, "about 292 years still fits")
	assert.Equal(t, 15250*7*24*time.Hour, got)

	for _, in := range []string{"999999999999w", "99999999999999999999s", "15000w15000w"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseDuration(in)
			errutil.AssertErrorCode(t, err, CodeInvalidQuery)

			_, err = ParseTime(in, t0)
			errutil.AssertErrorCode(t, err, CodeInvalidQuery)
		})
	}
}

func TestParseTime(t *testing.T) {
	got, err := ParseTime("now", t0)
	require.NoError(t, err)
	assert.Equal(t, t0, got)

	got, err = ParseTime("3h", t0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(-3*time.Hour), got)

	got, err = ParseTime("2026-01-02T03:04:05Z", t0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), got)

	got, err = ParseTime("yesterday", t0)
	require.NoError(t, err)
	assert.Equal(t, t0.AddDate(0, 0, -1).YearDay(), got.YearDay())

	_, err = ParseTime("", t0)
	assert.Error(t, err)
}
