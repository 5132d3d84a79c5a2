// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "not JSON: %s", buf.String())
	return entry
}

func TestSetup_Formats(t *testing.T) {
	for _, format := range []string{"json", ""} {
		t.Run("format "+format, func(t *testing.T) {
			var buf bytes.Buffer
			Setup("ledger", "0.3.1", format, nil, &buf).Info("recorded", "kind", "block-break")

			entry := decodeLine(t, &buf)
			assert.Equal(t, "recorded", entry["msg"])
			assert.Equal(t, "block-break", entry["kind"])
			assert.Equal(t, "ledger", entry["service"])
			assert.Equal(t, "0.3.1", entry["version"])
			assert.Contains(t, entry, "time")
			assert.Contains(t, entry, "level")
		})
	}

	t.Run("format text", func(t *testing.T) {
		var buf bytes.Buffer
		Setup("ledger", "0.3.1", "text", nil, &buf).Info("recorded")

		assert.Contains(t, buf.String(), "msg=recorded")
		assert.Contains(t, buf.String(), "service=ledger")
	})
}

func TestHandler_TraceCorrelation(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("b7ad6b7169203331")
	require.NoError(t, err)
	traced := trace.ContextWithSpanContext(context.Background(),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID}))

	tests := []struct {
		name      string
		ctx       context.Context
		wantTrace string
		wantSpan  string
	}{
		{"with span", traced, traceID.String(), spanID.String()},
		{"without span", context.Background(), "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			Setup("ledger", "0.3.1", "json", nil, &buf).InfoContext(tt.ctx, "stage")

			entry := decodeLine(t, &buf)
			if tt.wantTrace == "" {
				assert.Empty(t, entry["trace_id"])
				assert.Empty(t, entry["span_id"])
				return
			}
			assert.Equal(t, tt.wantTrace, entry["trace_id"])
			assert.Equal(t, tt.wantSpan, entry["span_id"])
		})
	}
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("ledger", "0.3.1", "json", slog.LevelWarn, &buf)

	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestSetDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	SetDefault("ledger", "0.3.1", "json", slog.LevelDebug)

	assert.NotSame(t, prev, slog.Default())
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
