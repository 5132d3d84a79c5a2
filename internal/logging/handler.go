// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package logging provides structured logging with OpenTelemetry trace context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
)

// traceHandler stamps every record with the service identity and, when
// the context carries a span, its trace and span IDs.
type traceHandler struct {
	next     slog.Handler
	identity []slog.Attr
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.identity...)

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.next.Handle(ctx, r)
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.wrap(h.next.WithAttrs(attrs))
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return h.wrap(h.next.WithGroup(name))
}

func (h *traceHandler) wrap(next slog.Handler) *traceHandler {
	return &traceHandler{next: next, identity: h.identity}
}

// ParseLevel reads a level name: debug, info, warn or error. Empty is info.
func ParseLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, oops.With("level", s).Wrapf(err, "invalid log level")
	}
	return level, nil
}

// Setup builds a logger writing format ("text", otherwise JSON) to w.
// A nil level logs everything from debug up; a nil w writes to stderr.
func Setup(service, version, format string, level slog.Leveler, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if level == nil {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var next slog.Handler = slog.NewJSONHandler(w, opts)
	if format == "text" {
		next = slog.NewTextHandler(w, opts)
	}

	identity := []slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	}
	return slog.New(&traceHandler{next: next, identity: identity})
}

// SetDefault installs a stderr logger as the slog default and returns it.
func SetDefault(service, version, format string, level slog.Leveler) *slog.Logger {
	logger := Setup(service, version, format, level, nil)
	slog.SetDefault(logger)
	return logger
}
