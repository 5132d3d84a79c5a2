// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package api exposes action listing and the preview workflow over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/holomush/ledger/internal/observability"
	"github.com/holomush/ledger/internal/preview"
	"github.com/holomush/ledger/internal/store"
)

// Listing limits applied when a query sets none or asks for too many.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Server holds the API dependencies.
type Server struct {
	store   store.ActionStore
	engine  *preview.Engine
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records request counts and latency.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock overrides the time used for relative query times.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithTimeout bounds each request. Apply is exempt once it has started.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// NewServer creates a Server.
func NewServer(st store.ActionStore, engine *preview.Engine, opts ...Option) *Server {
	s := &Server{
		store:   st,
		engine:  engine,
		logger:  slog.Default(),
		now:     time.Now,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/actions", s.instrument("list", s.listActions))
		r.Get("/sources/suggest", s.instrument("suggest", s.suggestSources))

		r.Route("/actors/{actor}", func(r chi.Router) {
			r.Get("/preview", s.instrument("get_preview", s.getPreview))
			r.Post("/preview", s.instrument("stage", s.stage))
			r.Post("/apply", s.instrument("apply", s.apply))
			r.Post("/cancel", s.instrument("cancel", s.cancel))
		})
	})

	return r
}

// instrument counts requests per route and outcome status.
func (s *Server) instrument(route string, h func(http.ResponseWriter, *http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := h(w, r)
		if s.metrics != nil {
			s.metrics.RequestsTotal.WithLabelValues(route, status).Inc()
			s.metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
