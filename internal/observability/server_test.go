// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", ready)
	_, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	require.NotEmpty(t, server.Addr())
	return server
}

func get(t *testing.T, server *Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + server.Addr() + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func readinessOf(t *testing.T, server *Server) (int, readiness) {
	t.Helper()
	status, body := get(t, server, "/healthz/readiness")
	var out readiness
	require.NoError(t, json.Unmarshal([]byte(body), &out), body)
	return status, out
}

func TestServer_Metrics(t *testing.T) {
	server := startServer(t, func() bool { return true })

	m := server.Metrics()
	m.RequestsTotal.WithLabelValues("apply", "partial").Inc()
	m.RequestsTotal.WithLabelValues("apply", "partial").Inc()
	m.RequestsTotal.WithLabelValues("stage", "ok").Inc()
	m.RequestDuration.WithLabelValues("stage").Observe(0.01)

	status, body := get(t, server, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "# TYPE")
	assert.Contains(t, body, "go_", "default registry collectors are served too")
	assert.Contains(t, body, `ledger_http_requests_total{route="apply",status="partial"} 2`)
	assert.Contains(t, body, `ledger_http_requests_total{route="stage",status="ok"} 1`)
	assert.Contains(t, body, "ledger_http_request_duration_seconds")
}

func TestServer_Liveness(t *testing.T) {
	server := startServer(t, func() bool { return false })

	status, body := get(t, server, "/healthz/liveness")
	assert.Equal(t, http.StatusOK, status, "liveness ignores readiness")
	assert.Equal(t, "ok\n", body)
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		ready      ReadinessChecker
		checks     map[string]Check
		wantStatus int
		wantBody   readiness
	}{
		{
			name:       "nil checker",
			wantStatus: http.StatusOK,
			wantBody:   readiness{Status: "ok"},
		},
		{
			name:       "not ready",
			ready:      func() bool { return false },
			checks:     map[string]Check{"store": func(context.Context) error { return nil }},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   readiness{Status: "not ready"},
		},
		{
			name:  "checks pass",
			ready: func() bool { return true },
			checks: map[string]Check{
				"store": func(context.Context) error { return nil },
				"spool": func(context.Context) error { return nil },
			},
			wantStatus: http.StatusOK,
			wantBody:   readiness{Status: "ok", Checks: map[string]string{"store": "ok", "spool": "ok"}},
		},
		{
			name:  "one check fails",
			ready: func() bool { return true },
			checks: map[string]Check{
				"store": func(context.Context) error { return errors.New("connection refused") },
				"spool": func(context.Context) error { return nil },
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   readiness{Status: "unavailable", Checks: map[string]string{"store": "connection refused", "spool": "ok"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := startServer(t, tt.ready)
			for name, check := range tt.checks {
				server.AddCheck(name, check)
			}

			status, body := readinessOf(t, server)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestServer_ReadinessCheckTimesOut(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	server.checkTimeout = 20 * time.Millisecond
	server.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	_, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	status, body := readinessOf(t, server)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, context.DeadlineExceeded.Error(), body.Checks["slow"])
}

func TestServer_AddCheckReplaces(t *testing.T) {
	server := startServer(t, nil)
	server.AddCheck("store", func(context.Context) error { return errors.New("down") })
	server.AddCheck("store", func(context.Context) error { return nil })

	status, body := readinessOf(t, server)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]string{"store": "ok"}, body.Checks)
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := startServer(t, nil)

	_, err := server.Start()
	require.Error(t, err)
}

func TestServer_StopIdempotent(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, server.Stop(ctx), "stop without start")
	_, err := server.Start()
	require.NoError(t, err)
	require.NoError(t, server.Stop(ctx))
	require.NoError(t, server.Stop(ctx))
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	errCh, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Stop(context.Background()) })

	// Closing the listener under the server makes Serve fail.
	_ = server.listener.Close()

	select {
	case serveErr := <-errCh:
		require.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("serve error was not reported")
	}
}

func TestServer_ErrorChannelClosesOnShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	errCh, err := server.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))

	select {
	case err, ok := <-errCh:
		assert.False(t, ok && err != nil, "unexpected error on shutdown: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("error channel was not closed")
	}
}
