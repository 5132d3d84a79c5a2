// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/ledger/internal/store"
	"github.com/holomush/ledger/internal/store/storetest"
)

// startPostgresContainer starts a PostgreSQL container for testing.
func startPostgresContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func migrationVersion(ctx context.Context, connStr string) (int, bool, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return 0, false, err
	}
	defer conn.Close(ctx)

	var version int
	var dirty bool
	err = conn.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	return version, dirty, err
}

func realMigrator(url string) (Migrator, error) {
	m, err := store.NewMigrator(url)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func TestAutoMigrate_Integration_IdempotentOnRerun(t *testing.T) {
	ctx := context.Background()
	connStr := startPostgresContainer(t)

	require.NoError(t, runAutoMigration(connStr, realMigrator))
	first, dirty, err := migrationVersion(ctx, connStr)
	require.NoError(t, err)
	assert.Greater(t, first, 0)
	assert.False(t, dirty)

	require.NoError(t, runAutoMigration(connStr, realMigrator))
	second, dirty, err := migrationVersion(ctx, connStr)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.False(t, dirty)
}

func TestCLI_Integration_MigrateAndSearch(t *testing.T) {
	isolate(t)
	ctx := context.Background()
	connStr := startPostgresContainer(t)

	out, err := execute(t, nil, "migrate", "status", "--dsn", connStr)
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 0")

	out, err = execute(t, nil, "migrate", "up", "--dsn", connStr)
	require.NoError(t, err)
	assert.Contains(t, out, "Migrations applied")

	s, err := store.Connect(ctx, connStr, 3)
	require.NoError(t, err)
	require.NoError(t, s.RecordBatch(ctx, storetest.Seed()))
	require.NoError(t, s.Close())

	out, err = execute(t, nil, "search", "--dsn", connStr, "source:Steve")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 3, out)

	out, err = execute(t, nil, "migrate", "down", "--dsn", connStr)
	require.NoError(t, err)
	assert.Contains(t, out, "Migrations reverted")
}
