// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store persists actions and answers SearchParams queries.
package store

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/internal/query"
	"github.com/holomush/ledger/pkg/errutil"
)

// Storage error codes.
const (
	CodeStorageError  = "STORAGE_ERROR"
	CodeSchemaMissing = "STORAGE_SCHEMA_MISSING"
	CodeDuplicate     = "STORAGE_DUPLICATE"
)

// ActionStore is the durable action log.
//
// Each Record is atomic: readers see a whole action or none of it.
// Query results are ordered by (time, id) in the requested direction.
type ActionStore interface {
	Record(ctx context.Context, a action.Action) error
	// RecordBatch stores every action or none of them.
	RecordBatch(ctx context.Context, actions []action.Action) error
	Query(ctx context.Context, params query.SearchParams) ([]action.Action, error)
	// SetRolledBack sets the flag on the given actions. Unknown IDs are ignored.
	SetRolledBack(ctx context.Context, ids []ulid.ULID, rolledBack bool) error
	Close() error
}

// PlayerDirectory lists the player names that appear in the log, for
// source suggestions.
type PlayerDirectory interface {
	PlayerNames(ctx context.Context) ([]string, error)
}

// IsStorageError reports whether err came from a storage backend.
func IsStorageError(err error) bool {
	return strings.HasPrefix(errutil.Code(err), "STORAGE_")
}

// wrapErr codes a backend failure. PostgreSQL errors are classified so
// callers can tell a missing schema or a duplicate ID from an outage.
func wrapErr(operation string, err error) error {
	code := CodeStorageError
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UndefinedTable:
			code = CodeSchemaMissing
		case pgerrcode.UniqueViolation:
			code = CodeDuplicate
		}
	}
	return oops.Code(code).With("operation", operation).Wrap(err)
}

// sortActions orders actions by (time, id).
func sortActions(actions []action.Action, order query.Order) {
	slices.SortFunc(actions, func(a, b action.Action) int {
		c := a.Time.Compare(b.Time)
		if c == 0 {
			c = a.ID.Compare(b.ID)
		}
		if order == query.Descending {
			return -c
		}
		return c
	})
}

// page applies offset and limit to an ordered result.
func page(actions []action.Action, offset, limit int) []action.Action {
	if offset >= len(actions) {
		return nil
	}
	actions = actions[offset:]
	if limit > 0 && limit < len(actions) {
		actions = actions[:limit]
	}
	return actions
}

func validateBatch(actions []action.Action) error {
	for i := range actions {
		if err := actions[i].Validate(); err != nil {
			return oops.With("index", i).Wrap(err)
		}
	}
	return nil
}
