// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/internal/query"
)

// poolIface is the subset of *pgxpool.Pool the store uses, so tests can
// substitute pgxmock.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

const insertAction = `INSERT INTO actions (
	id, kind, time, world, x, y, z, object_id, old_object_id,
	block_state, old_block_state, source_name, player_id, player_name,
	extra_data, rolled_back
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

const selectColumns = `id, kind, time, world, x, y, z, object_id, old_object_id,
	block_state, old_block_state, source_name, player_id::text, player_name,
	extra_data, rolled_back`

// PostgresActionStore implements ActionStore using PostgreSQL.
type PostgresActionStore struct {
	pool poolIface
}

// NewPostgresActionStore wraps an existing pool.
func NewPostgresActionStore(pool poolIface) *PostgresActionStore {
	return &PostgresActionStore{pool: pool}
}

// Connect opens a pool and pings it, retrying with exponential backoff up
// to retries extra attempts while the database is unreachable.
func Connect(ctx context.Context, dsn string, retries uint64) (*PostgresActionStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code(CodeStorageError).With("operation", "parse dsn").Wrap(err)
	}

	var pool *pgxpool.Pool
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(250*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return retry.RetryableError(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return retry.RetryableError(err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, wrapErr("connect", err)
	}
	return &PostgresActionStore{pool: pool}, nil
}

// Record inserts one action.
func (s *PostgresActionStore) Record(ctx context.Context, a action.Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	args, err := insertArgs(&a)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertAction, args...); err != nil {
		return oops.With("id", a.ID.String()).Wrap(wrapErr("record", err))
	}
	return nil
}

// RecordBatch inserts actions in one transaction.
func (s *PostgresActionStore) RecordBatch(ctx context.Context, actions []action.Action) error {
	if len(actions) == 0 {
		return nil
	}
	if err := validateBatch(actions); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapErr("begin batch", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) //nolint:errcheck // no-op after commit
	}()

	for i := range actions {
		args, err := insertArgs(&actions[i])
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertAction, args...); err != nil {
			return oops.With("id", actions[i].ID.String()).Wrap(wrapErr("record batch", err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapErr("commit batch", err)
	}
	return nil
}

// Query runs the SQL form of params. Filters that SQL cannot express are
// applied afterwards, in which case pagination is applied in Go too.
func (s *PostgresActionStore) Query(ctx context.Context, params query.SearchParams) ([]action.Action, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	q := buildQuery(params)
	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, wrapErr("query", err)
	}
	defer rows.Close()

	var actions []action.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		if q.postFilter && !params.Matches(&a) {
			continue
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate actions", err)
	}

	if q.postFilter {
		actions = page(actions, params.Offset, params.Limit)
	}
	return actions, nil
}

// SetRolledBack updates the flag for ids in one statement.
func (s *PostgresActionStore) SetRolledBack(ctx context.Context, ids []ulid.ULID, rolledBack bool) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE actions SET rolled_back = $1 WHERE id = ANY($2)`,
		rolledBack, keys); err != nil {
		return oops.With("count", len(ids)).Wrap(wrapErr("set rolled back", err))
	}
	return nil
}

// PlayerNames lists distinct player names, sorted.
func (s *PostgresActionStore) PlayerNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT player_name FROM actions WHERE player_name IS NOT NULL ORDER BY player_name`)
	if err != nil {
		return nil, wrapErr("list players", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrapErr("scan players", err)
	}
	return names, nil
}

// Close closes the pool.
func (s *PostgresActionStore) Close() error {
	s.pool.Close()
	return nil
}

func insertArgs(a *action.Action) ([]any, error) {
	blockState, err := marshalState(a.BlockState)
	if err != nil {
		return nil, err
	}
	oldBlockState, err := marshalState(a.OldBlockState)
	if err != nil {
		return nil, err
	}

	var oldObject, playerID, playerName *string
	if a.OldObject != nil {
		s := string(*a.OldObject)
		oldObject = &s
	}
	if p := a.SourceProfile; p != nil {
		id, name := p.ID.String(), p.Name
		playerID, playerName = &id, &name
	}

	return []any{
		a.ID.String(), string(a.Kind), a.Time, string(a.World),
		a.Pos.X, a.Pos.Y, a.Pos.Z,
		string(a.Object), oldObject,
		blockState, oldBlockState,
		a.SourceName, playerID, playerName,
		a.ExtraData, a.RolledBack,
	}, nil
}

func marshalState(st *action.BlockState) ([]byte, error) {
	if st == nil {
		return nil, nil
	}
	b, err := json.Marshal(st)
	if err != nil {
		return nil, oops.Code(CodeStorageError).With("operation", "encode block state").Wrap(err)
	}
	return b, nil
}

func scanAction(rows pgx.Rows) (action.Action, error) {
	var (
		a                           action.Action
		id, kind, world, object     string
		oldObject, playerID, player *string
		blockState, oldBlockState   []byte
	)
	if err := rows.Scan(&id, &kind, &a.Time, &world, &a.Pos.X, &a.Pos.Y, &a.Pos.Z,
		&object, &oldObject, &blockState, &oldBlockState,
		&a.SourceName, &playerID, &player, &a.ExtraData, &a.RolledBack); err != nil {
		return action.Action{}, wrapErr("scan action", err)
	}

	parsed, err := ulid.Parse(id)
	if err != nil {
		return action.Action{}, oops.Code(CodeStorageError).
			With("operation", "parse action id").
			With("id", id).
			Wrap(err)
	}
	a.ID = parsed
	a.Kind = action.Kind(kind)
	a.World = action.Identifier(world)
	a.Object = action.Identifier(object)
	a.Time = a.Time.UTC()
	if oldObject != nil {
		o := action.Identifier(*oldObject)
		a.OldObject = &o
	}
	if playerID != nil {
		pid, err := uuid.Parse(*playerID)
		if err != nil {
			return action.Action{}, oops.Code(CodeStorageError).
				With("operation", "parse player id").
				With("id", id).
				Wrap(err)
		}
		a.SourceProfile = &action.Profile{ID: pid}
		if player != nil {
			a.SourceProfile.Name = *player
		}
	}
	if a.BlockState, err = unmarshalState(blockState); err != nil {
		return action.Action{}, oops.With("id", id).Wrap(err)
	}
	if a.OldBlockState, err = unmarshalState(oldBlockState); err != nil {
		return action.Action{}, oops.With("id", id).Wrap(err)
	}
	return a, nil
}

func unmarshalState(b []byte) (*action.BlockState, error) {
	if b == nil {
		return nil, nil
	}
	var st action.BlockState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, oops.Code(CodeStorageError).With("operation", "decode block state").Wrap(err)
	}
	return &st, nil
}
