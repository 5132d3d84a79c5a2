// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package badgerstore is an embedded ActionStore on Badger, for single
// node deployments without PostgreSQL.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"slices"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/internal/query"
	"github.com/holomush/ledger/internal/store"
)

// Key layout:
//
//	a/<time:8><id:16>  JSON action, iterated in (time, id) order
//	i/<id:16>          primary key of the action with that id
var (
	actionPrefix = []byte("a/")
	indexPrefix  = []byte("i/")
)

// Options configures Open.
type Options struct {
	// Path is the database directory. Empty means in-memory.
	Path string
}

// Store implements store.ActionStore on Badger.
type Store struct {
	db *badger.DB
}

// Open opens or creates the database.
func Open(opts Options) (*Store, error) {
	var bo badger.Options
	if opts.Path == "" {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, oops.Code(store.CodeStorageError).With("operation", "create data dir").With("path", opts.Path).Wrap(err)
		}
		bo = badger.DefaultOptions(opts.Path)
	}
	bo = bo.WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(bo)
	if err != nil {
		return nil, oops.Code(store.CodeStorageError).With("operation", "open").With("path", opts.Path).Wrap(err)
	}
	return &Store{db: db}, nil
}

// timeKey maps t to a uint64 whose big-endian bytes sort like t, pre-1970
// instants included: flipping the sign bit moves negative nanoseconds
// below positive ones.
func timeKey(t time.Time) uint64 {
	return uint64(t.UnixNano()) ^ (1 << 63) //nolint:gosec // two's complement bias, not a range conversion
}

func primaryKey(a *action.Action) []byte {
	k := make([]byte, 0, len(actionPrefix)+8+16)
	k = append(k, actionPrefix...)
	k = binary.BigEndian.AppendUint64(k, timeKey(a.Time))
	return append(k, a.ID[:]...)
}

func indexKey(id ulid.ULID) []byte {
	return append(slices.Clone(indexPrefix), id[:]...)
}

// Record stores one action.
func (s *Store) Record(ctx context.Context, a action.Action) error {
	return s.RecordBatch(ctx, []action.Action{a})
}

// RecordBatch stores actions in one transaction.
func (s *Store) RecordBatch(_ context.Context, actions []action.Action) error {
	for i := range actions {
		if err := actions[i].Validate(); err != nil {
			return oops.With("index", i).Wrap(err)
		}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for i := range actions {
			a := &actions[i]
			ik := indexKey(a.ID)
			if _, err := txn.Get(ik); err == nil {
				return oops.Code(store.CodeDuplicate).With("id", a.ID.String()).Errorf("action already recorded")
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			data, err := json.Marshal(a)
			if err != nil {
				return err
			}
			pk := primaryKey(a)
			if err := txn.Set(pk, data); err != nil {
				return err
			}
			if err := txn.Set(ik, pk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if store.IsStorageError(err) {
			return err
		}
		return oops.Code(store.CodeStorageError).With("operation", "record").Wrap(err)
	}
	return nil
}

// Query scans actions in order, filtering in Go. A lower time bound seeks
// past older keys in ascending scans.
func (s *Store) Query(ctx context.Context, params query.SearchParams) ([]action.Action, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var out []action.Action
	skipped := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = actionPrefix
		opts.Reverse = params.Order == query.Descending
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seekKey(params)); it.ValidForPrefix(actionPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var a action.Action
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return err
			}
			if !params.Matches(&a) {
				continue
			}
			if skipped < params.Offset {
				skipped++
				continue
			}
			out = append(out, a)
			if params.Limit > 0 && len(out) == params.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, oops.Code(store.CodeStorageError).With("operation", "query").Wrap(err)
	}
	return out, nil
}

func seekKey(p query.SearchParams) []byte {
	if p.Order == query.Descending {
		k := slices.Clone(actionPrefix)
		if p.Before != nil {
			return binary.BigEndian.AppendUint64(k, timeKey(*p.Before))
		}
		return append(k, bytes.Repeat([]byte{0xff}, 24)...)
	}
	if p.After != nil {
		return binary.BigEndian.AppendUint64(slices.Clone(actionPrefix), timeKey(*p.After))
	}
	return actionPrefix
}

// SetRolledBack rewrites the flag on each known action.
func (s *Store) SetRolledBack(_ context.Context, ids []ulid.ULID, rolledBack bool) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(indexKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			pk, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			item, err = txn.Get(pk)
			if err != nil {
				return err
			}
			var a action.Action
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &a) }); err != nil {
				return err
			}
			a.RolledBack = rolledBack
			data, err := json.Marshal(&a)
			if err != nil {
				return err
			}
			if err := txn.Set(pk, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return oops.Code(store.CodeStorageError).With("operation", "set rolled back").With("count", len(ids)).Wrap(err)
	}
	return nil
}

// PlayerNames lists distinct player names, sorted.
func (s *Store) PlayerNames(ctx context.Context) ([]string, error) {
	actions, err := s.Query(ctx, query.SearchParams{
		Sources: query.Filter[string]{Include: []string{query.LabelMarker + action.PlayerSource}},
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(actions))
	for i := range actions {
		if p := actions[i].SourceProfile; p != nil && p.Name != "" {
			names = append(names, p.Name)
		}
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return oops.Code(store.CodeStorageError).With("operation", "close").Wrap(err)
	}
	return nil
}
