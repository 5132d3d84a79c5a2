// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/internal/query"
)

// MemoryActionStore is an in-memory ActionStore for tests and ephemeral
// servers.
type MemoryActionStore struct {
	mu      sync.RWMutex
	actions []action.Action
	index   map[ulid.ULID]int
	closed  bool
}

// NewMemoryActionStore creates an empty store.
func NewMemoryActionStore() *MemoryActionStore {
	return &MemoryActionStore{index: make(map[ulid.ULID]int)}
}

// Record appends a copy of a.
func (s *MemoryActionStore) Record(ctx context.Context, a action.Action) error {
	return s.RecordBatch(ctx, []action.Action{a})
}

// RecordBatch appends copies of actions, all or nothing.
func (s *MemoryActionStore) RecordBatch(_ context.Context, actions []action.Action) error {
	if err := validateBatch(actions); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return oops.Code(CodeStorageError).With("operation", "record").Errorf("store is closed")
	}

	seen := make(map[ulid.ULID]struct{}, len(actions))
	for _, a := range actions {
		_, dup := seen[a.ID]
		if _, exists := s.index[a.ID]; exists || dup {
			return oops.Code(CodeDuplicate).
				With("operation", "record").
				With("id", a.ID.String()).
				Errorf("action already recorded")
		}
		seen[a.ID] = struct{}{}
	}
	for _, a := range actions {
		s.index[a.ID] = len(s.actions)
		s.actions = append(s.actions, a.Clone())
	}
	return nil
}

// Query returns copies of the matching actions.
func (s *MemoryActionStore) Query(ctx context.Context, params query.SearchParams) ([]action.Action, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, oops.Code(CodeStorageError).With("operation", "query").Wrap(err)
	}

	s.mu.RLock()
	var out []action.Action
	for i := range s.actions {
		if params.Matches(&s.actions[i]) {
			out = append(out, s.actions[i].Clone())
		}
	}
	s.mu.RUnlock()

	sortActions(out, params.Order)
	return page(out, params.Offset, params.Limit), nil
}

// SetRolledBack updates the flag in place.
func (s *MemoryActionStore) SetRolledBack(_ context.Context, ids []ulid.ULID, rolledBack bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return oops.Code(CodeStorageError).With("operation", "set rolled back").Errorf("store is closed")
	}
	for _, id := range ids {
		if i, ok := s.index[id]; ok {
			s.actions[i].RolledBack = rolledBack
		}
	}
	return nil
}

// PlayerNames lists distinct player names, sorted.
func (s *MemoryActionStore) PlayerNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for i := range s.actions {
		if p := s.actions[i].SourceProfile; p != nil && p.Name != "" {
			names = append(names, p.Name)
		}
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

// Len returns the number of stored actions.
func (s *MemoryActionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actions)
}

// Close marks the store closed; later writes fail.
func (s *MemoryActionStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
