// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package preview

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultShards is the number of slot map shards when none is configured.
const DefaultShards = 64

// slot is one actor's staging area. lock is held for the whole of a
// stage, apply or cancel; preview is written only under lock but may be
// read without it.
type slot struct {
	lock    chan struct{}
	preview atomic.Pointer[Preview]
	refs    int // guarded by the owning shard's mu
}

type shard struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*slot
}

// slotMap hands out per-actor slots. Shard mutexes guard only map
// membership and reference counts and are never held across I/O.
type slotMap struct {
	shards []shard
}

func newSlotMap(n int) *slotMap {
	if n <= 0 {
		n = DefaultShards
	}
	m := &slotMap{shards: make([]shard, n)}
	for i := range m.shards {
		m.shards[i].slots = make(map[uuid.UUID]*slot)
	}
	return m
}

func (m *slotMap) shardFor(actor uuid.UUID) *shard {
	h := binary.BigEndian.Uint64(actor[8:]) ^ binary.BigEndian.Uint64(actor[:8])
	return &m.shards[h%uint64(len(m.shards))]
}

// acquire takes the actor's slot lock, waiting until it is free or ctx is
// done. The returned release must be called exactly once.
func (m *slotMap) acquire(ctx context.Context, actor uuid.UUID) (*slot, func(), error) {
	sh := m.shardFor(actor)

	sh.mu.Lock()
	s, ok := sh.slots[actor]
	if !ok {
		s = &slot{lock: make(chan struct{}, 1)}
		sh.slots[actor] = s
	}
	s.refs++
	sh.mu.Unlock()

	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		m.unref(sh, actor, s)
		return nil, nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-s.lock
			m.unref(sh, actor, s)
		})
	}
	return s, release, nil
}

// unref drops a reference and forgets slots that are unused and empty.
func (m *slotMap) unref(sh *shard, actor uuid.UUID, s *slot) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s.refs--
	if s.refs == 0 && s.preview.Load() == nil {
		delete(sh.slots, actor)
	}
}

// peek returns the actor's preview without waiting for the slot lock.
func (m *slotMap) peek(actor uuid.UUID) *Preview {
	sh := m.shardFor(actor)
	sh.mu.Lock()
	s, ok := sh.slots[actor]
	sh.mu.Unlock()
	if !ok {
		return nil
	}
	return s.preview.Load()
}

// len counts slots currently in the map.
func (m *slotMap) len() int {
	n := 0
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		n += len(sh.slots)
		sh.mu.Unlock()
	}
	return n
}
