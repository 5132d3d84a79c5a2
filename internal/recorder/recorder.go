// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package recorder writes captured actions to the action store.
//
// Record writes synchronously. Enqueue hands actions to a background
// batcher for the host hot path. Either way, an action the store could
// not take is appended to a spool file and replayed later with its
// original ID.
package recorder

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/internal/store"
	"github.com/holomush/ledger/internal/xdg"
	"github.com/holomush/ledger/pkg/errutil"
)

// CodeQueueFull is returned by Enqueue when the queue has no room.
const CodeQueueFull = "QUEUE_FULL"

// Defaults for zero Options fields.
const (
	DefaultQueueSize   = 1024
	DefaultBatchSize   = 128
	DefaultFlushPeriod = 200 * time.Millisecond
)

var (
	queueFullCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_recorder_queue_full_total",
		Help: "Total number of actions rejected because the queue was full",
	})

	recordedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_recorder_actions_total",
		Help: "Total number of actions handled by the recorder",
	}, []string{"outcome"})

	failuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_recorder_failures_total",
		Help: "Total number of recorder failures",
	}, []string{"reason"})

	spoolEntriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_recorder_spool_entries",
		Help: "Current number of actions waiting in the spool",
	})
)

// Outcome labels for recordedCounter.
const (
	outcomeStored  = "stored"
	outcomeSpooled = "spooled"
	outcomeDropped = "dropped"
)

// Options configures a Recorder.
type Options struct {
	QueueSize   int
	BatchSize   int
	FlushPeriod time.Duration
	// SpoolPath is the write-ahead file. Empty means spool.jsonl in the
	// XDG state directory.
	SpoolPath string
	Logger    *slog.Logger
}

// Recorder feeds actions to a store.
type Recorder struct {
	store       store.ActionStore
	spool       *spool
	batchSize   int
	flushPeriod time.Duration
	logger      *slog.Logger

	// mu guards closed against Enqueue racing Close.
	mu     sync.RWMutex
	closed bool
	queue  chan action.Action
	stop   chan struct{}
	wg     sync.WaitGroup
}

// DefaultSpoolPath returns spool.jsonl in the XDG state directory,
// creating the directory.
func DefaultSpoolPath() (string, error) {
	dir, err := xdg.StateDir()
	if err != nil {
		return "", err
	}
	if err := xdg.EnsureDir(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, "spool.jsonl"), nil
}

// New creates a Recorder and starts its batcher. Close must be called to
// stop it.
func New(s store.ActionStore, opts Options) (*Recorder, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushPeriod <= 0 {
		opts.FlushPeriod = DefaultFlushPeriod
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SpoolPath == "" {
		path, err := DefaultSpoolPath()
		if err != nil {
			return nil, oops.Wrapf(err, "resolve spool path")
		}
		opts.SpoolPath = path
	}

	r := &Recorder{
		store:       s,
		spool:       &spool{path: opts.SpoolPath},
		batchSize:   opts.BatchSize,
		flushPeriod: opts.FlushPeriod,
		logger:      opts.Logger,
		queue:       make(chan action.Action, opts.QueueSize),
		stop:        make(chan struct{}),
	}

	r.wg.Add(1)
	go r.run()

	return r, nil
}

// Record stores a synchronously. If the store is unavailable the action
// is spooled and the storage error is still returned, with spooled=true
// in its context. Invalid actions and duplicates are returned as is.
func (r *Recorder) Record(ctx context.Context, a action.Action) error {
	err := r.store.Record(ctx, a)
	if err == nil {
		recordedCounter.WithLabelValues(outcomeStored).Inc()
		return nil
	}
	if !retriable(err) {
		recordedCounter.WithLabelValues(outcomeDropped).Inc()
		return err
	}

	if spoolErr := r.spool.append(a); spoolErr != nil {
		r.logger.ErrorContext(ctx, "action lost: store and spool both failed",
			"store_error", err,
			"spool_error", spoolErr,
			"id", a.ID.String(),
			"kind", string(a.Kind),
		)
		failuresCounter.WithLabelValues("spool_failed").Inc()
		recordedCounter.WithLabelValues(outcomeDropped).Inc()
		return oops.With("spooled", false).With("id", a.ID.String()).Wrap(err)
	}
	recordedCounter.WithLabelValues(outcomeSpooled).Inc()
	return oops.With("spooled", true).With("id", a.ID.String()).Wrap(err)
}

// Enqueue hands a to the background batcher without blocking. It fails
// with QUEUE_FULL when the queue has no room; the caller may fall back to
// Record.
func (r *Recorder) Enqueue(a action.Action) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return oops.Code(store.CodeStorageError).With("id", a.ID.String()).Errorf("recorder is closed")
	}

	select {
	case r.queue <- a:
		return nil
	default:
		queueFullCounter.Inc()
		return oops.Code(CodeQueueFull).
			With("id", a.ID.String()).
			With("capacity", cap(r.queue)).
			Errorf("recorder queue is full")
	}
}

// run batches queued actions until Close.
func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushPeriod)
	defer ticker.Stop()

	batch := make([]action.Action, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.writeBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case a := <-r.queue:
			batch = append(batch, a)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.stop:
			for {
				select {
				case a := <-r.queue:
					batch = append(batch, a)
					if len(batch) >= r.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// writeBatch stores a batch in one call. An outage spools the whole
// batch; any other rejection falls back to one Record per action so a
// single bad action does not take the rest down with it.
func (r *Recorder) writeBatch(batch []action.Action) {
	ctx := context.Background()
	err := r.store.RecordBatch(ctx, batch)
	if err == nil {
		recordedCounter.WithLabelValues(outcomeStored).Add(float64(len(batch)))
		return
	}

	if !retriable(err) {
		for _, a := range batch {
			if err := r.Record(ctx, a); err != nil {
				errutil.LogError(r.logger, "queued action not stored", err)
			}
		}
		return
	}

	if spoolErr := r.spool.append(batch...); spoolErr != nil {
		r.logger.Error("batch lost: store and spool both failed",
			"store_error", err,
			"spool_error", spoolErr,
			"count", len(batch),
		)
		failuresCounter.WithLabelValues("spool_failed").Inc()
		recordedCounter.WithLabelValues(outcomeDropped).Add(float64(len(batch)))
		return
	}
	errutil.LogError(r.logger, "batch spooled after store failure", err)
	recordedCounter.WithLabelValues(outcomeSpooled).Add(float64(len(batch)))
}

// ReplaySpool re-records spooled actions with their original IDs and
// returns how many were stored. Actions the store already has are
// dropped from the spool. If the store fails part way, the unreplayed
// tail stays in the spool and the error is returned.
func (r *Recorder) ReplaySpool(ctx context.Context) (int, error) {
	return r.spool.replay(ctx, r.logger, func(ctx context.Context, a action.Action) error {
		return r.store.Record(ctx, a)
	})
}

// Close stops accepting actions, flushes the queue and closes the spool.
// The store is left open.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stop)
	r.wg.Wait()

	return r.spool.close()
}

// retriable reports whether err is an outage worth spooling for, as
// opposed to a rejection of the action itself.
func retriable(err error) bool {
	switch errutil.Code(err) {
	case store.CodeStorageError, store.CodeSchemaMissing:
		return true
	}
	return false
}
