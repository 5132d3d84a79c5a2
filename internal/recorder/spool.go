// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package recorder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/internal/store"
	"github.com/holomush/ledger/pkg/errutil"
)

// maxSpoolLine bounds one JSON action in the spool.
const maxSpoolLine = 16 << 20

// spool is an append-only JSONL file of actions awaiting storage.
type spool struct {
	path string
	mu   sync.Mutex
	file *os.File
}

func (s *spool) append(actions ...action.Action) error {
	var buf bytes.Buffer
	for i := range actions {
		data, err := json.Marshal(&actions[i])
		if err != nil {
			return oops.With("id", actions[i].ID.String()).Wrap(err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY|os.O_SYNC, 0o600)
		if err != nil {
			return oops.With("path", s.path).Wrap(err)
		}
		s.file = file
	}
	if _, err := s.file.Write(buf.Bytes()); err != nil {
		return oops.With("path", s.path).Wrap(err)
	}

	spoolEntriesGauge.Add(float64(len(actions)))
	return nil
}

// replay feeds every spooled action to record in file order.
func (s *spool) replay(ctx context.Context, logger *slog.Logger, record func(context.Context, action.Action) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.closeFile(); err != nil {
		return 0, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, oops.With("path", s.path).Wrap(err)
	}

	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxSpoolLine)
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			lines = append(lines, bytes.Clone(line))
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, oops.With("path", s.path).Wrapf(err, "read spool")
	}

	replayed := 0
	for i, line := range lines {
		var a action.Action
		if err := json.Unmarshal(line, &a); err != nil {
			logger.Error("dropping unreadable spool entry", "error", err, "line", i+1)
			failuresCounter.WithLabelValues("spool_unmarshal_failed").Inc()
			continue
		}

		err := record(ctx, a)
		switch {
		case err == nil:
			replayed++
		case errutil.Code(err) == store.CodeDuplicate:
			logger.Debug("spooled action already stored", "id", a.ID.String())
		case retriable(err):
			if rewriteErr := s.rewrite(lines[i:]); rewriteErr != nil {
				return replayed, errors.Join(err, rewriteErr)
			}
			failuresCounter.WithLabelValues("spool_replay_failed").Inc()
			return replayed, oops.With("replayed", replayed).With("remaining", len(lines)-i).Wrap(err)
		default:
			errutil.LogError(logger, "dropping rejected spool entry", err)
			failuresCounter.WithLabelValues("spool_replay_rejected").Inc()
		}
	}

	if err := os.Truncate(s.path, 0); err != nil {
		return replayed, oops.With("path", s.path).Wrap(err)
	}
	spoolEntriesGauge.Set(0)
	logger.Info("replayed spooled actions", "count", replayed, "entries", len(lines))
	return replayed, nil
}

// rewrite replaces the spool contents with lines. The caller holds mu.
func (s *spool) rewrite(lines [][]byte) error {
	tmp := s.path + ".tmp"
	data := append(bytes.Join(lines, []byte("\n")), '\n')
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return oops.With("path", tmp).Wrap(err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return oops.With("path", s.path).Wrap(err)
	}
	spoolEntriesGauge.Set(float64(len(lines)))
	return nil
}

func (s *spool) closeFile() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return oops.With("path", s.path).Wrap(err)
	}
	return nil
}

func (s *spool) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeFile()
}
