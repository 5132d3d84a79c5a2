// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/samber/oops"

	"github.com/holomush/ledger/internal/config"
	"github.com/holomush/ledger/internal/store"
	"github.com/holomush/ledger/internal/store/badgerstore"
)

// openStore opens the action store named by cfg.Driver.
func openStore(ctx context.Context, cfg config.StorageConfig) (store.ActionStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := store.Connect(ctx, cfg.DSN, cfg.ConnectRetries)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverBadger:
		s, err := badgerstore.Open(badgerstore.Options{Path: cfg.Path})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		return store.NewMemoryActionStore(), nil
	default:
		return nil, oops.Code(config.CodeInvalid).With("driver", cfg.Driver).Errorf("unknown storage driver")
	}
}
