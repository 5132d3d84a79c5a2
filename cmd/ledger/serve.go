// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/ledger/internal/action"
	"github.com/holomush/ledger/internal/api"
	"github.com/holomush/ledger/internal/config"
	"github.com/holomush/ledger/internal/preview"
	"github.com/holomush/ledger/internal/query"
	"github.com/holomush/ledger/internal/recorder"
	"github.com/holomush/ledger/internal/world"
	"github.com/holomush/ledger/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// serveOptions holds flags local to the serve command.
type serveOptions struct {
	seedDemo bool
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return newServeCmd(nil)
}

func newServeCmd(deps *Deps) *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the action log with its HTTP API",
		Long: `Run the recorder, the preview engine and the HTTP API over the
configured action store. Mutations are applied to the in-process
reference world.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, "ledger")
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cmd, cfg, logger, opts, deps)
		},
	}

	cmd.Flags().BoolVar(&opts.seedDemo, "seed-demo", false, "record a small demo history in the reference world at startup")

	return cmd
}

// runServe runs until a signal arrives, ctx is cancelled or a server fails.
// If deps is nil, default implementations are used.
func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, opts serveOptions, deps *Deps) error {
	deps = deps.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("starting ledger",
		"storage", cfg.Storage.Driver,
		"http_addr", cfg.HTTP.Addr,
	)

	if cfg.Storage.Driver == config.DriverPostgres && cfg.Storage.AutoMigrate {
		if err := runAutoMigration(cfg.Storage.DSN, deps.MigratorFactory); err != nil {
			return err
		}
		logger.Info("schema migrations applied")
	}

	st, err := deps.StoreOpener(ctx, cfg.Storage)
	if err != nil {
		return oops.With("operation", "open store").Wrap(err)
	}
	defer closeLogged(logger, "store", st.Close)

	rec, err := recorder.New(st, recorder.Options{
		QueueSize:   cfg.Recorder.QueueSize,
		BatchSize:   cfg.Recorder.BatchSize,
		FlushPeriod: cfg.Recorder.FlushPeriod,
		SpoolPath:   cfg.Recorder.SpoolPath,
		Logger:      logger,
	})
	if err != nil {
		return oops.With("operation", "start recorder").Wrap(err)
	}
	defer closeLogged(logger, "recorder", rec.Close)

	if n, err := rec.ReplaySpool(ctx); err != nil {
		errutil.LogError(logger, "spool replay failed, will retry on next start", err)
	} else if n > 0 {
		logger.Info("replayed spooled actions", "count", n)
	}

	host := world.NewMemoryWorld(action.NewFactory(action.WithLogger(logger)), rec)
	if opts.seedDemo {
		if err := seedDemo(ctx, host); err != nil {
			return oops.With("operation", "seed demo").Wrap(err)
		}
		logger.Info("seeded demo history")
	}

	engine := preview.NewEngine(st, host,
		preview.WithShards(cfg.Preview.Shards),
		preview.WithTTL(cfg.Preview.TTL),
		preview.WithLogger(logger),
	)

	var ready atomic.Bool
	apiOpts := []api.Option{api.WithLogger(logger)}

	if cfg.Metrics.Addr != "" {
		obsServer := deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.With("addr", cfg.Metrics.Addr).Wrapf(err, "start observability server")
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := obsServer.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		obsServer.AddCheck("store", func(ctx context.Context) error {
			_, err := st.Query(ctx, query.SearchParams{Limit: 1})
			return err
		})
		apiOpts = append(apiOpts, api.WithMetrics(obsServer.Metrics()))
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	listener, err := deps.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.With("addr", cfg.HTTP.Addr).Wrapf(err, "listen")
	}

	httpServer := &http.Server{
		Handler:           api.NewServer(st, engine, apiOpts...).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ready.Store(true)
	cmd.Println("Ledger started")
	logger.Info("ledger ready", "http_addr", listener.Addr().String())

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		serveErr = oops.With("addr", cfg.HTTP.Addr).Wrapf(err, "http server")
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}

	logger.Info("shutdown complete")
	return serveErr
}

// runAutoMigration brings the schema up to date. Already current is fine.
func runAutoMigration(dsn string, factory func(string) (Migrator, error)) error {
	m, err := factory(dsn)
	if err != nil {
		return oops.With("operation", "auto-migrate").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := m.Up(); err != nil {
		return oops.With("operation", "auto-migrate").Wrap(err)
	}
	return nil
}

// monitorServerErrors cancels ctx when a server reports an error.
// It exits when an error is received, the channel is closed, or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}

func closeLogged(logger *slog.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		errutil.LogError(logger, "error closing "+what, err)
	}
}
