// Command jobworker hosts a duracron Runtime as a standalone process,
// the way an application would embed it: load config, wire a storage
// backend, register job types, start the supervisor, wait for a signal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duracron/duracron"
	"github.com/duracron/duracron/internal/config"
	"github.com/duracron/duracron/internal/core"
	"github.com/duracron/duracron/internal/invocation"
	"github.com/duracron/duracron/internal/metrics"
	"github.com/duracron/duracron/internal/observability"
	"github.com/duracron/duracron/internal/storage/memstore"
	sqlstorage "github.com/duracron/duracron/internal/storage/sql"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lp, logger, err := observability.InitLogger(ctx, cfg.ServiceName, cfg.ObservabilityEnabled)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown logger provider", "error", err)
		}
	}()
	slog.SetDefault(logger)

	mp, err := observability.InitMeterProvider(ctx, cfg.ServiceName, cfg.ObservabilityEnabled)
	if err != nil {
		return fmt.Errorf("failed to init meter provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown meter provider", "error", err)
		}
	}()

	store, err := newStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	defer store.Close()

	registry := duracron.NewRegistry()
	registry.Register("ping", func() any { return &pingJob{} }, nil)

	rt, err := duracron.New(duracron.Config{
		Store:           store,
		Registry:        registry,
		Parallelism:     cfg.Parallelism,
		PollingDelay:    cfg.PollingDelay,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
		Metrics:         metrics.New(),
	})
	if err != nil {
		return fmt.Errorf("failed to assemble runtime: %w", err)
	}

	rt.Start(ctx)
	slog.InfoContext(ctx, "job worker started", "driver", cfg.Driver, "parallelism", cfg.Parallelism)

	if _, err := rt.Enqueue(ctx, invocation.Descriptor{TypeID: "ping", MethodID: "Run"}, 0); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue startup ping", "error", err)
	}

	<-ctx.Done()
	slog.InfoContext(ctx, "shutdown signal received, draining workers")
	rt.Stop()
	return nil
}

func newStore(ctx context.Context, cfg config.RuntimeConfig) (core.Storage, error) {
	switch cfg.Driver {
	case "postgres":
		return sqlstorage.NewPostgresStore(ctx, cfg.DSN)
	case "sqlite":
		return sqlstorage.NewSQLiteStore(ctx, cfg.DSN)
	default:
		return memstore.New(), nil
	}
}

// pingJob is a minimal invocation target demonstrating registration; a
// real host registers its own job types instead.
type pingJob struct{}

func (p *pingJob) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "ping job executed")
	return nil
}
