// Package duracron embeds a durable, at-least-once background job
// runtime in a host process: callers enqueue invocations of registered
// types, a pool of workers drains them with retry and crash recovery,
// and a cron component promotes recurring entries on schedule.
package duracron

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/duracron/duracron/internal/core"
	"github.com/duracron/duracron/internal/invocation"
	"github.com/duracron/duracron/internal/metrics"
	"github.com/duracron/duracron/internal/pulse"
	"github.com/duracron/duracron/internal/retry"
	"github.com/duracron/duracron/internal/worker"
)

// Registry re-exports invocation.Registry so callers never need to
// import the internal package directly to register job types.
type Registry = invocation.Registry

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return invocation.NewRegistry()
}

// Config assembles a Runtime.
type Config struct {
	Store    core.Storage
	Registry *Registry

	// Parallelism is the number of delayed workers to run. Zero
	// detects from runtime.GOMAXPROCS.
	Parallelism int

	// DefaultBehavior applies to invocations whose target does not
	// implement retry.Retryable. Zero value uses retry.Default().
	DefaultBehavior retry.Behavior

	PollingDelay    time.Duration
	ShutdownTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Runtime is the embedded job runtime: an Enqueue/AddOrUpdate/Remove
// surface (C8) backed by a Storage implementation and a Supervisor
// running the delayed and cron workers (C5-C7).
type Runtime struct {
	store      core.Storage
	supervisor *worker.Supervisor
	logger     *slog.Logger
}

// New assembles a Runtime from cfg. It does not start any workers;
// call Start to do that.
func New(cfg Config) (*Runtime, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("duracron: Config.Store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("duracron: Config.Registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	behavior := cfg.DefaultBehavior
	if behavior.RetryCount == 0 && behavior.RetryIn == nil {
		behavior = retry.Default()
	}

	sup := worker.NewSupervisor(
		worker.Config{
			Parallelism:     cfg.Parallelism,
			Logger:          logger,
			ShutdownTimeout: cfg.ShutdownTimeout,
		},
		func(id string, p *pulse.Signal, w *pulse.WaitingCount) *worker.DelayedWorker {
			return worker.NewDelayedWorker(worker.DelayedWorkerConfig{
				ID:              id,
				Store:           cfg.Store,
				Registry:        cfg.Registry,
				DefaultBehavior: behavior,
				PollingDelay:    cfg.PollingDelay,
				Pulse:           p,
				Waiting:         w,
				Logger:          logger,
				Metrics:         cfg.Metrics,
			})
		},
		func() *worker.CronWorker {
			return worker.NewCronWorker(worker.CronWorkerConfig{
				Store:   cfg.Store,
				Logger:  logger,
				Metrics: cfg.Metrics,
			})
		},
	)

	return &Runtime{store: cfg.Store, supervisor: sup, logger: logger}, nil
}

// Start launches the worker pool and the cron promoter. Non-blocking;
// call Stop to shut down.
func (r *Runtime) Start(ctx context.Context) {
	r.supervisor.Start(ctx)
}

// Stop cancels every worker and blocks until they drain their current
// job or the configured shutdown timeout elapses.
func (r *Runtime) Stop() {
	r.supervisor.Stop()
}

// Enqueue persists a new job running desc and wakes an idle worker. A
// zero delay makes the job immediately eligible.
func (r *Runtime) Enqueue(ctx context.Context, desc invocation.Descriptor, delay time.Duration) (string, error) {
	data, err := invocation.Serialize(desc)
	if err != nil {
		return "", fmt.Errorf("duracron: serialize invocation: %w", err)
	}

	conn, err := r.store.GetConnection(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	tx, err := conn.CreateTransaction(ctx)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	job := core.Job{ID: uuid.NewString(), Data: data, Added: now, StateName: core.StateScheduled}
	if delay > 0 {
		due := now.Add(delay)
		job.Due = &due
	}

	if err := tx.EnqueueJob(ctx, job); err != nil {
		tx.Rollback(ctx)
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}

	r.supervisor.Pulse(worker.PulseJobEnqueued)
	return job.ID, nil
}

// AddOrUpdate upserts a recurring job by name, replacing its cron
// expression and invocation if it already exists.
func (r *Runtime) AddOrUpdate(ctx context.Context, name, cronExpr string, desc invocation.Descriptor) error {
	data, err := invocation.Serialize(desc)
	if err != nil {
		return fmt.Errorf("duracron: serialize invocation: %w", err)
	}

	conn, err := r.store.GetConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.CreateTransaction(ctx)
	if err != nil {
		return err
	}

	if err := tx.UpsertCronJob(ctx, core.CronJob{Name: name, Cron: cronExpr, Data: data}); err != nil {
		tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.supervisor.PulseCron()
	return nil
}

// Remove deletes a recurring job by name. It is not an error to remove
// a name that does not exist.
func (r *Runtime) Remove(ctx context.Context, name string) error {
	conn, err := r.store.GetConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.CreateTransaction(ctx)
	if err != nil {
		return err
	}

	if err := tx.RemoveCronJob(ctx, name); err != nil {
		tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
