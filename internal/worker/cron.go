package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/duracron/duracron/internal/core"
	"github.com/duracron/duracron/internal/metrics"
	"github.com/duracron/duracron/internal/recurring"
)

// CronWorker is the singleton processor that promotes due CronJob
// entries into ordinary Job rows.
type CronWorker struct {
	store   core.Storage
	logger  *slog.Logger
	metrics *metrics.Recorder

	// idleCap bounds how long CronWorker sleeps when no cron job is
	// registered at all, so a later AddOrUpdate is still noticed.
	idleCap time.Duration
}

// CronWorkerConfig configures a CronWorker.
type CronWorkerConfig struct {
	Store   core.Storage
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	IdleCap time.Duration
}

// NewCronWorker constructs a CronWorker from cfg.
func NewCronWorker(cfg CronWorkerConfig) *CronWorker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	idleCap := cfg.IdleCap
	if idleCap <= 0 {
		idleCap = time.Minute
	}
	return &CronWorker{store: cfg.Store, logger: logger, metrics: cfg.Metrics, idleCap: idleCap}
}

// Process runs the promotion loop until ctx is cancelled.
func (c *CronWorker) Process(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		sleepUntil, err := c.promoteDue(ctx)
		if err != nil {
			return err
		}

		if err := c.sleepUntil(ctx, sleepUntil); err != nil {
			return nil
		}
	}
}

// promoteDue reads every CronJob row, promotes the ones whose next-fire
// time has elapsed into a fresh Job row (in one transaction per cron
// job), and returns the earliest upcoming fire time across all of them
// so the caller knows how long it may sleep.
func (c *CronWorker) promoteDue(ctx context.Context) (time.Time, error) {
	conn, err := c.store.GetConnection(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer conn.Close()

	jobs, err := conn.ListCronJobs(ctx)
	if err != nil {
		return time.Time{}, err
	}

	now := time.Now().UTC()
	earliest := now.Add(c.idleCap)
	promoted := 0

	for _, cj := range jobs {
		due, err := recurring.Due(cj, now)
		if err != nil {
			c.logger.ErrorContext(ctx, "cron job has unparseable schedule, skipping", "cron_job", cj.Name, "error", err)
			continue
		}

		if due {
			if err := c.promoteOne(ctx, conn, cj, now); err != nil {
				return time.Time{}, err
			}
			cj.LastRun = now
			promoted++
		}

		next, err := recurring.NextFireAfter(cj)
		if err != nil {
			continue
		}
		if next.Before(earliest) {
			earliest = next
		}
	}

	c.metrics.CronPromoted(ctx, promoted)
	return earliest, nil
}

func (c *CronWorker) promoteOne(ctx context.Context, conn core.Connection, cj core.CronJob, now time.Time) error {
	tx, err := conn.CreateTransaction(ctx)
	if err != nil {
		return err
	}

	job := core.Job{
		Data:      cj.Data,
		Added:     now,
		Due:       nil,
		Retries:   0,
		StateName: core.StateScheduled,
	}
	if err := tx.EnqueueJob(ctx, job); err != nil {
		tx.Rollback(ctx)
		return err
	}

	cj.LastRun = now
	if err := tx.UpsertCronJob(ctx, cj); err != nil {
		tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "promoted cron job", "cron_job", cj.Name)
	return nil
}

func (c *CronWorker) sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	if d > c.idleCap {
		d = c.idleCap
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
