// Package worker implements the delayed job worker (C5), the cron
// promotion worker (C6), and the supervisor that owns both (C7).
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/duracron/duracron/internal/core"
	"github.com/duracron/duracron/internal/invocation"
	"github.com/duracron/duracron/internal/metrics"
	"github.com/duracron/duracron/internal/pulse"
	"github.com/duracron/duracron/internal/retry"
)

// DeadLetterSink is the dead-job append operation that core.Transaction
// provides. DelayedWorker does not take a sink: finishFailed calls
// InsertDeadJob on the same transaction as the Failed transition.
type DeadLetterSink interface {
	InsertDeadJob(ctx context.Context, dj core.DeadJob) error
}

// DelayedWorker is one of N parallel processors: fetch, execute,
// transition, sleep. It holds no shared mutable state with its peers;
// all coordination goes through Storage and the shared pulse Signal.
type DelayedWorker struct {
	id       string
	store    core.Storage
	registry *invocation.Registry

	defaultBehavior retry.Behavior
	pollingDelay    time.Duration

	pulse   *pulse.Signal
	waiting *pulse.WaitingCount

	logger  *slog.Logger
	metrics *metrics.Recorder

	isWaiting atomic.Bool
}

// DelayedWorkerConfig configures a DelayedWorker.
type DelayedWorkerConfig struct {
	ID              string
	Store           core.Storage
	Registry        *invocation.Registry
	DefaultBehavior retry.Behavior
	PollingDelay    time.Duration
	Pulse           *pulse.Signal
	Waiting         *pulse.WaitingCount
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
}

// NewDelayedWorker constructs a DelayedWorker from cfg, filling in
// defaults for any zero-valued fields.
func NewDelayedWorker(cfg DelayedWorkerConfig) *DelayedWorker {
	pollingDelay := cfg.PollingDelay
	if pollingDelay <= 0 {
		pollingDelay = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sig := cfg.Pulse
	if sig == nil {
		sig = pulse.New()
	}
	waiting := cfg.Waiting
	if waiting == nil {
		waiting = &pulse.WaitingCount{}
	}

	return &DelayedWorker{
		id:              cfg.ID,
		store:           cfg.Store,
		registry:        cfg.Registry,
		defaultBehavior: cfg.DefaultBehavior,
		pollingDelay:    pollingDelay,
		pulse:           sig,
		waiting:         waiting,
		logger:          logger,
		metrics:         cfg.Metrics,
	}
}

// Waiting reports whether the worker is currently parked on the idle
// wait, observable by the supervisor's Pulse fast path.
func (w *DelayedWorker) Waiting() bool {
	return w.isWaiting.Load()
}

// Process runs the worker's main loop until ctx is cancelled, returning
// nil on a clean cancellation. An unexpected storage error escapes as a
// non-nil error so the supervisor's InfiniteRetryProcessor can log it and
// restart the loop after backoff; job-level failures never escape here,
// they are resolved via the retry policy and state transitions.
func (w *DelayedWorker) Process(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := w.drain(ctx); err != nil {
			return err
		}

		if err := w.idleWait(ctx); err != nil {
			return nil
		}
	}
}

// drain repeatedly fetches and processes jobs until the queue reports
// none eligible.
func (w *DelayedWorker) drain(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := w.store.GetConnection(ctx)
		if err != nil {
			return err
		}

		fetched, err := conn.FetchNextJob(ctx)
		if err != nil {
			conn.Close()
			if errors.Is(err, core.ErrNoJob) {
				return nil
			}
			return err
		}

		err = w.processOne(ctx, conn, fetched)
		conn.Close()
		if err != nil {
			return err
		}
	}
}

// processOne executes the claimed job and resolves its outcome. Storage
// errors while committing a transition are returned (unexpected,
// escalate to the supervisor); everything about the job's own
// success/failure is handled entirely within this call.
func (w *DelayedWorker) processOne(ctx context.Context, conn core.Connection, fetched core.FetchedJob) error {
	job := fetched.Job()
	logger := w.logger.With("job_id", job.ID, "worker_id", w.id)

	desc, err := invocation.Deserialize(job.Data)
	if err != nil {
		logger.ErrorContext(ctx, "job invocation bytes unreadable, failing permanently", "error", err)
		w.metrics.JobFailed(ctx)
		return w.finishFailed(ctx, conn, fetched, job, "deserialization failed: "+err.Error())
	}

	inv, err := w.registry.Resolve(desc)
	if err != nil {
		logger.ErrorContext(ctx, "job invocation could not be resolved, failing permanently", "error", err)
		w.metrics.JobFailed(ctx)
		return w.finishFailed(ctx, conn, fetched, job, "resolve failed: "+err.Error())
	}

	w.metrics.WorkerStarted(ctx)
	start := time.Now()
	runErr := w.invoke(ctx, inv)
	duration := time.Since(start)
	w.metrics.WorkerFinished(ctx)

	if runErr == nil {
		logger.InfoContext(ctx, "job succeeded", "duration", duration)
		w.metrics.JobSucceeded(ctx, duration.Seconds())
		return w.finishSucceeded(ctx, conn, fetched, job)
	}

	if retry.IsPanic(runErr) || retry.IsJobCancelled(runErr) {
		logger.ErrorContext(ctx, "job failed permanently", "error", runErr, "duration", duration)
		w.metrics.JobFailed(ctx)
		return w.finishFailed(ctx, conn, fetched, job, runErr.Error())
	}

	if !retry.IsRetryable(runErr) {
		logger.ErrorContext(ctx, "job failed permanently", "error", runErr, "duration", duration)
		w.metrics.JobFailed(ctx)
		return w.finishFailed(ctx, conn, fetched, job, runErr.Error())
	}

	behavior := w.behaviorFor(inv, desc)
	decision := retry.Decide(behavior, job.Retries)

	if decision.GiveUp {
		logger.WarnContext(ctx, "job exhausted retries", "retries", decision.Retries, "error", runErr)
		w.metrics.JobFailed(ctx)
		return w.finishFailed(ctx, conn, fetched, job, runErr.Error())
	}

	logger.WarnContext(ctx, "job failed, scheduling retry", "retries", decision.Retries, "delay", decision.Delay, "error", runErr)
	w.metrics.JobRetried(ctx)
	return w.finishRetry(ctx, conn, fetched, job, decision, runErr.Error())
}

func (w *DelayedWorker) behaviorFor(inv *invocation.MethodInvocation, desc invocation.Descriptor) retry.Behavior {
	_ = desc
	return retry.BehaviorOf(inv, w.defaultBehavior)
}

// invoke runs the resolved invocation, recovering a panic into a
// retry.PanicError so it is always treated as permanent (per C7 §9,
// panics never retry).
func (w *DelayedWorker) invoke(ctx context.Context, inv *invocation.MethodInvocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = retry.PanicError{Value: r, StackTrace: string(stackTrace())}
		}
	}()
	return inv.Invoke(ctx)
}

func (w *DelayedWorker) finishSucceeded(ctx context.Context, conn core.Connection, fetched core.FetchedJob, job core.Job) error {
	tx, err := conn.CreateTransaction(ctx)
	if err != nil {
		return err
	}
	if err := tx.ChangeState(ctx, job.ID, core.StateSucceeded, "", expiresAtFor(core.StateSucceeded)); err != nil {
		tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	return fetched.RemoveFromQueue(ctx)
}

func (w *DelayedWorker) finishFailed(ctx context.Context, conn core.Connection, fetched core.FetchedJob, job core.Job, reason string) error {
	tx, err := conn.CreateTransaction(ctx)
	if err != nil {
		return err
	}
	if err := tx.ChangeState(ctx, job.ID, core.StateFailed, reason, expiresAtFor(core.StateFailed)); err != nil {
		tx.Rollback(ctx)
		return err
	}
	if err := tx.InsertDeadJob(ctx, core.DeadJob{
		JobID:      job.ID,
		Data:       job.Data,
		FailReason: reason,
		FailedAt:   time.Now().UTC(),
		Retries:    job.Retries,
	}); err != nil {
		tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	return fetched.RemoveFromQueue(ctx)
}

func (w *DelayedWorker) finishRetry(ctx context.Context, conn core.Connection, fetched core.FetchedJob, job core.Job, decision retry.Decision, reason string) error {
	due := job.Added.Add(decision.Delay)
	job.Retries = decision.Retries
	job.Due = &due
	job.StateName = core.StateScheduled

	tx, err := conn.CreateTransaction(ctx)
	if err != nil {
		return err
	}
	if err := tx.UpdateJob(ctx, job); err != nil {
		tx.Rollback(ctx)
		return err
	}
	if err := tx.ChangeState(ctx, job.ID, core.StateScheduled, reason, nil); err != nil {
		tx.Rollback(ctx)
		return err
	}
	if err := tx.RequeueJob(ctx, job.ID); err != nil {
		tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	return fetched.Requeue(ctx)
}

func expiresAtFor(state core.StateName) *time.Time {
	if !state.Terminal() {
		return nil
	}
	t := time.Now().UTC()
	return &t
}

// idleWait sets Waiting, blocks on {pulse, cancellation, polling
// timeout}, then clears Waiting. Returns a non-nil error only when ctx
// was the reason for waking, so Process can distinguish a clean shutdown
// from a spurious wakeup.
func (w *DelayedWorker) idleWait(ctx context.Context) error {
	w.isWaiting.Store(true)
	w.waiting.Inc()
	defer func() {
		w.waiting.Dec()
		w.isWaiting.Store(false)
	}()

	timer := time.NewTimer(w.pollingDelay)
	defer timer.Stop()

	select {
	case <-w.pulse.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
