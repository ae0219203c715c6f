package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/duracron/duracron/internal/pulse"
)

// Processor is a single processing loop: a DelayedWorker or a CronWorker.
// Process must run until ctx is cancelled (returning nil) or until it
// hits an unexpected failure (returning a non-nil error), never exiting
// on ordinary job-level failures.
type Processor interface {
	Process(ctx context.Context) error
}

// PulseKind identifies what triggered a Pulse call, for logging only; it
// has no effect on which worker wakes.
type PulseKind string

const (
	PulseJobEnqueued PulseKind = "job_enqueued"
	PulseCronChanged PulseKind = "cron_changed"
)

// Supervisor owns N delayed workers plus one cron worker, their
// lifecycle, and the pulse broadcast that wakes an idle worker after an
// enqueue.
type Supervisor struct {
	logger *slog.Logger

	delayed []*DelayedWorker
	cron    *CronWorker

	pulse   *pulse.Signal
	waiting *pulse.WaitingCount

	wg     sync.WaitGroup
	cancel context.CancelFunc

	shutdownTimeout time.Duration
}

// Config configures a Supervisor.
type Config struct {
	// Parallelism is the number of delayed workers to run. Zero means
	// detect from runtime.GOMAXPROCS.
	Parallelism int
	Logger      *slog.Logger

	// ShutdownTimeout bounds how long Stop waits for workers to drain
	// their current job. Zero means 60s, per spec.
	ShutdownTimeout time.Duration
}

// NewSupervisor wires N delayed workers and one cron worker around a
// shared pulse Signal.
func NewSupervisor(cfg Config, newDelayed func(id string, p *pulse.Signal, w *pulse.WaitingCount) *DelayedWorker, newCron func() *CronWorker) *Supervisor {
	n := cfg.Parallelism
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	s := &Supervisor{
		logger:          logger,
		pulse:           pulse.New(),
		waiting:         &pulse.WaitingCount{},
		shutdownTimeout: timeout,
	}

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("worker-%d", i)
		s.delayed = append(s.delayed, newDelayed(id, s.pulse, s.waiting))
	}
	s.cron = newCron()

	return s
}

// Start launches every wrapped processor in parallel and returns
// immediately; use Stop to shut down.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, d := range s.delayed {
		s.launch(ctx, d.id, d)
	}
	s.launch(ctx, "cron", s.cron)
}

func (s *Supervisor) launch(ctx context.Context, name string, p Processor) {
	wrapped := InfiniteRetryProcessor{Inner: p, Logger: s.logger.With("processor", name)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		wrapped.Run(ctx)
	}()
}

// Pulse wakes one waiting delayed worker. Per §4.7, if not all delayed
// workers are currently Waiting, the call returns immediately without
// signaling: somebody is already draining the queue, so the freshly
// enqueued job will be picked up without anyone having to be woken.
func (s *Supervisor) Pulse(kind PulseKind) {
	if !s.waiting.AllWaiting(len(s.delayed)) {
		return
	}
	s.pulse.Set()
}

// PulseCron is a no-op: it does not wake the cron worker. The cron
// worker re-reads cron rows on every loop iteration and never sleeps
// longer than its idle cap, so a new or changed row is picked up on the
// next iteration after that sleep ends.
func (s *Supervisor) PulseCron() {}

// Stop signals cancellation and waits up to the configured timeout for
// every processor to drain its current job. It never panics or returns
// an error; a timeout is logged, not surfaced, matching the "never throw
// from shutdown" requirement.
func (s *Supervisor) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn("supervisor shutdown timed out waiting for workers to drain")
	}
}
