// Package metrics defines the counters and gauges the worker and cron
// packages report against the meter provider observability.InitMeterProvider
// installs as the global.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/duracron/duracron"

// Recorder collects the instruments emitted by the job runtime. Built
// once at startup and shared across all workers; instrument creation
// errors are deliberately swallowed into no-op instruments rather than
// failing startup, matching how the meter API itself degrades when no
// provider is configured.
type Recorder struct {
	jobsSucceeded  metric.Int64Counter
	jobsRetried    metric.Int64Counter
	jobsFailed     metric.Int64Counter
	cronPromotions metric.Int64Counter
	activeWorkers  metric.Int64UpDownCounter
	jobDuration    metric.Float64Histogram
}

// New builds a Recorder against the process-global meter provider.
func New() *Recorder {
	meter := otel.Meter(meterName)

	jobsSucceeded, _ := meter.Int64Counter("duracron.jobs.succeeded",
		metric.WithDescription("jobs that completed successfully"))
	jobsRetried, _ := meter.Int64Counter("duracron.jobs.retried",
		metric.WithDescription("job attempts that failed and were rescheduled"))
	jobsFailed, _ := meter.Int64Counter("duracron.jobs.failed",
		metric.WithDescription("jobs that exhausted retries or failed permanently"))
	cronPromotions, _ := meter.Int64Counter("duracron.cron.promotions",
		metric.WithDescription("cron jobs promoted into the delayed queue"))
	activeWorkers, _ := meter.Int64UpDownCounter("duracron.workers.active",
		metric.WithDescription("delayed workers currently executing a job"))
	jobDuration, _ := meter.Float64Histogram("duracron.jobs.duration_seconds",
		metric.WithDescription("wall time spent inside a single job invocation"),
		metric.WithUnit("s"))

	return &Recorder{
		jobsSucceeded:  jobsSucceeded,
		jobsRetried:    jobsRetried,
		jobsFailed:     jobsFailed,
		cronPromotions: cronPromotions,
		activeWorkers:  activeWorkers,
		jobDuration:    jobDuration,
	}
}

func (r *Recorder) JobSucceeded(ctx context.Context, durationSeconds float64) {
	if r == nil {
		return
	}
	r.jobsSucceeded.Add(ctx, 1)
	r.jobDuration.Record(ctx, durationSeconds)
}

func (r *Recorder) JobRetried(ctx context.Context) {
	if r == nil {
		return
	}
	r.jobsRetried.Add(ctx, 1)
}

func (r *Recorder) JobFailed(ctx context.Context) {
	if r == nil {
		return
	}
	r.jobsFailed.Add(ctx, 1)
}

func (r *Recorder) CronPromoted(ctx context.Context, n int) {
	if r == nil || n == 0 {
		return
	}
	r.cronPromotions.Add(ctx, int64(n))
}

func (r *Recorder) WorkerStarted(ctx context.Context) {
	if r == nil {
		return
	}
	r.activeWorkers.Add(ctx, 1)
}

func (r *Recorder) WorkerFinished(ctx context.Context) {
	if r == nil {
		return
	}
	r.activeWorkers.Add(ctx, -1)
}
