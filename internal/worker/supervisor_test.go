package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/duracron/duracron/internal/invocation"
	"github.com/duracron/duracron/internal/pulse"
	"github.com/duracron/duracron/internal/retry"
	"github.com/duracron/duracron/internal/storage/memstore"
)

func TestSupervisorRunsJobAndStopsWithinBound(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := memstore.New()
	l := &logger{}
	reg := invocation.NewRegistry()
	reg.Register("logger", func() any { return l }, nil)

	enqueue(t, store, invocation.Descriptor{TypeID: "logger", MethodID: "Say"})

	sup := NewSupervisor(Config{Parallelism: 2, ShutdownTimeout: 5 * time.Second},
		func(id string, p *pulse.Signal, w *pulse.WaitingCount) *DelayedWorker {
			return NewDelayedWorker(DelayedWorkerConfig{
				ID:              id,
				Store:           store,
				Registry:        reg,
				DefaultBehavior: retry.Default(),
				PollingDelay:    50 * time.Millisecond,
				Pulse:           p,
				Waiting:         w,
			})
		},
		func() *CronWorker {
			return NewCronWorker(CronWorkerConfig{Store: store, IdleCap: 50 * time.Millisecond})
		},
	)

	sup.Start(context.Background())

	require.Eventually(t, func() bool {
		return l.calls == 1
	}, 2*time.Second, 10*time.Millisecond)

	sup.Stop()
}

func TestSupervisorPulseFastPathSkipsWhenWorkerBusy(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := memstore.New()
	reg := invocation.NewRegistry()

	sup := NewSupervisor(Config{Parallelism: 1},
		func(id string, p *pulse.Signal, w *pulse.WaitingCount) *DelayedWorker {
			return NewDelayedWorker(DelayedWorkerConfig{ID: id, Store: store, Registry: reg, Pulse: p, Waiting: w})
		},
		func() *CronWorker { return NewCronWorker(CronWorkerConfig{Store: store}) },
	)

	// nobody waiting yet: Pulse must be a no-op, not a panic, and must
	// not leave a pending wakeup behind.
	sup.Pulse(PulseJobEnqueued)
	select {
	case <-sup.pulse.C():
		t.Fatal("Pulse should not signal when no worker is waiting")
	default:
	}
}
