package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/duracron/duracron/internal/core"
	"github.com/duracron/duracron/internal/invocation"
	"github.com/duracron/duracron/internal/pulse"
	"github.com/duracron/duracron/internal/retry"
	"github.com/duracron/duracron/internal/storage/memstore"
)

type logger struct {
	calls int
}

func (l *logger) Say(ctx context.Context) error {
	l.calls++
	return nil
}

type flaky struct {
	failuresLeft int
}

func (f *flaky) Run(ctx context.Context) error {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return retry.Transient(errors.New("not yet"))
	}
	return nil
}

func enqueue(t *testing.T, store core.Storage, desc invocation.Descriptor) string {
	t.Helper()
	data, err := invocation.Serialize(desc)
	require.NoError(t, err)

	ctx := context.Background()
	conn, err := store.GetConnection(ctx)
	require.NoError(t, err)
	defer conn.Close()

	tx, err := conn.CreateTransaction(ctx)
	require.NoError(t, err)

	job := core.Job{Data: data, Added: time.Now().UTC(), StateName: core.StateScheduled}
	require.NoError(t, tx.EnqueueJob(ctx, job))
	require.NoError(t, tx.Commit(ctx))

	jobs := store.(*memstore.Store).Snapshot()
	return jobs[len(jobs)-1].ID
}

func TestProcessOneSucceedsAndEmptiesQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := memstore.New()
	l := &logger{}
	reg := invocation.NewRegistry()
	reg.Register("logger", func() any { return l }, nil)

	enqueue(t, store, invocation.Descriptor{TypeID: "logger", MethodID: "Say"})

	w := NewDelayedWorker(DelayedWorkerConfig{
		ID:              "w",
		Store:           store,
		Registry:        reg,
		DefaultBehavior: retry.Default(),
	})

	require.NoError(t, w.drain(context.Background()))
	assert.Equal(t, 1, l.calls)

	jobs := store.Snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, core.StateSucceeded, jobs[0].StateName)
}

func TestProcessOneRetriesTransientFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := memstore.New()
	f := &flaky{failuresLeft: 1}
	reg := invocation.NewRegistry()
	reg.Register("flaky", func() any { return f }, nil)

	enqueue(t, store, invocation.Descriptor{TypeID: "flaky", MethodID: "Run"})

	w := NewDelayedWorker(DelayedWorkerConfig{
		ID:       "w",
		Store:    store,
		Registry: reg,
		DefaultBehavior: retry.Behavior{
			Retry:      true,
			RetryCount: 5,
			RetryIn:    func(uint) float64 { return 0 },
		},
	})

	// The retry delay is 0 and Due is measured from Added, so the retried
	// attempt is already eligible and the same drain runs it to success.
	require.NoError(t, w.drain(context.Background()))

	jobs := store.Snapshot()
	require.Len(t, jobs, 1)
	history := store.History()
	require.Len(t, history, 2)
	assert.Equal(t, core.StateScheduled, history[0].StateName)
	assert.Equal(t, uint(1), jobs[0].Retries)

	// second drain: nothing is left to run and the job stays Succeeded.
	require.NoError(t, w.drain(context.Background()))
	jobs = store.Snapshot()
	assert.Equal(t, core.StateSucceeded, jobs[0].StateName)
}

func TestProcessOneFailsPermanentlyOnBadBytes(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := memstore.New()
	reg := invocation.NewRegistry()

	ctx := context.Background()
	conn, err := store.GetConnection(ctx)
	require.NoError(t, err)
	tx, err := conn.CreateTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.EnqueueJob(ctx, core.Job{Data: []byte("not json"), Added: time.Now().UTC(), StateName: core.StateScheduled}))
	require.NoError(t, tx.Commit(ctx))
	conn.Close()

	w := NewDelayedWorker(DelayedWorkerConfig{ID: "w", Store: store, Registry: reg})
	require.NoError(t, w.drain(context.Background()))

	jobs := store.Snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, core.StateFailed, jobs[0].StateName)

	dead := store.DeadJobs()
	require.Len(t, dead, 1)
}

func TestProcessHonorsCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := memstore.New()
	reg := invocation.NewRegistry()
	w := NewDelayedWorker(DelayedWorkerConfig{
		ID:           "w",
		Store:        store,
		Registry:     reg,
		PollingDelay: time.Minute,
		Pulse:        pulse.New(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Process(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Process did not return after cancellation")
	}
}
