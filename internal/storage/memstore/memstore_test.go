package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duracron/duracron/internal/core"
)

func TestFetchNextJobClaimsExactlyOne(t *testing.T) {
	s := New()
	ctx := context.Background()

	conn, err := s.GetConnection(ctx)
	require.NoError(t, err)

	tx, err := conn.CreateTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.EnqueueJob(ctx, core.Job{ID: "job-1", StateName: core.StateScheduled, Added: time.Now().UTC()}))
	require.NoError(t, tx.Commit(ctx))

	fetched, err := conn.FetchNextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", fetched.Job().ID)
	assert.Equal(t, core.StateProcessing, fetched.Job().StateName)

	_, err = conn.FetchNextJob(ctx)
	assert.ErrorIs(t, err, core.ErrNoJob)
}

func TestFetchNextJobHonorsDue(t *testing.T) {
	s := New()
	ctx := context.Background()
	conn, _ := s.GetConnection(ctx)

	future := time.Now().UTC().Add(time.Hour)
	tx, _ := conn.CreateTransaction(ctx)
	require.NoError(t, tx.EnqueueJob(ctx, core.Job{ID: "job-1", StateName: core.StateScheduled, Added: time.Now().UTC(), Due: &future}))
	require.NoError(t, tx.Commit(ctx))

	_, err := conn.FetchNextJob(ctx)
	assert.ErrorIs(t, err, core.ErrNoJob)
}

func TestRequeueMakesJobEligibleAgain(t *testing.T) {
	s := New()
	ctx := context.Background()
	conn, _ := s.GetConnection(ctx)

	tx, _ := conn.CreateTransaction(ctx)
	require.NoError(t, tx.EnqueueJob(ctx, core.Job{ID: "job-1", StateName: core.StateScheduled, Added: time.Now().UTC()}))
	require.NoError(t, tx.Commit(ctx))

	fetched, err := conn.FetchNextJob(ctx)
	require.NoError(t, err)

	tx2, _ := conn.CreateTransaction(ctx)
	job := fetched.Job()
	job.StateName = core.StateScheduled
	require.NoError(t, tx2.UpdateJob(ctx, job))
	require.NoError(t, tx2.RequeueJob(ctx, job.ID))
	require.NoError(t, tx2.Commit(ctx))
	require.NoError(t, fetched.Requeue(ctx))

	refetched, err := conn.FetchNextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", refetched.Job().ID)
}

func TestChangeStateRecordsHistory(t *testing.T) {
	s := New()
	ctx := context.Background()
	conn, _ := s.GetConnection(ctx)

	tx, _ := conn.CreateTransaction(ctx)
	require.NoError(t, tx.EnqueueJob(ctx, core.Job{ID: "job-1", StateName: core.StateScheduled, Added: time.Now().UTC()}))
	require.NoError(t, tx.Commit(ctx))

	fetched, err := conn.FetchNextJob(ctx)
	require.NoError(t, err)

	tx2, _ := conn.CreateTransaction(ctx)
	require.NoError(t, tx2.ChangeState(ctx, fetched.Job().ID, core.StateSucceeded, "", nil))
	require.NoError(t, tx2.Commit(ctx))
	require.NoError(t, fetched.RemoveFromQueue(ctx))

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, core.StateSucceeded, history[0].StateName)

	job, err := conn.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.StateSucceeded, job.StateName)
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	s := New()
	ctx := context.Background()
	conn, _ := s.GetConnection(ctx)

	tx, _ := conn.CreateTransaction(ctx)
	require.NoError(t, tx.EnqueueJob(ctx, core.Job{ID: "job-1", StateName: core.StateScheduled, Added: time.Now().UTC()}))
	require.NoError(t, tx.Commit(ctx))

	_, err := conn.FetchNextJob(ctx)
	require.NoError(t, err)

	s.mu.Lock()
	s.jobs["job-1"].availableAt = time.Now().UTC().Add(-time.Minute)
	s.mu.Unlock()

	refetched, err := conn.FetchNextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", refetched.Job().ID)
}

func TestCronJobRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	conn, _ := s.GetConnection(ctx)

	tx, _ := conn.CreateTransaction(ctx)
	require.NoError(t, tx.UpsertCronJob(ctx, core.CronJob{Name: "nightly", Cron: "0 0 * * *"}))
	require.NoError(t, tx.Commit(ctx))

	jobs, err := conn.ListCronJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "nightly", jobs[0].Name)

	tx2, _ := conn.CreateTransaction(ctx)
	require.NoError(t, tx2.RemoveCronJob(ctx, "nightly"))
	require.NoError(t, tx2.Commit(ctx))

	jobs, err = conn.ListCronJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
