// Package compliance runs one behavioral test battery against any
// core.Storage implementation. Grounded on the teacher's
// internal/storage/compliance.RunStorageComplianceTest, which runs the
// same contract test against every backend instead of duplicating
// assertions per package.
package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duracron/duracron/internal/core"
)

// Run executes the full compliance battery against the Storage returned
// by setup. setup is called once per subtest, and the teardown it
// returns runs when that subtest ends.
func Run(t *testing.T, setup func() (core.Storage, func())) {
	t.Run("FetchNextJobClaimsAtMostOnce", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		testFetchExclusive(t, store)
	})

	t.Run("FetchNextJobHonorsDue", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		testFetchHonorsDue(t, store)
	})

	t.Run("StateTransitionsAreAudited", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		testStateAudit(t, store)
	})

	t.Run("RetryRoundTripRequeues", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		testRetryRoundTrip(t, store)
	})

	t.Run("CronJobsRoundTrip", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		testCronRoundTrip(t, store)
	})

	t.Run("DeadJobAppendsOnFailure", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		testDeadJobAppend(t, store)
	})
}

func testFetchExclusive(t *testing.T, store core.Storage) {
	ctx := context.Background()
	conn, err := store.GetConnection(ctx)
	require.NoError(t, err)
	defer conn.Close()

	tx, err := conn.CreateTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.EnqueueJob(ctx, core.Job{StateName: core.StateScheduled, Added: time.Now().UTC(), Data: []byte("x")}))
	require.NoError(t, tx.Commit(ctx))

	fetched, err := conn.FetchNextJob(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, fetched.Job().ID)

	_, err = conn.FetchNextJob(ctx)
	assert.ErrorIs(t, err, core.ErrNoJob)

	require.NoError(t, fetched.RemoveFromQueue(ctx))
}

func testFetchHonorsDue(t *testing.T, store core.Storage) {
	ctx := context.Background()
	conn, err := store.GetConnection(ctx)
	require.NoError(t, err)
	defer conn.Close()

	future := time.Now().UTC().Add(time.Hour)
	tx, err := conn.CreateTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.EnqueueJob(ctx, core.Job{StateName: core.StateScheduled, Added: time.Now().UTC(), Due: &future, Data: []byte("x")}))
	require.NoError(t, tx.Commit(ctx))

	_, err = conn.FetchNextJob(ctx)
	assert.ErrorIs(t, err, core.ErrNoJob)
}

func testStateAudit(t *testing.T, store core.Storage) {
	ctx := context.Background()
	conn, err := store.GetConnection(ctx)
	require.NoError(t, err)
	defer conn.Close()

	tx, err := conn.CreateTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.EnqueueJob(ctx, core.Job{StateName: core.StateScheduled, Added: time.Now().UTC(), Data: []byte("x")}))
	require.NoError(t, tx.Commit(ctx))

	fetched, err := conn.FetchNextJob(ctx)
	require.NoError(t, err)

	tx2, err := conn.CreateTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.ChangeState(ctx, fetched.Job().ID, core.StateSucceeded, "", nil))
	require.NoError(t, tx2.Commit(ctx))
	require.NoError(t, fetched.RemoveFromQueue(ctx))

	job, err := conn.GetJob(ctx, fetched.Job().ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateSucceeded, job.StateName)
}

func testRetryRoundTrip(t *testing.T, store core.Storage) {
	ctx := context.Background()
	conn, err := store.GetConnection(ctx)
	require.NoError(t, err)
	defer conn.Close()

	tx, err := conn.CreateTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.EnqueueJob(ctx, core.Job{StateName: core.StateScheduled, Added: time.Now().UTC(), Data: []byte("x")}))
	require.NoError(t, tx.Commit(ctx))

	fetched, err := conn.FetchNextJob(ctx)
	require.NoError(t, err)

	job := fetched.Job()
	job.Retries = 1
	job.StateName = core.StateScheduled

	tx2, err := conn.CreateTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.UpdateJob(ctx, job))
	require.NoError(t, tx2.ChangeState(ctx, job.ID, core.StateScheduled, "retrying", nil))
	require.NoError(t, tx2.RequeueJob(ctx, job.ID))
	require.NoError(t, tx2.Commit(ctx))
	require.NoError(t, fetched.Requeue(ctx))

	refetched, err := conn.FetchNextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, refetched.Job().ID)
	assert.Equal(t, uint(1), refetched.Job().Retries)
}

func testCronRoundTrip(t *testing.T, store core.Storage) {
	ctx := context.Background()
	conn, err := store.GetConnection(ctx)
	require.NoError(t, err)
	defer conn.Close()

	tx, err := conn.CreateTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertCronJob(ctx, core.CronJob{Name: "nightly", Cron: "0 0 * * *", Data: []byte("x")}))
	require.NoError(t, tx.Commit(ctx))

	jobs, err := conn.ListCronJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "nightly", jobs[0].Name)

	tx2, err := conn.CreateTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.RemoveCronJob(ctx, "nightly"))
	require.NoError(t, tx2.Commit(ctx))

	jobs, err = conn.ListCronJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func testDeadJobAppend(t *testing.T, store core.Storage) {
	ctx := context.Background()
	conn, err := store.GetConnection(ctx)
	require.NoError(t, err)
	defer conn.Close()

	tx, err := conn.CreateTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.EnqueueJob(ctx, core.Job{StateName: core.StateScheduled, Added: time.Now().UTC(), Data: []byte("x")}))
	require.NoError(t, tx.Commit(ctx))

	fetched, err := conn.FetchNextJob(ctx)
	require.NoError(t, err)

	tx2, err := conn.CreateTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx2.ChangeState(ctx, fetched.Job().ID, core.StateFailed, "gave up", nil))
	require.NoError(t, tx2.InsertDeadJob(ctx, core.DeadJob{JobID: fetched.Job().ID, FailReason: "gave up", FailedAt: time.Now().UTC()}))
	require.NoError(t, tx2.Commit(ctx))
	require.NoError(t, fetched.RemoveFromQueue(ctx))

	job, err := conn.GetJob(ctx, fetched.Job().ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, job.StateName)
}
