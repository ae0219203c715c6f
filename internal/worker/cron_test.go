package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duracron/duracron/internal/core"
	"github.com/duracron/duracron/internal/storage/memstore"
)

func TestPromoteDuePromotesAndUpdatesLastRun(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	conn, err := store.GetConnection(ctx)
	require.NoError(t, err)

	tx, err := conn.CreateTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertCronJob(ctx, core.CronJob{Name: "nightly", Cron: "* * * * *", Data: []byte("payload")}))
	require.NoError(t, tx.Commit(ctx))
	conn.Close()

	cw := NewCronWorker(CronWorkerConfig{Store: store})
	_, err = cw.promoteDue(ctx)
	require.NoError(t, err)

	jobs := store.Snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, []byte("payload"), jobs[0].Data)
	assert.Equal(t, core.StateScheduled, jobs[0].StateName)

	cronJobs, err := func() ([]core.CronJob, error) {
		c, err := store.GetConnection(ctx)
		if err != nil {
			return nil, err
		}
		defer c.Close()
		return c.ListCronJobs(ctx)
	}()
	require.NoError(t, err)
	require.Len(t, cronJobs, 1)
	assert.False(t, cronJobs[0].LastRun.IsZero())
}

func TestPromoteDueSkipsNotYetDue(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	conn, err := store.GetConnection(ctx)
	require.NoError(t, err)

	tx, err := conn.CreateTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertCronJob(ctx, core.CronJob{Name: "nightly", Cron: "0 0 * * *", LastRun: time.Now().UTC()}))
	require.NoError(t, tx.Commit(ctx))
	conn.Close()

	cw := NewCronWorker(CronWorkerConfig{Store: store})
	_, err = cw.promoteDue(ctx)
	require.NoError(t, err)

	assert.Empty(t, store.Snapshot())
}
