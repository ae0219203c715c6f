package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/duracron/duracron/internal/core"
)

type txn struct {
	tx    *sql.Tx
	store *Store
}

func (t *txn) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return mapExecErr("commit", err)
	}
	return nil
}

func (t *txn) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil {
		return mapExecErr("rollback", err)
	}
	return nil
}

func (t *txn) UpdateJob(ctx context.Context, job core.Job) error {
	query := fmt.Sprintf(`UPDATE jobs SET data = %s, added = %s, due = %s, retries = %s, state_name = %s, expires_at = %s WHERE id = %s`,
		t.store.placeholder(1), t.store.placeholder(2), t.store.placeholder(3), t.store.placeholder(4),
		t.store.placeholder(5), t.store.placeholder(6), t.store.placeholder(7))

	_, err := t.tx.ExecContext(ctx, query, string(job.Data), job.Added, job.Due, job.Retries, string(job.StateName), job.ExpiresAt, job.ID)
	return mapExecErr("update job", err)
}

func (t *txn) ChangeState(ctx context.Context, jobID string, state core.StateName, reason string, expiresAt *time.Time) error {
	updateQuery := fmt.Sprintf(`UPDATE jobs SET state_name = %s, expires_at = %s WHERE id = %s`,
		t.store.placeholder(1), t.store.placeholder(2), t.store.placeholder(3))
	if _, err := t.tx.ExecContext(ctx, updateQuery, string(state), expiresAt, jobID); err != nil {
		return mapExecErr("change state", err)
	}

	insertQuery := fmt.Sprintf(`INSERT INTO job_states (id, job_id, state_name, reason, created_at, data) VALUES (%s, %s, %s, %s, %s, %s)`,
		t.store.placeholder(1), t.store.placeholder(2), t.store.placeholder(3), t.store.placeholder(4), t.store.placeholder(5), t.store.placeholder(6))
	if _, err := t.tx.ExecContext(ctx, insertQuery, newID(), jobID, string(state), reason, time.Now().UTC(), ""); err != nil {
		return mapExecErr("record state history", err)
	}
	return nil
}

func (t *txn) EnqueueJob(ctx context.Context, job core.Job) error {
	if job.ID == "" {
		job.ID = newID()
	}
	if job.StateName == "" {
		job.StateName = core.StateScheduled
	}

	insertJob := fmt.Sprintf(`INSERT INTO jobs (id, data, added, due, retries, state_name, expires_at) VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		t.store.placeholder(1), t.store.placeholder(2), t.store.placeholder(3), t.store.placeholder(4),
		t.store.placeholder(5), t.store.placeholder(6), t.store.placeholder(7))
	if _, err := t.tx.ExecContext(ctx, insertJob, job.ID, string(job.Data), job.Added, job.Due, job.Retries, string(job.StateName), job.ExpiresAt); err != nil {
		return mapExecErr("enqueue job", err)
	}

	insertQueue := fmt.Sprintf(`INSERT INTO job_queue (job_id) VALUES (%s)`, t.store.placeholder(1))
	if _, err := t.tx.ExecContext(ctx, insertQueue, job.ID); err != nil {
		return mapExecErr("enqueue job entry", err)
	}
	return nil
}

func (t *txn) RequeueJob(ctx context.Context, jobID string) error {
	updateQuery := fmt.Sprintf(`UPDATE jobs SET state_name = 'Scheduled' WHERE id = %s`, t.store.placeholder(1))
	if _, err := t.tx.ExecContext(ctx, updateQuery, jobID); err != nil {
		return mapExecErr("requeue job", err)
	}

	insertQuery := fmt.Sprintf(`INSERT INTO job_queue (job_id) VALUES (%s) ON CONFLICT (job_id) DO NOTHING`, t.store.placeholder(1))
	if _, err := t.tx.ExecContext(ctx, insertQuery, jobID); err != nil {
		return mapExecErr("requeue job entry", err)
	}
	return nil
}

func (t *txn) UpsertCronJob(ctx context.Context, job core.CronJob) error {
	if job.ID == "" {
		job.ID = newID()
	}

	query := fmt.Sprintf(`
		INSERT INTO cron_jobs (id, name, cron, last_run, data) VALUES (%s, %s, %s, %s, %s)
		ON CONFLICT (name) DO UPDATE SET cron = excluded.cron, last_run = excluded.last_run, data = excluded.data`,
		t.store.placeholder(1), t.store.placeholder(2), t.store.placeholder(3), t.store.placeholder(4), t.store.placeholder(5))

	_, err := t.tx.ExecContext(ctx, query, job.ID, job.Name, job.Cron, job.LastRun, string(job.Data))
	return mapExecErr("upsert cron job", err)
}

func (t *txn) RemoveCronJob(ctx context.Context, name string) error {
	query := fmt.Sprintf(`DELETE FROM cron_jobs WHERE name = %s`, t.store.placeholder(1))
	_, err := t.tx.ExecContext(ctx, query, name)
	return mapExecErr("remove cron job", err)
}

func (t *txn) InsertDeadJob(ctx context.Context, dj core.DeadJob) error {
	if dj.ID == "" {
		dj.ID = newID()
	}
	if dj.FailedAt.IsZero() {
		dj.FailedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO dead_jobs (id, job_id, data, fail_reason, failed_at, retries) VALUES (%s, %s, %s, %s, %s, %s)`,
		t.store.placeholder(1), t.store.placeholder(2), t.store.placeholder(3), t.store.placeholder(4), t.store.placeholder(5), t.store.placeholder(6))

	_, err := t.tx.ExecContext(ctx, query, dj.ID, dj.JobID, string(dj.Data), dj.FailReason, dj.FailedAt, dj.Retries)
	return mapExecErr("insert dead job", err)
}
