package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/duracron/duracron/internal/core"
)

type conn struct {
	store *Store
}

func (c *conn) Close() error { return nil }

func (c *conn) CreateTransaction(ctx context.Context) (core.Transaction, error) {
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapExecErr("begin transaction", err)
	}
	return &txn{tx: tx, store: c.store}, nil
}

func (c *conn) GetJob(ctx context.Context, id string) (core.Job, error) {
	p1 := c.store.placeholder(1)
	query := fmt.Sprintf(`SELECT id, data, added, due, retries, state_name, expires_at FROM jobs WHERE id = %s`, p1)

	row := c.store.db.QueryRowContext(ctx, query, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Job{}, core.ErrNotFound
	}
	if err != nil {
		return core.Job{}, mapExecErr("get job", err)
	}
	return job, nil
}

func (c *conn) ListCronJobs(ctx context.Context) ([]core.CronJob, error) {
	rows, err := c.store.db.QueryContext(ctx, `SELECT id, name, cron, last_run, data FROM cron_jobs ORDER BY name`)
	if err != nil {
		return nil, mapExecErr("list cron jobs", err)
	}
	defer rows.Close()

	var out []core.CronJob
	for rows.Next() {
		var cj core.CronJob
		var data string
		if err := rows.Scan(&cj.ID, &cj.Name, &cj.Cron, &cj.LastRun, &data); err != nil {
			return nil, mapExecErr("scan cron job", err)
		}
		cj.Data = []byte(data)
		out = append(out, cj)
	}
	return out, rows.Err()
}

// FetchNextJob atomically claims the earliest eligible job: either a
// Scheduled, due, queued job, or a Processing job whose ownership lease
// expired (crash recovery). The claim and the job_queue removal happen
// in one DB transaction so no other caller can observe a half-claimed
// row.
func (c *conn) FetchNextJob(ctx context.Context) (core.FetchedJob, error) {
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapExecErr("begin fetch", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	p1, p2 := c.store.placeholder(1), c.store.placeholder(2)

	selectQuery := fmt.Sprintf(`
		SELECT id, data, added, due, retries, state_name, expires_at FROM jobs
		WHERE (state_name = 'Scheduled' AND id IN (SELECT job_id FROM job_queue) AND (due IS NULL OR due <= %s))
		   OR (state_name = 'Processing' AND available_at IS NOT NULL AND available_at <= %s)
		ORDER BY added ASC
		LIMIT 1`, p1, p2)
	if c.store.dialect == DialectPostgres {
		selectQuery += " FOR UPDATE SKIP LOCKED"
	}

	row := tx.QueryRowContext(ctx, selectQuery, now, now)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNoJob
	}
	if err != nil {
		return nil, mapExecErr("fetch next job", err)
	}

	available := now.Add(LeaseDuration)
	pA, pB, pC := c.store.placeholder(1), c.store.placeholder(2), c.store.placeholder(3)
	updateQuery := fmt.Sprintf(`UPDATE jobs SET state_name = 'Processing', claimed_at = %s, available_at = %s WHERE id = %s`, pA, pB, pC)
	if _, err := tx.ExecContext(ctx, updateQuery, now, available, job.ID); err != nil {
		return nil, mapExecErr("claim job", err)
	}

	deleteQuery := fmt.Sprintf(`DELETE FROM job_queue WHERE job_id = %s`, c.store.placeholder(1))
	if _, err := tx.ExecContext(ctx, deleteQuery, job.ID); err != nil {
		return nil, mapExecErr("dequeue job", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapExecErr("commit fetch", err)
	}

	job.StateName = core.StateProcessing
	return &fetchedJob{job: job}, nil
}

// fetchedJob's claim was already released durably by FetchNextJob and
// by whatever Transaction calls the caller makes before releasing it;
// RemoveFromQueue/Requeue exist only to satisfy core.FetchedJob and to
// guard against a caller invoking them twice.
type fetchedJob struct {
	job      core.Job
	released bool
}

func (f *fetchedJob) Job() core.Job { return f.job }

func (f *fetchedJob) RemoveFromQueue(ctx context.Context) error {
	f.released = true
	return nil
}

func (f *fetchedJob) Requeue(ctx context.Context) error {
	f.released = true
	return nil
}

func scanJob(row *sql.Row) (core.Job, error) {
	var job core.Job
	var data string
	var due, expiresAt sql.NullTime
	var state string

	if err := row.Scan(&job.ID, &data, &job.Added, &due, &job.Retries, &state, &expiresAt); err != nil {
		return core.Job{}, err
	}

	job.Data = []byte(data)
	job.StateName = core.StateName(state)
	if due.Valid {
		job.Due = &due.Time
	}
	if expiresAt.Valid {
		job.ExpiresAt = &expiresAt.Time
	}
	return job, nil
}
