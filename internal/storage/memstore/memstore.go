// Package memstore is an in-memory core.Storage implementation used by
// the runtime's fast unit and end-to-end tests, so scenarios that don't
// need a live Postgres never have to spin one up. Grounded on the
// teacher's compliance-suite pattern of running the same contract
// against multiple backends (internal/storage/compliance in the teacher
// repo), adapted here to provide one of the two backends that suite
// exercises.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duracron/duracron/internal/core"
)

// LeaseDuration bounds how long a claimed job may stay Processing before
// FetchNextJob treats it as abandoned and makes it eligible again. This
// is the mechanism behind spec.md's at-least-once crash recovery (§4.10
// of SPEC_FULL.md).
const LeaseDuration = 5 * time.Minute

type jobRow struct {
	job         core.Job
	queued      bool
	claimedAt   time.Time
	availableAt time.Time
}

// Store is a mutex-guarded in-memory Storage.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]*jobRow
	history  []core.StateHistoryRow
	cronJobs map[string]core.CronJob
	dead     []core.DeadJob
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		jobs:     make(map[string]*jobRow),
		cronJobs: make(map[string]core.CronJob),
	}
}

func (s *Store) GetConnection(ctx context.Context) (core.Connection, error) {
	return &conn{store: s}, nil
}

func (s *Store) Close() error { return nil }

// Snapshot returns a copy of every job row, sorted by ID, for assertions
// in tests.
func (s *Store) Snapshot() []core.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]core.Job, 0, len(s.jobs))
	for _, r := range s.jobs {
		jobs = append(jobs, r.job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// History returns a copy of every audit row recorded so far.
func (s *Store) History() []core.StateHistoryRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.StateHistoryRow, len(s.history))
	copy(out, s.history)
	return out
}

// DeadJobs returns a copy of every dead-job row recorded so far.
func (s *Store) DeadJobs() []core.DeadJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.DeadJob, len(s.dead))
	copy(out, s.dead)
	return out
}

type conn struct {
	store *Store
}

func (c *conn) Close() error { return nil }

func (c *conn) FetchNextJob(ctx context.Context) (core.FetchedJob, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var candidates []*jobRow
	for _, r := range s.jobs {
		if r.queued && r.job.StateName == core.StateScheduled && r.job.IsDue(now) {
			candidates = append(candidates, r)
		}
		if r.job.StateName == core.StateProcessing && now.After(r.availableAt) {
			// lease expired: the worker holding it crashed or stalled.
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, core.ErrNoJob
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].job.Added.Before(candidates[j].job.Added) })
	r := candidates[0]

	r.queued = false
	r.job.StateName = core.StateProcessing
	r.claimedAt = now
	r.availableAt = now.Add(LeaseDuration)

	jobCopy := r.job
	return &fetchedJob{conn: c, job: jobCopy}, nil
}

func (c *conn) GetJob(ctx context.Context, id string) (core.Job, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.jobs[id]
	if !ok {
		return core.Job{}, core.ErrNotFound
	}
	return r.job, nil
}

func (c *conn) CreateTransaction(ctx context.Context) (core.Transaction, error) {
	return &txn{conn: c}, nil
}

func (c *conn) ListCronJobs(ctx context.Context) ([]core.CronJob, error) {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.CronJob, 0, len(s.cronJobs))
	for _, cj := range s.cronJobs {
		out = append(out, cj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type fetchedJob struct {
	conn *conn
	job  core.Job

	mu       sync.Mutex
	released bool
}

func (f *fetchedJob) Job() core.Job { return f.job }

func (f *fetchedJob) RemoveFromQueue(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
	return nil
}

func (f *fetchedJob) Requeue(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return nil
	}
	f.released = true

	s := f.conn.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.jobs[f.job.ID]; ok && r.job.StateName == core.StateScheduled {
		r.queued = true
	}
	return nil
}

// txn batches writes and applies them all at Commit, giving the
// in-memory store the same all-or-nothing semantics a SQL transaction
// provides.
type txn struct {
	conn *conn
	ops  []func(*Store)

	mu        sync.Mutex
	committed bool
	done      bool
}

func (t *txn) UpdateJob(ctx context.Context, job core.Job) error {
	t.ops = append(t.ops, func(s *Store) {
		if r, ok := s.jobs[job.ID]; ok {
			r.job = job
		}
	})
	return nil
}

func (t *txn) ChangeState(ctx context.Context, jobID string, state core.StateName, reason string, expiresAt *time.Time) error {
	t.ops = append(t.ops, func(s *Store) {
		r, ok := s.jobs[jobID]
		if !ok {
			return
		}
		r.job.StateName = state
		r.job.ExpiresAt = expiresAt
		s.history = append(s.history, core.StateHistoryRow{
			ID:        uuid.NewString(),
			JobID:     jobID,
			StateName: state,
			Reason:    reason,
			CreatedAt: time.Now().UTC(),
		})
	})
	return nil
}

func (t *txn) EnqueueJob(ctx context.Context, job core.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	t.ops = append(t.ops, func(s *Store) {
		s.jobs[job.ID] = &jobRow{job: job, queued: true}
	})
	return nil
}

func (t *txn) UpsertCronJob(ctx context.Context, job core.CronJob) error {
	t.ops = append(t.ops, func(s *Store) {
		if job.ID == "" {
			if existing, ok := s.cronJobs[job.Name]; ok {
				job.ID = existing.ID
			} else {
				job.ID = uuid.NewString()
			}
		}
		s.cronJobs[job.Name] = job
	})
	return nil
}

func (t *txn) RemoveCronJob(ctx context.Context, name string) error {
	t.ops = append(t.ops, func(s *Store) {
		delete(s.cronJobs, name)
	})
	return nil
}

func (t *txn) RequeueJob(ctx context.Context, jobID string) error {
	t.ops = append(t.ops, func(s *Store) {
		if r, ok := s.jobs[jobID]; ok {
			r.queued = true
		}
	})
	return nil
}

func (t *txn) InsertDeadJob(ctx context.Context, dj core.DeadJob) error {
	t.ops = append(t.ops, func(s *Store) {
		if dj.ID == "" {
			dj.ID = uuid.NewString()
		}
		s.dead = append(s.dead, dj)
	})
	return nil
}

func (t *txn) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return fmt.Errorf("memstore: transaction already finished")
	}
	t.done = true
	t.committed = true

	s := t.conn.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range t.ops {
		op(s)
	}
	return nil
}

func (t *txn) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	return nil
}
