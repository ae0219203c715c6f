package core

import (
	"context"
	"errors"
	"time"
)

// ErrNoJob is returned by FetchNextJob when no eligible row exists. It is
// not a StorageError: an empty queue is an expected, non-exceptional
// outcome of a fetch attempt.
var ErrNoJob = errors.New("core: no eligible job")

// ErrNotFound is returned when a lookup by ID finds no row.
var ErrNotFound = errors.New("core: not found")

// Storage is the durable queue and job record contract. Every method may
// fail with a *StorageError. Implementations must guarantee that exactly
// one of N concurrent FetchNextJob callers can ever return a given job
// (the at-most-one-claim invariant that the rest of the runtime depends
// on).
type Storage interface {
	// GetConnection returns a scoped connection. Callers must call
	// Connection.Close on every path, including error paths.
	GetConnection(ctx context.Context) (Connection, error)

	// Close releases any resources held by the storage backend itself
	// (pools, embedded engines). It does not affect in-flight
	// Connections.
	Close() error
}

// Connection groups the operations a worker performs against one
// borrowed database handle.
type Connection interface {
	// FetchNextJob transactionally claims one job whose Due is unset or
	// past and whose StateName is Scheduled, or a Processing job whose
	// claim lease has expired. It returns ErrNoJob if no eligible row
	// exists.
	FetchNextJob(ctx context.Context) (FetchedJob, error)

	// GetJob hydrates the full row for id. Returns ErrNotFound if absent.
	GetJob(ctx context.Context, id string) (Job, error)

	// CreateTransaction begins a unit of work. On Rollback, or if the
	// transaction is dropped without a Commit, all writes are undone.
	CreateTransaction(ctx context.Context) (Transaction, error)

	// ListCronJobs returns every registered CronJob row.
	ListCronJobs(ctx context.Context) ([]CronJob, error)

	Close() error
}

// Transaction is a unit of work spanning one or more writes, committed or
// rolled back as a whole.
type Transaction interface {
	// UpdateJob persists the mutable fields of an existing job row
	// (StateName, Retries, Due, ExpiresAt).
	UpdateJob(ctx context.Context, job Job) error

	// ChangeState writes an audit row and updates the job's StateName in
	// the same unit of work. For terminal states it also sets ExpiresAt.
	ChangeState(ctx context.Context, jobID string, state StateName, reason string, expiresAt *time.Time) error

	// EnqueueJob inserts a fresh Job row plus its queue entry.
	EnqueueJob(ctx context.Context, job Job) error

	// UpsertCronJob inserts or replaces a CronJob row keyed by Name,
	// within the same unit of work as an EnqueueJob promotion.
	UpsertCronJob(ctx context.Context, job CronJob) error

	// RemoveCronJob deletes a CronJob row by Name.
	RemoveCronJob(ctx context.Context, name string) error

	// RequeueJob re-inserts a queue entry for an existing job (used by
	// the retry path; the job row itself was already updated via
	// UpdateJob/ChangeState in the same transaction).
	RequeueJob(ctx context.Context, jobID string) error

	// InsertDeadJob appends a DeadJob row. Supplemental to the Failed
	// transition; absence of a call here never blocks it.
	InsertDeadJob(ctx context.Context, dj DeadJob) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// FetchedJob is the exclusive "I have claimed this work item" handle
// returned by FetchNextJob. It must be released exactly once, either via
// RemoveFromQueue or Requeue.
type FetchedJob interface {
	Job() Job

	// RemoveFromQueue acknowledges success and releases the claim
	// permanently.
	RemoveFromQueue(ctx context.Context) error

	// Requeue releases the claim after the caller has committed a
	// transaction that put the job back in Scheduled and called
	// RequeueJob (the worker's retry path). It does not by itself make a
	// job that is still Processing eligible again; such a job is
	// reclaimed by FetchNextJob once its lease expires.
	Requeue(ctx context.Context) error
}
