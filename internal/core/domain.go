// Package core declares the durable job record shapes and the Storage
// contract that every backend (SQL, in-memory) implements.
package core

import "time"

// StateName identifies a stage in a job's lifecycle. Values are part of the
// wire format persisted to the store, not just an in-process enum.
type StateName string

const (
	StateScheduled  StateName = "Scheduled"
	StateProcessing StateName = "Processing"
	StateSucceeded  StateName = "Succeeded"
	StateFailed     StateName = "Failed"
)

// Terminal reports whether a state is a terminal lifecycle stage.
func (s StateName) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Job is a persisted unit of work with retry and state metadata.
type Job struct {
	ID        string
	Data      []byte
	Added     time.Time
	Due       *time.Time
	Retries   uint
	StateName StateName
	ExpiresAt *time.Time
}

// IsDue reports whether the job is eligible for fetch at the given instant.
func (j Job) IsDue(now time.Time) bool {
	return j.Due == nil || !j.Due.After(now)
}

// QueueEntry is a fetch-ordering pointer; removed atomically when its job
// is claimed.
type QueueEntry struct {
	ID    string
	JobID string
}

// StateHistoryRow is an append-only audit record of a state transition.
type StateHistoryRow struct {
	ID        string
	JobID     string
	StateName StateName
	Reason    string
	CreatedAt time.Time
	Data      []byte
}

// CronJob is a recurring template that emits new Jobs on its schedule.
type CronJob struct {
	ID      string
	Name    string
	Cron    string
	LastRun time.Time
	Data    []byte
}

// DeadJob is a terminal sink row for a job that exhausted its retry
// budget. Writing one is a supplement to the state machine, not a
// replacement for the Failed transition.
type DeadJob struct {
	ID         string
	JobID      string
	Data       []byte
	FailReason string
	FailedAt   time.Time
	Retries    uint
}

// StorageError reports a failure from a Storage operation and whether the
// caller should treat it as transient (worth retrying the surrounding
// loop) or permanent (needs operator intervention).
type StorageError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
