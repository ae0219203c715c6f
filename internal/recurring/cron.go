// Package recurring computes next-fire times for cron-expressed CronJob
// entries. The expression grammar itself is an external collaborator per
// the spec (the cron parser is out of scope); this package wires a real
// parser, github.com/robfig/cron/v3, rather than hand-rolling a
// five-field calculator.
package recurring

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/duracron/duracron/internal/core"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule wraps a parsed cron expression.
type Schedule struct {
	expr cron.Schedule
}

// Parse validates and parses a standard five-field cron expression.
func Parse(expr string) (Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("recurring: parse %q: %w", expr, err)
	}
	return Schedule{expr: s}, nil
}

// NextFire returns the first fire time strictly after `after`.
func (s Schedule) NextFire(after time.Time) time.Time {
	return s.expr.Next(after)
}

// Due reports whether a CronJob's computed next-fire time has elapsed as
// of now, using LastRun as the baseline (or job.LastRun's zero value,
// meaning it has never run and is due immediately if its schedule's
// first fire time has already passed).
func Due(job core.CronJob, now time.Time) (bool, error) {
	s, err := Parse(job.Cron)
	if err != nil {
		return false, err
	}

	baseline := job.LastRun
	if baseline.IsZero() {
		// never run: treat the epoch as the baseline so any schedule
		// whose first occurrence precedes now is immediately due.
		baseline = time.Unix(0, 0).UTC()
	}

	return !s.NextFire(baseline).After(now), nil
}

// NextFireAfter returns the next fire time for job relative to its
// LastRun (or the epoch, if it has never run). Used by the cron worker to
// compute how long it may sleep before the next promotion is possible.
func NextFireAfter(job core.CronJob) (time.Time, error) {
	s, err := Parse(job.Cron)
	if err != nil {
		return time.Time{}, err
	}

	baseline := job.LastRun
	if baseline.IsZero() {
		baseline = time.Unix(0, 0).UTC()
	}

	return s.NextFire(baseline), nil
}
