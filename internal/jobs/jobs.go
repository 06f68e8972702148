// Package jobs models the time-based task scheduler: one-shot named jobs keyed by an
// argument, executed at or after their due time by a polling Runner.
package jobs

import (
	"context"
	"time"
)

// Job is a one-shot scheduled task. It carries no payload beyond its key.
type Job struct {
	Name  string    `json:"name"`
	Key   string    `json:"key"`
	RunAt time.Time `json:"run_at"`
}

// Scheduler persists pending jobs. Delivery is at-least-once with no ordering guarantee.
type Scheduler interface {
	// Schedule registers job unless one with the same name and key is already pending.
	// It reports whether a new job was added.
	Schedule(ctx context.Context, job Job) (bool, error)
	// IsScheduled reports whether a job with name and key is pending.
	IsScheduled(ctx context.Context, name, key string) (bool, error)
	// Due claims up to limit jobs whose RunAt is at or before now and removes them.
	Due(ctx context.Context, now time.Time, limit int) ([]Job, error)
}

// Handler executes one job. Returning an error only logs; the job is not rescheduled.
type Handler func(ctx context.Context, key string) error

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
