// Package memory provides an in-process job scheduler for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/crawler-sentinel/internal/jobs"
)

// Scheduler keeps pending jobs in a map keyed by name and key.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]jobs.Job
}

// NewScheduler constructs an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{pending: make(map[string]jobs.Job)}
}

func id(name, key string) string {
	return name + "\x00" + key
}

// Schedule adds job unless an identical one is pending.
func (s *Scheduler) Schedule(_ context.Context, job jobs.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := id(job.Name, job.Key)
	if _, exists := s.pending[k]; exists {
		return false, nil
	}
	s.pending[k] = job
	return true, nil
}

// IsScheduled reports whether the job is pending.
func (s *Scheduler) IsScheduled(_ context.Context, name, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id(name, key)]
	return ok, nil
}

// Due removes and returns due jobs, earliest first.
func (s *Scheduler) Due(_ context.Context, now time.Time, limit int) ([]jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []jobs.Job
	for _, job := range s.pending {
		if !job.RunAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, job := range due {
		delete(s.pending, id(job.Name, job.Key))
	}
	return due, nil
}

// Pending returns a snapshot of all pending jobs.
func (s *Scheduler) Pending() []jobs.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]jobs.Job, 0, len(s.pending))
	for _, job := range s.pending {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}
