// Package retry persists failed deliveries and schedules bounded, exponentially backed-off
// re-delivery jobs. Job handlers are safe to re-run: a record that is already gone is
// recorded and skipped.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-sentinel/internal/event"
	"github.com/JakeFAU/crawler-sentinel/internal/jobs"
	"github.com/JakeFAU/crawler-sentinel/internal/kv"
	"github.com/JakeFAU/crawler-sentinel/internal/metrics"
	"github.com/JakeFAU/crawler-sentinel/internal/telemetry"
)

// JobName identifies re-delivery jobs in the scheduler.
const JobName = "sentinel_retry"

// ErrRecordMissing is returned when no live record exists for a retry key.
var ErrRecordMissing = errors.New("retry record missing")

// Recorder receives retry errors.
type Recorder interface {
	RecordError(ctx context.Context, category telemetry.Category, msg string, fields map[string]string) telemetry.Category
}

// Redeliverer performs one re-delivery attempt.
type Redeliverer interface {
	Redeliver(ctx context.Context, rec event.RetryRecord) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Config bounds retries.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	RecordTTL   time.Duration
}

// Scheduler owns RetryRecords and their jobs.
type Scheduler struct {
	store    kv.Store
	jobs     jobs.Scheduler
	recorder Recorder
	clock    Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Scheduler.
func New(store kv.Store, sched jobs.Scheduler, recorder Recorder, clock Clock, cfg Config, logger *zap.Logger) *Scheduler {
	metrics.Init()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Minute
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = 24 * time.Hour
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:    store,
		jobs:     sched,
		recorder: recorder,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("retry"),
	}
}

func recordKey(key string) string {
	return "retry:" + key
}

// MaxAttempts returns the configured attempt ceiling.
func (s *Scheduler) MaxAttempts() int {
	return s.cfg.MaxAttempts
}

// Enqueue persists a fresh record for evt and schedules its first retry.
func (s *Scheduler) Enqueue(ctx context.Context, key string, evt event.ClassificationEvent) error {
	rec := event.RetryRecord{
		RetryKey: key,
		Payload:  evt,
		Attempts: 0,
		Expiry:   s.clock.Now().Add(s.cfg.RecordTTL),
	}
	if err := s.store.Set(ctx, recordKey(key), rec, s.cfg.RecordTTL); err != nil {
		return fmt.Errorf("persist retry record: %w", err)
	}
	return s.ScheduleRetry(ctx, key)
}

// ScheduleRetry registers the next attempt for key unless one is already pending. The delay
// is BaseDelay * 2^attempts, capped at the record's remaining lifetime. Once attempts reach
// MaxAttempts the record is purged instead.
func (s *Scheduler) ScheduleRetry(ctx context.Context, key string) error {
	pending, err := s.jobs.IsScheduled(ctx, JobName, key)
	if err != nil {
		return fmt.Errorf("check pending retry: %w", err)
	}
	if pending {
		return nil
	}

	rec, err := s.Record(ctx, key)
	if errors.Is(err, ErrRecordMissing) {
		s.recorder.RecordError(ctx, telemetry.CategoryRetry, "retry payload missing, nothing scheduled",
			map[string]string{"retry_key": key})
		return err
	}
	if err != nil {
		return err
	}

	fields := map[string]string{
		"retry_key": key,
		"attempt":   strconv.Itoa(rec.Attempts),
	}
	if rec.Attempts >= s.cfg.MaxAttempts {
		if err := s.Purge(ctx, key); err != nil {
			s.logger.Warn("purge exhausted record failed", zap.String("retry_key", key), zap.Error(err))
		}
		metrics.ObserveRetryExhausted()
		s.recorder.RecordError(ctx, telemetry.CategoryRetry, "max retries exceeded", fields)
		return nil
	}

	now := s.clock.Now()
	remaining := rec.Remaining(now)
	if remaining <= 0 {
		if err := s.Purge(ctx, key); err != nil {
			s.logger.Warn("purge expired record failed", zap.String("retry_key", key), zap.Error(err))
		}
		s.recorder.RecordError(ctx, telemetry.CategoryRetry, "retry record expired", fields)
		return nil
	}

	delay := s.cfg.BaseDelay << rec.Attempts
	if delay <= 0 || delay > remaining {
		// Shift overflow, or a delay the record would not survive.
		delay = remaining
	}
	rec.Attempts++
	if err := s.store.Set(ctx, recordKey(key), rec, remaining); err != nil {
		return fmt.Errorf("persist retry attempt: %w", err)
	}
	runAt := now.Add(delay)
	if _, err := s.jobs.Schedule(ctx, jobs.Job{Name: JobName, Key: key, RunAt: runAt}); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	metrics.ObserveRetryScheduled()
	s.logger.Info("retry scheduled",
		zap.String("retry_key", key),
		zap.Int("attempt", rec.Attempts),
		zap.Duration("delay", delay),
		zap.Time("run_at", runAt),
	)
	return nil
}

// Record loads the live record for key.
func (s *Scheduler) Record(ctx context.Context, key string) (event.RetryRecord, error) {
	var rec event.RetryRecord
	err := s.store.Get(ctx, recordKey(key), &rec)
	if errors.Is(err, kv.ErrNotFound) {
		return event.RetryRecord{}, ErrRecordMissing
	}
	if err != nil {
		return event.RetryRecord{}, fmt.Errorf("load retry record: %w", err)
	}
	return rec, nil
}

// Purge deletes the record for key.
func (s *Scheduler) Purge(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, recordKey(key)); err != nil {
		return fmt.Errorf("purge retry record: %w", err)
	}
	return nil
}

// Pending reports whether a retry job is waiting for key.
func (s *Scheduler) Pending(ctx context.Context, key string) (bool, error) {
	ok, err := s.jobs.IsScheduled(ctx, JobName, key)
	if err != nil {
		return false, fmt.Errorf("check pending retry: %w", err)
	}
	return ok, nil
}

// Handler returns the job handler that loads the record and passes it to r. A missing
// record is recorded and treated as done.
func (s *Scheduler) Handler(r Redeliverer) jobs.Handler {
	return func(ctx context.Context, key string) error {
		rec, err := s.Record(ctx, key)
		if errors.Is(err, ErrRecordMissing) {
			s.recorder.RecordError(ctx, telemetry.CategoryRetry, "retry payload missing, attempt skipped",
				map[string]string{"retry_key": key})
			return nil
		}
		if err != nil {
			return err
		}
		return r.Redeliver(ctx, rec)
	}
}
