// Package telemetry records categorized delivery outcomes for operator visibility and sets up
// OpenTelemetry tracing. Recording never affects control flow: storage failures are logged only.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-sentinel/internal/kv"
	"github.com/JakeFAU/crawler-sentinel/internal/metrics"
)

const (
	errorsKey    = "telemetry:errors"
	successesKey = "telemetry:successes"
)

// ErrorEntry is one retained error.
type ErrorEntry struct {
	Time     time.Time         `json:"timestamp"`
	Category Category          `json:"category"`
	Message  string            `json:"message"`
	Context  map[string]string `json:"context,omitempty"`
}

// ErrorStats aggregates recorded errors. Recent holds the newest entries last.
type ErrorStats struct {
	Recent      []ErrorEntry       `json:"recent"`
	Counts      map[Category]int64 `json:"counts"`
	Total       int64              `json:"total"`
	LastErrorAt time.Time          `json:"last_error_at"`
}

// SuccessStats aggregates successful deliveries.
type SuccessStats struct {
	FirstAttempt  int64     `json:"first_attempt"`
	Retry         int64     `json:"retry"`
	Total         int64     `json:"total"`
	LastSuccessAt time.Time `json:"last_success_at"`
}

// Config controls retention.
type Config struct {
	ErrorLogSize int
	StatsTTL     time.Duration
}

// Recorder persists error and success statistics in a kv.Store.
type Recorder struct {
	store  kv.Store
	clock  kv.Clock
	cfg    Config
	logger *zap.Logger

	// Serializes read-modify-write cycles within this process.
	mu sync.Mutex
}

// NewRecorder constructs a Recorder.
func NewRecorder(store kv.Store, clock kv.Clock, cfg Config, logger *zap.Logger) *Recorder {
	metrics.Init()
	if cfg.ErrorLogSize <= 0 {
		cfg.ErrorLogSize = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:  store,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named("telemetry"),
	}
}

// RecordError stores msg under category. An empty category is derived from msg with
// Categorize. The resolved category is returned.
func (r *Recorder) RecordError(ctx context.Context, category Category, msg string, fields map[string]string) Category {
	if category == "" {
		category = Categorize(msg)
	}
	metrics.ObserveError(string(category))

	logFields := []zap.Field{zap.String("category", string(category))}
	for k, v := range fields {
		logFields = append(logFields, zap.String(k, v))
	}
	r.logger.Warn(msg, logFields...)

	r.mu.Lock()
	defer r.mu.Unlock()

	stats, err := r.loadErrors(ctx)
	if err != nil {
		r.logger.Error("load error stats failed", zap.Error(err))
		return category
	}
	now := r.clock.Now().UTC()
	stats.Recent = append(stats.Recent, ErrorEntry{
		Time:     now,
		Category: category,
		Message:  msg,
		Context:  fields,
	})
	if over := len(stats.Recent) - r.cfg.ErrorLogSize; over > 0 {
		stats.Recent = stats.Recent[over:]
	}
	stats.Counts[category]++
	stats.Total++
	stats.LastErrorAt = now

	if err := r.store.Set(ctx, errorsKey, stats, r.cfg.StatsTTL); err != nil {
		r.logger.Error("persist error stats failed", zap.Error(err))
	}
	return category
}

// RecordSuccess counts one delivered event.
func (r *Recorder) RecordSuccess(ctx context.Context, retry bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats, err := r.Successes(ctx)
	if err != nil {
		r.logger.Error("load success stats failed", zap.Error(err))
		return
	}
	if retry {
		stats.Retry++
	} else {
		stats.FirstAttempt++
	}
	stats.Total++
	stats.LastSuccessAt = r.clock.Now().UTC()

	if err := r.store.Set(ctx, successesKey, stats, r.cfg.StatsTTL); err != nil {
		r.logger.Error("persist success stats failed", zap.Error(err))
	}
}

// Errors returns the current error statistics.
func (r *Recorder) Errors(ctx context.Context) (ErrorStats, error) {
	return r.loadErrors(ctx)
}

// Successes returns the current success statistics.
func (r *Recorder) Successes(ctx context.Context) (SuccessStats, error) {
	var stats SuccessStats
	err := r.store.Get(ctx, successesKey, &stats)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return SuccessStats{}, err
	}
	return stats, nil
}

// Reset clears both statistics records.
func (r *Recorder) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(
		r.store.Delete(ctx, errorsKey),
		r.store.Delete(ctx, successesKey),
	)
}

func (r *Recorder) loadErrors(ctx context.Context) (ErrorStats, error) {
	var stats ErrorStats
	err := r.store.Get(ctx, errorsKey, &stats)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return ErrorStats{}, err
	}
	if stats.Counts == nil {
		stats.Counts = make(map[Category]int64)
	}
	return stats, nil
}
