package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Purger removes expired key/value rows. Stores that expire natively do not implement it.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// RunnerConfig controls the poll loop.
type RunnerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Runner polls a Scheduler and executes due jobs with their registered handlers.
type Runner struct {
	scheduler Scheduler
	clock     Clock
	cfg       RunnerConfig
	logger    *zap.Logger
	purger    Purger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRunner constructs a Runner. purger may be nil.
func NewRunner(scheduler Scheduler, clock Clock, purger Purger, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		scheduler: scheduler,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("jobs"),
		purger:    purger,
		handlers:  make(map[string]Handler),
	}
}

// Handle registers fn for jobs named name, replacing any previous handler.
func (r *Runner) Handle(name string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Run blocks, polling until ctx is canceled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.logger.Info("job runner started", zap.Duration("poll_interval", r.cfg.PollInterval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopped")
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle: every due job, then expired-row purging.
func (r *Runner) Tick(ctx context.Context) int {
	ran := 0
	for {
		due, err := r.scheduler.Due(ctx, r.clock.Now(), r.cfg.BatchSize)
		if err != nil {
			r.logger.Error("fetch due jobs failed", zap.Error(err))
		}
		for _, job := range due {
			r.execute(ctx, job)
			ran++
		}
		if err != nil || len(due) < r.cfg.BatchSize || ctx.Err() != nil {
			break
		}
	}

	if r.purger != nil {
		n, err := r.purger.PurgeExpired(ctx)
		switch {
		case err != nil:
			r.logger.Warn("purge expired entries failed", zap.Error(err))
		case n > 0:
			r.logger.Debug("purged expired entries", zap.Int64("count", n))
		}
	}
	return ran
}

func (r *Runner) execute(ctx context.Context, job Job) {
	r.mu.RLock()
	fn, ok := r.handlers[job.Name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("no handler for job", zap.String("job", job.Name), zap.String("key", job.Key))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("job handler panicked",
				zap.String("job", job.Name), zap.String("key", job.Key), zap.Any("panic", rec))
		}
	}()
	if err := fn(ctx, job.Key); err != nil {
		r.logger.Warn("job handler failed",
			zap.String("job", job.Name), zap.String("key", job.Key), zap.Error(err))
	}
}
