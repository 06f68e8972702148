package deferred

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-sentinel/internal/metrics"
	"github.com/JakeFAU/crawler-sentinel/internal/telemetry"
)

// Config sizes the worker pool.
type Config struct {
	Workers    int
	QueueDepth int
}

// Recorder receives reports of dropped tasks.
type Recorder interface {
	RecordError(ctx context.Context, category telemetry.Category, msg string, fields map[string]string) telemetry.Category
}

// Option customizes an Executor.
type Option func(*Executor)

// WithRecorder reports dropped tasks to r. Reports are made by the workers, never by Submit.
func WithRecorder(r Recorder) Option {
	return func(e *Executor) {
		e.recorder = r
	}
}

// Executor is a fixed pool of workers consuming task batches from a bounded queue.
type Executor struct {
	queue    chan []Task
	workers  int
	logger   *zap.Logger
	recorder Recorder
	dropped  atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewExecutor constructs an Executor. Call Run to start the workers.
func NewExecutor(cfg Config, logger *zap.Logger, opts ...Option) *Executor {
	metrics.Init()
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth < 0 {
		cfg.QueueDepth = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		queue:   make(chan []Task, cfg.QueueDepth),
		workers: cfg.Workers,
		logger:  logger.Named("deferred"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run starts the workers and blocks until ctx is canceled. It then stops accepting new
// batches and returns once every queued batch has run.
func (e *Executor) Run(ctx context.Context) {
	taskCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range e.queue {
				metrics.SetQueueDepth(len(e.queue))
				e.runBatch(taskCtx, batch)
				e.reportDropped(taskCtx)
			}
		}()
	}

	<-ctx.Done()
	e.mu.Lock()
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	e.logger.Info("draining post-response tasks", zap.Int("queued", len(e.queue)))
	wg.Wait()
	e.reportDropped(taskCtx)
}

// Submit enqueues a batch without blocking. It reports false when the queue is full or the
// executor has shut down; the batch is then dropped.
func (e *Executor) Submit(tasks []Task) bool {
	if len(tasks) == 0 {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.drop(len(tasks), "executor stopped")
		return false
	}
	select {
	case e.queue <- tasks:
		metrics.SetQueueDepth(len(e.queue))
		return true
	default:
		e.drop(len(tasks), "queue full")
		return false
	}
}

// Middleware attaches a hook list to each request, serves it, flushes the response and then
// submits the registered tasks.
func (e *Executor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hooks := &Hooks{}
		next.ServeHTTP(w, r.WithContext(WithHooks(r.Context(), hooks)))

		tasks := hooks.seal()
		if len(tasks) == 0 {
			return
		}
		if err := http.NewResponseController(w).Flush(); err != nil {
			e.logger.Debug("response flush unsupported", zap.Error(err))
		}
		e.Submit(tasks)
	})
}

func (e *Executor) runBatch(ctx context.Context, batch []Task) {
	for _, task := range batch {
		e.runTask(ctx, task)
	}
}

func (e *Executor) runTask(ctx context.Context, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("post-response task panicked", zap.Any("panic", rec))
		}
	}()
	task(ctx)
}

// reportDropped records the tasks dropped since the previous report as one error.
func (e *Executor) reportDropped(ctx context.Context) {
	n := e.dropped.Swap(0)
	if n == 0 || e.recorder == nil {
		return
	}
	e.recorder.RecordError(ctx, telemetry.CategoryGeneral,
		fmt.Sprintf("post-response queue full, %d tasks dropped", n),
		map[string]string{"tasks": strconv.FormatInt(n, 10)})
}

func (e *Executor) drop(n int, reason string) {
	e.dropped.Add(int64(n))
	metrics.ObserveDroppedBatch()
	e.logger.Warn("dropped post-response tasks", zap.Int("tasks", n), zap.String("reason", reason))
}
