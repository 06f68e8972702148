package retry

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-sentinel/internal/clock/system"
	"github.com/JakeFAU/crawler-sentinel/internal/delivery"
	"github.com/JakeFAU/crawler-sentinel/internal/event"
	"github.com/JakeFAU/crawler-sentinel/internal/jobs"
	jobsmemory "github.com/JakeFAU/crawler-sentinel/internal/jobs/memory"
	kvmemory "github.com/JakeFAU/crawler-sentinel/internal/kv/memory"
	"github.com/JakeFAU/crawler-sentinel/internal/telemetry"
)

type harness struct {
	clock    *system.Manual
	store    *kvmemory.Store
	jobs     *jobsmemory.Scheduler
	recorder *telemetry.Recorder
	retry    *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := system.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := kvmemory.NewStore(clk)
	sched := jobsmemory.NewScheduler()
	rec := telemetry.NewRecorder(store, clk, telemetry.Config{ErrorLogSize: 10, StatsTTL: 720 * time.Hour}, zap.NewNop())
	r := New(store, sched, rec, clk, Config{MaxAttempts: 3, BaseDelay: time.Minute, RecordTTL: 24 * time.Hour}, zap.NewNop())
	return &harness{clock: clk, store: store, jobs: sched, recorder: rec, retry: r}
}

func sampleEvent() event.ClassificationEvent {
	return event.New("site-1", "GPTBot/1.0", "203.0.113.1", "/", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func errorCount(t *testing.T, h *harness, cat telemetry.Category) int64 {
	t.Helper()
	stats, err := h.recorder.Errors(context.Background())
	require.NoError(t, err)
	return stats.Counts[cat]
}

func TestEnqueuePersistsAndSchedules(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	start := h.clock.Now()

	require.NoError(t, h.retry.Enqueue(ctx, "k1", sampleEvent()))

	rec, err := h.retry.Record(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, "k1", rec.RetryKey)
	require.Equal(t, sampleEvent(), rec.Payload)
	require.Equal(t, 1, rec.Attempts)
	require.Equal(t, start.Add(24*time.Hour), rec.Expiry)

	pending := h.jobs.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, jobs.Job{Name: JobName, Key: "k1", RunAt: start.Add(time.Minute)}, pending[0])

	ok, err := h.retry.Pending(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestScheduleRetryIsIdempotentWhilePending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.retry.Enqueue(ctx, "k1", sampleEvent()))
	require.NoError(t, h.retry.ScheduleRetry(ctx, "k1"))
	require.NoError(t, h.retry.ScheduleRetry(ctx, "k1"))

	require.Len(t, h.jobs.Pending(), 1)
	rec, err := h.retry.Record(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, 1, rec.Attempts)
}

func TestScheduleRetryMissingRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	require.ErrorIs(t, h.retry.ScheduleRetry(ctx, "ghost"), ErrRecordMissing)
	require.Empty(t, h.jobs.Pending())
	require.Equal(t, int64(1), errorCount(t, h, telemetry.CategoryRetry))
}

func TestScheduleRetryExhausted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	rec := event.RetryRecord{RetryKey: "k1", Payload: sampleEvent(), Attempts: 3, Expiry: h.clock.Now().Add(time.Hour)}
	require.NoError(t, h.store.Set(ctx, recordKey("k1"), rec, time.Hour))

	require.NoError(t, h.retry.ScheduleRetry(ctx, "k1"))

	_, err := h.retry.Record(ctx, "k1")
	require.ErrorIs(t, err, ErrRecordMissing)
	require.Empty(t, h.jobs.Pending())

	stats, err := h.recorder.Errors(ctx)
	require.NoError(t, err)
	require.Equal(t, "max retries exceeded", stats.Recent[len(stats.Recent)-1].Message)
}

func TestScheduleRetryKeepsRemainingTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.retry.Enqueue(ctx, "k1", sampleEvent()))

	// Claim the pending job so the next schedule is not a no-op.
	h.clock.Advance(23*time.Hour + 59*time.Minute)
	_, err := h.jobs.Due(ctx, h.clock.Now(), 0)
	require.NoError(t, err)
	require.NoError(t, h.retry.ScheduleRetry(ctx, "k1"))

	// The record still expires at the original deadline even though the job is later.
	h.clock.Advance(2 * time.Minute)
	_, err = h.retry.Record(ctx, "k1")
	require.ErrorIs(t, err, ErrRecordMissing)
}

func TestScheduleRetryDelayNeverOutlivesRecord(t *testing.T) {
	t.Parallel()

	// Large attempt counts overflow the shift or exceed the record lifetime.
	for _, attempts := range []int{5, 40, 63, 70} {
		t.Run(strconv.Itoa(attempts), func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			clk := system.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
			store := kvmemory.NewStore(clk)
			sched := jobsmemory.NewScheduler()
			rec := telemetry.NewRecorder(store, clk, telemetry.Config{ErrorLogSize: 10, StatsTTL: time.Hour}, zap.NewNop())
			r := New(store, sched, rec, clk, Config{MaxAttempts: 100, BaseDelay: time.Hour, RecordTTL: 24 * time.Hour}, zap.NewNop())

			expiry := clk.Now().Add(6 * time.Hour)
			record := event.RetryRecord{RetryKey: "k1", Payload: sampleEvent(), Attempts: attempts, Expiry: expiry}
			require.NoError(t, store.Set(ctx, recordKey("k1"), record, 6*time.Hour))

			require.NoError(t, r.ScheduleRetry(ctx, "k1"))

			pending := sched.Pending()
			require.Len(t, pending, 1)
			require.True(t, pending[0].RunAt.After(clk.Now()))
			require.Equal(t, expiry, pending[0].RunAt)
		})
	}
}

type fakeRedeliverer struct {
	calls []event.RetryRecord
	err   error
}

func (f *fakeRedeliverer) Redeliver(_ context.Context, rec event.RetryRecord) error {
	f.calls = append(f.calls, rec)
	return f.err
}

func TestHandlerMissingRecordIsSafe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	r := &fakeRedeliverer{}
	handle := h.retry.Handler(r)

	require.NoError(t, handle(ctx, "gone"))
	require.NoError(t, handle(ctx, "gone"))
	require.Empty(t, r.calls)
	require.Empty(t, h.jobs.Pending())
	require.Equal(t, int64(2), errorCount(t, h, telemetry.CategoryRetry))
}

func TestHandlerPassesRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.retry.Enqueue(ctx, "k1", sampleEvent()))

	r := &fakeRedeliverer{err: errors.New("backend down")}
	require.EqualError(t, h.retry.Handler(r)(ctx, "k1"), "backend down")
	require.Len(t, r.calls, 1)
	require.Equal(t, 1, r.calls[0].Attempts)
}

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr
}

type fixedKeys struct{}

func (fixedKeys) RetryKey([]byte, time.Time) string { return "rk" }

func TestBackoffSequenceThenPurge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	engine := delivery.NewEngine(delivery.Config{
		BackendURL:          closedAddr(t),
		UserAgent:           "EthiCrawler/1.0.0",
		FirstAttemptTimeout: 200 * time.Millisecond,
		RetryTimeout:        200 * time.Millisecond,
	}, h.recorder, h.retry, nil, fixedKeys{}, h.clock, zap.NewNop())
	runner := jobs.NewRunner(h.jobs, h.clock, nil, jobs.RunnerConfig{PollInterval: time.Second}, zap.NewNop())
	runner.Handle(JobName, h.retry.Handler(engine))

	require.Error(t, engine.Deliver(ctx, sampleEvent()))

	for _, delay := range []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute} {
		pending := h.jobs.Pending()
		require.Len(t, pending, 1)
		require.Equal(t, h.clock.Now().Add(delay), pending[0].RunAt)

		// Nothing runs before the job is due.
		h.clock.Advance(delay - time.Second)
		require.Equal(t, 0, runner.Tick(ctx))

		h.clock.Advance(time.Second)
		require.Equal(t, 1, runner.Tick(ctx))
	}

	require.Empty(t, h.jobs.Pending())
	_, err := h.retry.Record(ctx, "rk")
	require.ErrorIs(t, err, ErrRecordMissing)

	stats, err := h.recorder.Errors(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), stats.Counts[telemetry.CategoryGeneral])
	require.Equal(t, int64(1), stats.Counts[telemetry.CategoryRetry])
	require.Equal(t, "max retries exceeded", stats.Recent[len(stats.Recent)-1].Message)

	successes, err := h.recorder.Successes(ctx)
	require.NoError(t, err)
	require.Zero(t, successes.Total)
}
