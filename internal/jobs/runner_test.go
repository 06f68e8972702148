package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-sentinel/internal/jobs"
	"github.com/JakeFAU/crawler-sentinel/internal/jobs/memory"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type countingPurger struct {
	calls int
	err   error
}

func (p *countingPurger) PurgeExpired(context.Context) (int64, error) {
	p.calls++
	return 3, p.err
}

func TestRunnerTickRunsDueJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	sched := memory.NewScheduler()
	purger := &countingPurger{}
	runner := jobs.NewRunner(sched, clock, purger, jobs.RunnerConfig{PollInterval: time.Second, BatchSize: 2}, zap.NewNop())

	var seen []string
	runner.Handle("sentinel_retry", func(_ context.Context, key string) error {
		seen = append(seen, key)
		if key == "bad" {
			return errors.New("boom")
		}
		return nil
	})

	for i, key := range []string{"a", "bad", "c"} {
		_, err := sched.Schedule(ctx, jobs.Job{Name: "sentinel_retry", Key: key, RunAt: clock.now.Add(-time.Duration(3-i) * time.Second)})
		require.NoError(t, err)
	}
	_, err := sched.Schedule(ctx, jobs.Job{Name: "sentinel_retry", Key: "future", RunAt: clock.now.Add(time.Minute)})
	require.NoError(t, err)
	_, err = sched.Schedule(ctx, jobs.Job{Name: "unknown", Key: "x", RunAt: clock.now})
	require.NoError(t, err)

	ran := runner.Tick(ctx)
	require.Equal(t, 4, ran)
	require.ElementsMatch(t, []string{"a", "bad", "c"}, seen)
	require.Equal(t, 1, purger.calls)

	// Failed jobs are not rescheduled by the runner.
	ok, err := sched.IsScheduled(ctx, "sentinel_retry", "bad")
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, sched.Pending(), 1)

	clock.now = clock.now.Add(2 * time.Minute)
	require.Equal(t, 1, runner.Tick(ctx))
	require.Equal(t, "future", seen[len(seen)-1])
}

func TestRunnerRecoversHandlerPanic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	sched := memory.NewScheduler()
	runner := jobs.NewRunner(sched, clock, nil, jobs.RunnerConfig{}, nil)
	runner.Handle("p", func(context.Context, string) error { panic("nope") })

	_, err := sched.Schedule(ctx, jobs.Job{Name: "p", Key: "k", RunAt: clock.now})
	require.NoError(t, err)
	require.NotPanics(t, func() { runner.Tick(ctx) })
}

func TestRunnerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	clock := &fixedClock{now: time.Unix(1_700_000_000, 0)}
	sched := memory.NewScheduler()
	runner := jobs.NewRunner(sched, clock, nil, jobs.RunnerConfig{PollInterval: 5 * time.Millisecond}, zap.NewNop())

	done := make(chan struct{})
	handled := make(chan string, 1)
	runner.Handle("j", func(_ context.Context, key string) error {
		handled <- key
		return nil
	})
	_, err := sched.Schedule(ctx, jobs.Job{Name: "j", Key: "k", RunAt: clock.now})
	require.NoError(t, err)

	go func() {
		runner.Run(ctx)
		close(done)
	}()

	select {
	case key := <-handled:
		require.Equal(t, "k", key)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not handled")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
