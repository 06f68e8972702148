package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterWaitThrottlesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://api.ethicrawler.com/api/v1/log_request"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 10 RPS with burst 1 means the next token arrives ~100ms later.
	start := time.Now()
	if err := l.Wait(ctx, "https://api.ethicrawler.com/api/v1/log_request"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://a.example.com/1"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://b.example.com/1"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("host b blocked unexpectedly")
	}
}

func TestLimiterDisabledAndCanceled(t *testing.T) {
	t.Parallel()

	unlimited := New(Config{})
	for i := 0; i < 100; i++ {
		if err := unlimited.Wait(context.Background(), "https://a.example.com"); err != nil {
			t.Fatalf("unlimited wait failed: %v", err)
		}
	}

	l := New(Config{RPS: 0.001, Burst: 1})
	if err := l.Wait(context.Background(), "::bad url"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, "::bad url"); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
