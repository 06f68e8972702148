package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/crawler-sentinel/internal/event"
)

func TestPublisherStoresEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := pub.Publish(context.Background(), event.New("s1", "GPTBot", "203.0.113.1", "/a", at)); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if err := pub.Publish(context.Background(), event.New("s1", "CCBot", "203.0.113.2", "/b", at)); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	events := pub.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].UserAgent != "GPTBot" || events[1].Path != "/b" {
		t.Fatalf("events not recorded correctly: %+v", events)
	}

	events[0].UserAgent = "modified"
	if pub.Events()[0].UserAgent == "modified" {
		t.Fatal("expected Events() to return a copy")
	}
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("boom")
	pub.FailWith(boom)
	if err := pub.Publish(context.Background(), event.ClassificationEvent{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	pub.FailWith(nil)
	if err := pub.Publish(context.Background(), event.ClassificationEvent{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.Events()) != 1 {
		t.Fatalf("expected only the successful publish to be recorded")
	}
}
