package sha256

import (
	"testing"
	"time"
)

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got := h.Hash([]byte("hello world"))
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again := h.Hash([]byte("hello world")); again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

func TestCorrelationIDMixesTimestamp(t *testing.T) {
	t.Parallel()

	h := New()
	payload := []byte(`{"site_id":"s1"}`)
	at := time.Unix(1_700_000_000, 123)

	id := h.CorrelationID(payload, at)
	if len(id) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(id))
	}
	if want := h.Hash([]byte(`{"site_id":"s1"}1700000000000000123`)); id != want {
		t.Fatalf("expected %s, got %s", want, id)
	}
	if other := h.CorrelationID(payload, at.Add(time.Nanosecond)); other == id {
		t.Fatal("expected different ids for different timestamps")
	}
	if string(payload) != `{"site_id":"s1"}` {
		t.Fatal("payload was modified")
	}
}
