package client

import (
	"testing"
	"time"
)

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	b := initialBackoff
	seen := []time.Duration{b}
	for i := 0; i < 10; i++ {
		b = nextBackoff(b)
		seen = append(seen, b)
	}
	for _, d := range seen {
		if d > maxBackoff {
			t.Fatalf("backoff %v exceeded cap %v", d, maxBackoff)
		}
	}
	if seen[len(seen)-1] != maxBackoff {
		t.Fatalf("expected backoff to saturate at %v, got %v", maxBackoff, seen[len(seen)-1])
	}
}
