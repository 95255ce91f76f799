package ratelimit

import "testing"

func TestBucketAllowsUpToCapacity(t *testing.T) {
	b := NewBucket(3, 0)
	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("expected token %d to be available", i)
		}
	}
	if b.Allow() {
		t.Fatalf("expected bucket to be empty")
	}
}

func TestLimiterPerPeerIsolation(t *testing.T) {
	l := NewLimiter(1, 0)
	if !l.Allow("peer-a") {
		t.Fatalf("peer-a first request should be allowed")
	}
	if l.Allow("peer-a") {
		t.Fatalf("peer-a second request should be rate limited")
	}
	if !l.Allow("peer-b") {
		t.Fatalf("peer-b should have its own bucket")
	}
}

func TestLimiterForget(t *testing.T) {
	l := NewLimiter(1, 0)
	l.Allow("peer-a")
	l.Forget("peer-a")
	if !l.Allow("peer-a") {
		t.Fatalf("expected a fresh bucket after Forget")
	}
}
