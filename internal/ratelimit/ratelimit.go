/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Per-peer token-bucket rate limiting, supplementing the original
 * implementation's rate_limiter.rs (original_source/crates/server/src,
 * per _INDEX.md): caps the rate of SubmitTransfer commands a single
 * peer can push into the device manager's command queue.
 */

package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a classic token bucket: capacity tokens, refilled at
// refillPerSec tokens/second, never exceeding capacity.
type Bucket struct {
	mu sync.Mutex

	capacity     float64
	refillPerSec float64
	tokens       float64
	last         time.Time
}

// NewBucket builds a bucket with the given capacity and refill rate.
func NewBucket(capacity, refillPerSec float64) *Bucket {
	return &Bucket{
		capacity:     capacity,
		refillPerSec: refillPerSec,
		tokens:       capacity,
		last:         time.Now(),
	}
}

// Allow consumes one token if available and reports whether it did.
func (b *Bucket) Allow() bool {
	return b.AllowN(1)
}

// AllowN consumes n tokens if available.
func (b *Bucket) AllowN(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now

	b.tokens += elapsed * b.refillPerSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}

	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Limiter keys a Bucket per peer id, creating buckets lazily with the
// configured defaults on first use.
type Limiter struct {
	mu           sync.Mutex
	capacity     float64
	refillPerSec float64
	buckets      map[string]*Bucket
}

// NewLimiter builds a Limiter whose per-peer buckets share capacity and
// refillPerSec.
func NewLimiter(capacity, refillPerSec float64) *Limiter {
	return &Limiter{
		capacity:     capacity,
		refillPerSec: refillPerSec,
		buckets:      make(map[string]*Bucket),
	}
}

// Allow reports whether peerID may perform one more rate-limited
// operation right now.
func (l *Limiter) Allow(peerID string) bool {
	return l.bucketFor(peerID).Allow()
}

func (l *Limiter) bucketFor(peerID string) *Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[peerID]
	if !ok {
		b = NewBucket(l.capacity, l.refillPerSec)
		l.buckets[peerID] = b
	}
	return b
}

// Forget drops the bucket for peerID, used on disconnect so the map
// does not grow without bound across reconnect churn.
func (l *Limiter) Forget(peerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, peerID)
}
