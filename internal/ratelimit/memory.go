package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// bucketIdleTTL is how long an untouched bucket survives before the
	// janitor drops it. Long enough to outlive a keeper's pause between
	// sandbox test turns.
	bucketIdleTTL = 10 * time.Minute
	janitorPeriod = time.Minute
)

// bucket tracks one key's spend. Tokens are fractional so refill accrues
// smoothly between requests.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// MemoryLimiter is the in-process Limiter used by the API: one token bucket
// per operator (turn and validate routes) or client IP (token issuance).
// A janitor goroutine drops idle buckets so abandoned clients don't pin
// memory; Close stops it.
type MemoryLimiter struct {
	rate  float64 // refill, tokens per second
	burst float64 // bucket capacity

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter allowing a sustained rate of requests
// per second per key, with bursts up to burst.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Allow spends one token from key's bucket, reporting whether one was
// available. A key's first request always passes: the bucket starts full.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b := m.buckets[key]
	if b == nil {
		b = &bucket{tokens: m.burst}
		m.buckets[key] = b
	} else {
		b.tokens = min(m.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*m.rate)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the janitor. Idempotent.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) janitor() {
	ticker := time.NewTicker(janitorPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.dropIdle(time.Now().Add(-bucketIdleTTL))
		}
	}
}

// dropIdle removes buckets untouched since before cutoff. An evicted key
// simply starts over with a full bucket, which is the correct state for a
// client that has been quiet that long.
func (m *MemoryLimiter) dropIdle(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
