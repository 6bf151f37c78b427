// Package ratelimit implements the token bucket described in the design
// burst cap, tokens-per-period rate, current tokens and last
// refill time both held atomically so concurrent workers can consume
// without a mutex. It is grounded on golang.org/x/time/rate's
// CAS-and-retry shape (seen in the pack via tomtom215-cartographus and
// yndnr-tokmesh-go's go.sum) but implements this package's exact algorithm
// — "attempt one atomic compare-and-swap to subtract; on insufficient
// tokens, sleep 500 ms and retry" — rather than x/time/rate's leaky
// reservation model, since the testable property in the design
// ("observed throughput <= rate*T + burst") is stated in terms of this
// specific CAS-and-retry discipline.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"
)

// retryInterval is the sleep between failed consume attempts, fixed by
// the design.
const retryInterval = 500 * time.Millisecond

// Bucket is a single token bucket: burst cap, refill rate per period,
// current token count, and last-refill timestamp, the last two held as
// atomics so Consume needs no lock.
type Bucket struct {
	burst  int64
	rate   int64
	period time.Duration

	tokens     atomic.Int64
	lastRefill atomic.Int64 // unix nanoseconds

	now func() time.Time // overridable for tests
}

// New builds a Bucket starting full (tokens == burst). rate is the
// number of tokens added per period. A zero rate or zero burst means
// "unlimited" — Consume and Would always succeed immediately.
func New(burst, rate int64, period time.Duration) *Bucket {
	b := &Bucket{burst: burst, rate: rate, period: period, now: time.Now}
	b.tokens.Store(burst)
	b.lastRefill.Store(b.now().UnixNano())
	return b
}

// Unlimited reports whether this bucket enforces no cap.
func (b *Bucket) Unlimited() bool { return b.burst <= 0 || b.rate <= 0 }

func (b *Bucket) refill() {
	if b.period <= 0 {
		return
	}
	now := b.now().UnixNano()
	last := b.lastRefill.Load()
	elapsed := now - last
	periodNanos := b.period.Nanoseconds()
	if elapsed < periodNanos {
		return
	}
	if !b.lastRefill.CompareAndSwap(last, now) {
		return // another goroutine already advanced the clock this tick
	}
	add := int64(float64(b.rate) * (float64(elapsed) / float64(periodNanos)))
	for {
		cur := b.tokens.Load()
		next := cur + add
		if next > b.burst {
			next = b.burst
		}
		if b.tokens.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Would reports whether n tokens are available right now, without
// consuming them. Used by stages that want to size a chunk before
// committing to it.
func (b *Bucket) Would(n int64) bool {
	if b.Unlimited() {
		return true
	}
	b.refill()
	return b.tokens.Load() >= n
}

// Consume blocks, retrying every 500ms, until n tokens have been
// atomically subtracted from the bucket. ctx cancellation is the
// cooperative stop point the design calls out ("token bucket
// waits" as a suspension point workers poll at).
func (b *Bucket) Consume(ctx context.Context, n int64) error {
	if b.Unlimited() {
		return nil
	}
	for {
		b.refill()
		cur := b.tokens.Load()
		if cur >= n {
			if b.tokens.CompareAndSwap(cur, cur-n) {
				return nil
			}
			continue // lost the race to another consumer, retry immediately
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}
