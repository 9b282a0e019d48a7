package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// minBurst keeps the token bucket large enough for typical read buffers.
const minBurst = 32 * 1024

// Bandwidth caps aggregate throughput in bytes per second.
// A zero or negative limit means unlimited.
type Bandwidth struct {
	limiter *rate.Limiter
}

// NewBandwidth creates a bandwidth limiter.
func NewBandwidth(bytesPerSec int64) *Bandwidth {
	limit, burst := limitFor(bytesPerSec)
	return &Bandwidth{limiter: rate.NewLimiter(limit, burst)}
}

// SetLimit changes the limit at runtime.
func (b *Bandwidth) SetLimit(bytesPerSec int64) {
	limit, burst := limitFor(bytesPerSec)
	b.limiter.SetBurst(burst)
	b.limiter.SetLimit(limit)
}

func limitFor(bytesPerSec int64) (rate.Limit, int) {
	if bytesPerSec <= 0 {
		return rate.Inf, minBurst
	}
	burst := int(bytesPerSec)
	if burst < minBurst {
		burst = minBurst
	}
	return rate.Limit(bytesPerSec), burst
}

// Unlimited reports whether the limiter lets everything through.
func (b *Bandwidth) Unlimited() bool {
	return b == nil || b.limiter.Limit() == rate.Inf
}

// WaitN blocks until n bytes may pass or ctx is done.
func (b *Bandwidth) WaitN(ctx context.Context, n int) error {
	if b.Unlimited() {
		return nil
	}
	burst := b.limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := b.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
