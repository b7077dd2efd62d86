// Package pacer spaces successive gateway calls to stay under the
// provider's abuse threshold. It is a fixed-delay pacer, not a token
// bucket: no burst allowance, no adaptive backoff.
package pacer

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval matches the gateway's documented "wait ~3s" guidance.
const DefaultInterval = 3 * time.Second

// FixedDelay blocks each caller until at least Interval has passed since
// the previous call was admitted.
type FixedDelay struct {
	lim *rate.Limiter
}

// NewFixedDelay builds a pacer with the given minimum interval. A
// non-positive interval falls back to DefaultInterval.
func NewFixedDelay(interval time.Duration) *FixedDelay {
	if interval <= 0 {
		interval = DefaultInterval
	}
	lim := rate.NewLimiter(rate.Every(interval), 1)
	// Drain the initial token so the very first Pace already blocks a
	// full interval, mirroring a plain sleep-after-send loop.
	lim.Allow()
	return &FixedDelay{lim: lim}
}

// Pace blocks until the next gateway call is permitted, or until ctx is
// cancelled.
func (p *FixedDelay) Pace(ctx context.Context) error {
	return p.lim.Wait(ctx)
}
