package habitica

import (
	"context"
	"sync"
	"time"
)

// DefaultMinInterval is the spacing Habitica asks third-party tools to keep
// between requests.
const DefaultMinInterval = 3 * time.Second

// rateLimiter spaces outgoing requests by a minimum interval, measured from
// the end of the previous request. Callers are serialised: a second caller
// waits behind the first one's sleep.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	if interval < 0 {
		interval = 0
	}
	return &rateLimiter{
		interval: interval,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// wait blocks until at least interval has passed since the previous call
// finished, or since it started while it is still in flight. It then records
// the current time as the start of a new call.
func (rl *rateLimiter) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.last.IsZero() {
		remaining := rl.interval - rl.now().Sub(rl.last)
		if remaining > 0 {
			if err := rl.sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}

	rl.last = rl.now()
	return nil
}

// done records the end of the call admitted by the last wait.
func (rl *rateLimiter) done() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.last = rl.now()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
