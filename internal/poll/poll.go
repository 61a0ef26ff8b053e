// Package poll implements bounded fixed-interval polling.
package poll

import (
	"context"
	"time"

	"github.com/staffctl/staffctl/internal/failure"
)

// Check inspects the awaited condition once. Returning a non-nil error stops
// polling immediately.
type Check func(ctx context.Context) (done bool, err error)

// Poller waits Interval before every check. It gives up with a timeout
// failure after Attempts checks (when Attempts > 0) or once Timeout has
// elapsed (when Timeout > 0), whichever comes first.
type Poller struct {
	Interval time.Duration
	Attempts int
	Timeout  time.Duration
	Clock    Clock
}

// Sleep waits d on the poller's clock or until ctx is done.
func (p Poller) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock().After(d):
		return nil
	}
}

// Until runs check until it reports done. op names the wait in the timeout error.
// A poller with neither Attempts nor Timeout set is rejected.
func (p Poller) Until(ctx context.Context, op string, check Check) error {
	if p.Attempts <= 0 && p.Timeout <= 0 {
		return failure.Configuration(op, "poller needs a positive attempt count or timeout")
	}
	clock := p.clock()
	var deadline time.Time
	if p.Timeout > 0 {
		deadline = clock.Now().Add(p.Timeout)
	}

	for attempt := 1; ; attempt++ {
		if p.Attempts > 0 && attempt > p.Attempts {
			return failure.Timeout(op, "no result after %d attempts", p.Attempts)
		}
		if !deadline.IsZero() && !clock.Now().Before(deadline) {
			return failure.Timeout(op, "no result within %s", p.Timeout)
		}

		if err := p.Sleep(ctx, p.Interval); err != nil {
			return err
		}

		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (p Poller) clock() Clock {
	if p.Clock == nil {
		return Real()
	}
	return p.Clock
}
