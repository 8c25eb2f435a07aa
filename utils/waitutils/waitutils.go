package waitutils

import (
	"context"
	"fmt"
	"time"
)

// DefaultPeriod is the probe spacing used when the caller does not specify one.
const DefaultPeriod = 500 * time.Millisecond

// TimeoutError indicates that a bounded wait reached its deadline without the
// probe ever producing a result.  It is distinct from control-plane application
// errors so that callers can choose a different retry/backoff strategy.
type TimeoutError struct {
	Label    string
	Deadline time.Time
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("wait for %s did not complete before deadline %s", e.Label, e.Deadline.Format(time.RFC3339))
}

// WaitFor repeatedly invokes probe, separated by period of suspension, until it
// produces a non-nil result or deadline is reached.
//
// The first non-nil result is returned and the probe is never invoked again
// afterwards.  A probe error propagates immediately; it is not treated as
// "not yet true".  When the deadline elapses (including a deadline already in
// the past) a *TimeoutError carrying label is returned without sleeping.  The
// suspension observes ctx, so cancelling the context unblocks the wait.
func WaitFor[T any](ctx context.Context, label string, probe func(ctx context.Context) (*T, error), deadline time.Time, period time.Duration) (*T, error) {
	if period <= 0 {
		period = DefaultPeriod
	}

	for {
		res, err := probe(ctx)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}

		now := time.Now()
		if !now.Before(deadline) {
			return nil, &TimeoutError{Label: label, Deadline: deadline}
		}

		sleep := period
		if remaining := deadline.Sub(now); remaining < sleep {
			sleep = remaining
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
