package auth

import (
	"context"
	"time"
)

// BackoffFunc returns the delay before the given retry, counting from 1.
type BackoffFunc func(retry int) time.Duration

// LinearBackoff waits step, 2*step, 3*step...
func LinearBackoff(step time.Duration) BackoffFunc {
	return func(retry int) time.Duration {
		if retry < 1 {
			retry = 1
		}
		return time.Duration(retry) * step
	}
}

// ExponentialBackoff waits base, 2*base, 4*base...
func ExponentialBackoff(base time.Duration) BackoffFunc {
	return func(retry int) time.Duration {
		if retry < 1 {
			retry = 1
		}
		if retry > 16 {
			retry = 16
		}
		return base << (retry - 1)
	}
}

// attemptFunc runs one attempt. It returns retry=true when err is worth
// another attempt.
type attemptFunc func(ctx context.Context, attempt int) (retry bool, err error)

type retryPolicy struct {
	retries int
	backoff BackoffFunc
	clock   Clock
}

// run makes at most 1+retries attempts and stops early on success, on a
// non retryable error or when ctx is done.
func (p retryPolicy) run(ctx context.Context, fn attemptFunc) error {
	retries := p.retries
	if retries < 0 {
		retries = 0
	}

	clock := p.clock
	if clock == nil {
		clock = SystemClock
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		retry, err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		if !retry || attempt >= retries {
			return err
		}

		var delay time.Duration
		if p.backoff != nil {
			delay = p.backoff(attempt + 1)
		}

		if serr := clock.Sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}
