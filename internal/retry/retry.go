// Package retry runs remote calls under a bounded exponential backoff and
// reports the result as an explicit Outcome instead of an error chain.
package retry

import (
	"context"
	"errors"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy bounds a retried call
type Policy struct {
	MaxRetries int           // additional attempts after the first failure
	BaseDelay  time.Duration // first backoff delay, doubled on every retry
	MaxDelay   time.Duration // optional cap on a single delay (0 = uncapped)
}

// Outcome is the result of a retried call
type Outcome[T any] struct {
	Value    T
	Attempts int             // calls made, including the first
	Delays   []time.Duration // backoff delays waited between calls
	Err      error           // last failure; nil on success
}

// OK reports whether the call eventually succeeded
func (o Outcome[T]) OK() bool { return o.Err == nil }

// FailureFunc observes every failed attempt
type FailureFunc func(attempt int, err error)

// ErrPermanent marks an error that must not be retried
var ErrPermanent = errors.New("permanent failure")

// Do calls fn until it succeeds, returns a permanent error, the context ends,
// or MaxRetries retries have been spent. No delay precedes the first call.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error), onFailure FailureFunc) Outcome[T] {
	var out Outcome[T]

	backoff := newBackoff(p)
	recorded := goretry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := backoff.Next()
		if !stop {
			out.Delays = append(out.Delays, d)
		}
		return d, stop
	})

	err := goretry.Do(ctx, recorded, func(ctx context.Context) error {
		out.Attempts++
		v, err := fn(ctx)
		if err == nil {
			out.Value = v
			return nil
		}
		if onFailure != nil {
			onFailure(out.Attempts, err)
		}
		if ctx.Err() != nil || errors.Is(err, ErrPermanent) {
			return err
		}
		return goretry.RetryableError(err)
	})
	out.Err = err
	return out
}

func newBackoff(p Policy) goretry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := goretry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = goretry.WithCappedDuration(p.MaxDelay, b)
	}
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return goretry.WithMaxRetries(uint64(retries), b)
}
