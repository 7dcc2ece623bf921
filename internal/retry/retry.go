// Package retry runs an operation under a fixed-attempt, fixed-delay envelope.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds a retry envelope. There is no backoff: every wait is Delay.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Result carries the outcome of an envelope together with the attempts spent.
type Result[T any] struct {
	Value    T
	Err      error
	Attempts int
}

// OK reports whether the operation eventually succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; the envelope returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Run invokes op until it succeeds, returns a permanent error, the attempts are
// exhausted, or ctx is cancelled while waiting between attempts.
func Run[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) Result[T] {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var res Result[T]
	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempts = attempt
		res.Value, res.Err = op(ctx)
		if res.Err == nil {
			return res
		}
		if IsPermanent(res.Err) {
			res.Err = unwrapPermanent(res.Err)
			return res
		}
		if attempt == attempts {
			break
		}
		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				res.Err = errors.Join(res.Err, ctx.Err())
				return res
			case <-timer.C:
			}
		}
	}
	return res
}

// Do is Run for callers that only need the value and error.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	res := Run(ctx, p, op)
	return res.Value, res.Err
}

func unwrapPermanent(err error) error {
	var p *permanentError
	if errors.As(err, &p) {
		return p.err
	}
	return err
}
