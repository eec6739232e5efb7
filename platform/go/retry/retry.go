// Package retry runs operations under a bounded, linearly increasing backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop. Attempt n (1-based) that fails with a retryable
// error is followed by a wait of min(Base*n, Cap).
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultPolicy waits 2s, 4s, ... capped at 10s, for at most 15 attempts.
func DefaultPolicy() Policy {
	return Policy{Base: 2 * time.Second, Cap: 10 * time.Second, MaxAttempts: 15}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Cap <= 0 {
		p.Cap = d.Cap
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

// Linear is a backoff.BackOff whose n-th interval is min(Base*n, Cap).
type Linear struct {
	Base time.Duration
	Cap  time.Duration
	n    int64
}

// NextBackOff implements backoff.BackOff.
func (l *Linear) NextBackOff() time.Duration {
	l.n++
	d := l.Base * time.Duration(l.n)
	if d > l.Cap {
		return l.Cap
	}
	return d
}

// Reset implements backoff.BackOff.
func (l *Linear) Reset() { l.n = 0 }

// Permanent marks err as non-retryable; Do returns it after the current attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// Operation is one attempt; attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// NotifyFunc observes a failed attempt before the wait that follows it.
type NotifyFunc func(attempt int, err error, wait time.Duration)

// Do runs op until it succeeds, returns a Permanent error, the attempt ceiling
// is reached or ctx is done. It returns the number of attempts made and the
// last error with any Permanent wrapper removed.
func Do(ctx context.Context, policy Policy, op Operation, notify NotifyFunc) (int, error) {
	policy = policy.normalized()

	var b backoff.BackOff = &Linear{Base: policy.Base, Cap: policy.Cap}
	b = backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return op(ctx, attempt)
	}, b, func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempt, err, wait)
		}
	})
	return attempt, err
}
