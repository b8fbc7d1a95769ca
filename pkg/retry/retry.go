// Package retry runs an operation again with jittered exponential backoff
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy defines how to retry an operation
type Policy struct {
	// MaxAttempts of 0 retries until the context is done
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is a sensible default retry policy
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// IsTransientFunc reports whether err is worth another attempt. A nil func treats every
// error not marked Permanent as transient.
type IsTransientFunc func(error) bool

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so Do returns it without retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Backoff is the wait after the given zero-based attempt: the doubled initial backoff,
// capped at MaxBackoff, plus up to 50% jitter
func (p Policy) Backoff(attempt int) time.Duration {
	backoff := p.InitialBackoff
	for i := 0; i < attempt && backoff < p.MaxBackoff; i++ {
		backoff *= 2
	}
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}
	if half := int64(backoff / 2); half > 0 {
		backoff += time.Duration(rand.Int63n(half))
	}
	return backoff
}

// Do calls fn until it succeeds, returns a non-transient error, the attempts run out or
// ctx is done. fn receives the zero-based attempt number.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func(attempt int) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if isTransient != nil && !isTransient(err) {
			return err
		}
		if policy.MaxAttempts > 0 && attempt+1 >= policy.MaxAttempts {
			return fmt.Errorf("gave up after %d attempts: %w", attempt+1, err)
		}

		timer := time.NewTimer(policy.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
