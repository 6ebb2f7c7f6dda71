package retry

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Limiter enforces a minimum spacing between consecutive remote calls.
// A single instance is shared by every client talking to the same backend,
// so concurrent callers serialize on the spacing.
type Limiter struct {
	lim *rate.Limiter
}

func NewLimiter(minDelay time.Duration) *Limiter {
	return &Limiter{lim: rate.NewLimiter(rate.Every(minDelay), 1)}
}

func (l *Limiter) Wait(ctx context.Context) error {
	return l.lim.Wait(ctx)
}

// Policy describes how a remote call is retried. Retryable decides whether
// an error is worth another attempt; anything else propagates immediately.
// Backoff may inspect the error, so throttling responses can wait a
// different cooldown than ordinary transient failures.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int, err error) time.Duration
	Retryable   func(err error) bool
}

// LinearBackoff grows the delay as (attempt+1) * base.
func LinearBackoff(base time.Duration) func(int, error) time.Duration {
	return func(attempt int, _ error) time.Duration {
		return time.Duration(attempt+1) * base
	}
}

// FixedBackoff waits the same delay after every failed attempt.
func FixedBackoff(delay time.Duration) func(int, error) time.Duration {
	return func(int, error) time.Duration {
		return delay
	}
}

// Do runs call under the policy, waiting on the limiter before each attempt.
// The error of the final attempt is returned.
func Do(ctx context.Context, l *Limiter, p Policy, call func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if l != nil {
			if werr := l.Wait(ctx); werr != nil {
				return werr
			}
		}
		err = call()
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := p.Backoff(attempt, err)
		logger.Warningf("Retryable error (attempt %d/%d), waiting %s: %s",
			attempt+1, p.MaxAttempts, delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
