package client

import (
	"context"
	"math/rand"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryPolicy controls how failed calls are retried.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         float64
}

// DefaultRetryPolicy returns three retries starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  1.5,
		Jitter:         0.2,
	}
}

// Retryable reports whether err is a transient transport failure. Engine
// errors are final.
func Retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.Aborted:
		return true
	}
	return false
}

// withRetry calls fn until it succeeds, fails with an error Retryable
// rejects, the policy runs out or ctx ends.
func withRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	backoff := policy.InitialBackoff
	var err error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err = fn(ctx)
		if err == nil || !Retryable(err) || attempt == policy.MaxRetries {
			return err
		}

		wait := backoff
		if policy.Jitter > 0 {
			wait = time.Duration(float64(wait) * (1 + rand.Float64()*policy.Jitter))
		}
		if wait > policy.MaxBackoff {
			wait = policy.MaxBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * policy.BackoffFactor)
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return err
}
