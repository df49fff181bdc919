package app

import (
	"context"
	"time"

	"live-quiz-service/internal/domain"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how long a transient store failure is retried before it surfaces.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     3 * time.Second,
	}
}

// do runs op until it succeeds, fails permanently, exhausts the policy or ctx ends.
// Only domain.ErrPersistence failures are retried.
func (p RetryPolicy) do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := op()
		if err == nil || domain.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx))
}
