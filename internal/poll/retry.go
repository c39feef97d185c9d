package poll

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/phuslu/log"
)

// Retryable classifies fetch errors. Errors for which it returns false stop
// the retry loop immediately.
type Retryable func(error) bool

// RetryingFetcher wraps a StatusFetcher and retries failed queries with
// exponential backoff. The poller itself never retries; callers opt in
// by wrapping their fetcher.
type RetryingFetcher struct {
	next      StatusFetcher
	newPolicy func() backoff.BackOff
	retryable Retryable
}

type RetryOption func(*RetryingFetcher)

// WithBackOff replaces the default policy. newPolicy is called once per query.
func WithBackOff(newPolicy func() backoff.BackOff) RetryOption {
	return func(r *RetryingFetcher) {
		r.newPolicy = newPolicy
	}
}

func WithRetryable(fn Retryable) RetryOption {
	return func(r *RetryingFetcher) {
		r.retryable = fn
	}
}

// NewRetryingFetcher retries each query for up to two minutes, starting at 1s.
func NewRetryingFetcher(next StatusFetcher, opts ...RetryOption) *RetryingFetcher {
	r := &RetryingFetcher{
		next: next,
		newPolicy: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
		retryable: func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RetryingFetcher) FetchStatus(ctx context.Context, h Handle) (JobStatus, error) {
	var status JobStatus
	operation := func() error {
		var err error
		status, err = r.next.FetchStatus(ctx, h)
		if err != nil && !r.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("handle", h.String()).Dur("retry_in", wait).Msg("status fetch failed, retrying")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(r.newPolicy(), ctx), notify); err != nil {
		return JobStatus{}, err
	}
	return status, nil
}
