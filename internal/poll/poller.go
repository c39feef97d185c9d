// Package poll drives a remote job to a terminal state with a bounded number
// of status queries.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"
)

// StatusFetcher returns the current status of a job.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, h Handle) (JobStatus, error)
}

// StatusFetcherFunc adapts a function to StatusFetcher.
type StatusFetcherFunc func(ctx context.Context, h Handle) (JobStatus, error)

func (f StatusFetcherFunc) FetchStatus(ctx context.Context, h Handle) (JobStatus, error) {
	return f(ctx, h)
}

// ProgressFunc observes every status snapshot. Errors and panics raised by it
// are logged and never abort polling.
type ProgressFunc func(JobStatus) error

type Config struct {
	MaxAttempts int
	Delay       time.Duration
	OnProgress  ProgressFunc
}

type Result struct {
	Final     JobStatus
	Attempts  int
	Exhausted bool
	Cancelled bool
}

// PollError reports that the status of a job could not be determined.
type PollError struct {
	Handle  Handle
	Attempt int
	Err     error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll %s: attempt %d: %v", e.Handle, e.Attempt, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

var ErrInvalidConfig = errors.New("invalid poll config")

type waitFunc func(ctx context.Context, d time.Duration) error

type Poller struct {
	fetcher StatusFetcher
	wait    waitFunc
}

func New(fetcher StatusFetcher) *Poller {
	return &Poller{fetcher: fetcher, wait: sleep}
}

// PollUntilTerminal is a shorthand for New(fetcher).Run(ctx, h, cfg).
func PollUntilTerminal(ctx context.Context, fetcher StatusFetcher, h Handle, cfg Config) (Result, error) {
	return New(fetcher).Run(ctx, h, cfg)
}

// Run queries the status of h until it becomes terminal, cfg.MaxAttempts
// queries have been made, or ctx is done. A cancelled context yields a result
// with Cancelled set and a nil error; a failed query yields a *PollError.
func (p *Poller) Run(ctx context.Context, h Handle, cfg Config) (Result, error) {
	if cfg.MaxAttempts < 1 || cfg.Delay < 0 {
		return Result{}, fmt.Errorf("%w: max attempts %d, delay %s", ErrInvalidConfig, cfg.MaxAttempts, cfg.Delay)
	}

	var res Result
	for {
		if ctx.Err() != nil {
			res.Cancelled = true
			return res, nil
		}

		status, err := p.fetcher.FetchStatus(ctx, h)
		res.Attempts++
		if err != nil {
			// A fetch aborted by our own cancellation is not a fetch failure.
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				res.Cancelled = true
				return res, nil
			}
			return res, &PollError{Handle: h, Attempt: res.Attempts, Err: err}
		}
		res.Final = status
		notify(cfg.OnProgress, h, status)

		if status.State.Terminal() {
			return res, nil
		}
		if res.Attempts >= cfg.MaxAttempts {
			res.Exhausted = true
			return res, nil
		}

		log.Debug().
			Str("handle", h.String()).
			Int("attempt", res.Attempts).
			Int("max_attempts", cfg.MaxAttempts).
			Str("state", string(status.State)).
			Dur("delay", cfg.Delay).
			Msg("job not terminal, waiting")

		if ctx.Err() != nil {
			res.Cancelled = true
			return res, nil
		}
		if err := p.wait(ctx, cfg.Delay); err != nil {
			res.Cancelled = true
			return res, nil
		}
	}
}

func notify(fn ProgressFunc, h Handle, status JobStatus) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("handle", h.String()).Str("panic", fmt.Sprint(r)).Msg("progress callback panicked")
		}
	}()
	if err := fn(status); err != nil {
		log.Warn().Err(err).Str("handle", h.String()).Msg("progress callback failed")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
