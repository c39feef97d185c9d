package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
}

func TestRetryingFetcher_RetriesTransientErrors(t *testing.T) {
	f := &scriptedFetcher{
		states: []State{StateReady},
		errAt:  map[int]error{1: errors.New("timeout"), 2: errors.New("timeout")},
	}
	r := NewRetryingFetcher(f, WithBackOff(fastPolicy))

	status, err := r.FetchStatus(context.Background(), "snap-1")
	require.NoError(t, err)
	assert.Equal(t, StateReady, status.State)
	assert.Equal(t, 3, f.calls)
}

func TestRetryingFetcher_GivesUpOnPermanentErrors(t *testing.T) {
	denied := errors.New("forbidden")
	f := &scriptedFetcher{states: []State{StateReady}, errAt: map[int]error{1: denied}}
	r := NewRetryingFetcher(f,
		WithBackOff(fastPolicy),
		WithRetryable(func(err error) bool { return !errors.Is(err, denied) }),
	)

	_, err := r.FetchStatus(context.Background(), "snap-1")
	require.ErrorIs(t, err, denied)
	assert.Equal(t, 1, f.calls)
}

func TestRetryingFetcher_ExhaustedRetriesReturnLastError(t *testing.T) {
	down := errors.New("service unavailable")
	f := &scriptedFetcher{
		states: []State{StateReady},
		errAt:  map[int]error{1: down, 2: down, 3: down, 4: down},
	}
	r := NewRetryingFetcher(f, WithBackOff(fastPolicy))

	_, err := r.FetchStatus(context.Background(), "snap-1")
	require.ErrorIs(t, err, down)
	assert.Equal(t, 4, f.calls)
}

func TestRetryingFetcher_InsidePollerStillSurfacesPollError(t *testing.T) {
	down := errors.New("service unavailable")
	f := &scriptedFetcher{
		states: []State{StateRunning},
		errAt:  map[int]error{1: down, 2: down, 3: down, 4: down},
	}
	r := NewRetryingFetcher(f, WithBackOff(fastPolicy))

	_, err := PollUntilTerminal(context.Background(), r, "snap-1", Config{MaxAttempts: 3})
	var pollErr *PollError
	require.ErrorAs(t, err, &pollErr)
	assert.Equal(t, 1, pollErr.Attempt)
}
