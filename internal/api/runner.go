package api

import (
	"context"
	"errors"
	"sync"

	"github.com/phuslu/log"

	"github.com/snapcollect/collector/internal/brightdata"
	"github.com/snapcollect/collector/internal/collect"
	"github.com/snapcollect/collector/internal/job"
)

var ErrRunNotActive = errors.New("run is not active")

// RunRequest starts a collection. Empty fields fall back to the server
// defaults.
type RunRequest struct {
	DatasetID string             `json:"dataset_id,omitempty"`
	Format    string             `json:"format,omitempty" validate:"omitempty,oneof=json ndjson jsonl csv"`
	Inputs    []brightdata.Input `json:"inputs,omitempty" validate:"omitempty,dive"`
}

// Runner executes collections in the background, one goroutine and one
// cancel function per run.
type Runner struct {
	collector *collect.Collector
	defaults  RunRequest
	ctx       context.Context

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner ties every run to ctx: cancelling it cancels all active runs.
func NewRunner(ctx context.Context, c *collect.Collector, defaults RunRequest) *Runner {
	return &Runner{
		collector: c,
		defaults:  defaults,
		ctx:       ctx,
		active:    make(map[string]context.CancelFunc),
	}
}

// Start records a new run and returns a copy of its initial record.
func (r *Runner) Start(req RunRequest) (*job.Job, error) {
	if req.DatasetID == "" {
		req.DatasetID = r.defaults.DatasetID
	}
	if req.Format == "" {
		req.Format = r.defaults.Format
	}
	if len(req.Inputs) == 0 {
		req.Inputs = r.defaults.Inputs
	}

	j, err := r.collector.NewJob(req.DatasetID)
	if err != nil {
		return nil, err
	}
	initial := *j

	ctx, cancel := context.WithCancel(r.ctx)
	r.mu.Lock()
	r.active[j.ID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(j.ID)

		_, err := r.collector.Run(ctx, collect.Request{
			DatasetID: req.DatasetID,
			Inputs:    req.Inputs,
			Format:    req.Format,
			Job:       j,
		})
		if err != nil {
			log.Warn().Err(err).Str("run_id", initial.ID).Msg("run did not complete")
		}
	}()

	return &initial, nil
}

// Cancel stops an active run. The run records its cancelled state itself.
func (r *Runner) Cancel(id string) error {
	r.mu.Lock()
	cancel, ok := r.active[id]
	r.mu.Unlock()
	if !ok {
		return ErrRunNotActive
	}
	cancel()
	return nil
}

func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Wait blocks until every started run has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	cancel := r.active[id]
	delete(r.active, id)
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
