// Package collect runs one collection end to end: trigger, poll, download and
// save, recording every step in the run history.
package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"

	"github.com/snapcollect/collector/internal/brightdata"
	"github.com/snapcollect/collector/internal/job"
	"github.com/snapcollect/collector/internal/output"
	"github.com/snapcollect/collector/internal/poll"
)

type Trigger interface {
	Trigger(ctx context.Context, datasetID string, inputs []brightdata.Input) (poll.Handle, error)
}

type ResultFetcher interface {
	Download(ctx context.Context, h poll.Handle, format string) ([]byte, error)
}

// API is the full surface of the collection service used by a Collector.
type API interface {
	Trigger
	poll.StatusFetcher
	ResultFetcher
}

// Events receives run observations, e.g. for streaming to subscribers.
type Events interface {
	RunProgress(j *job.Job, status poll.JobStatus)
	RunFinished(j *job.Job)
}

type noEvents struct{}

func (noEvents) RunProgress(*job.Job, poll.JobStatus) {}
func (noEvents) RunFinished(*job.Job)                 {}

// Policy bounds polling. Timeout of zero means no wall-clock limit.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Timeout     time.Duration
}

// DefaultPolicy checks every 30 seconds, ten times.
var DefaultPolicy = Policy{MaxAttempts: 10, Delay: 30 * time.Second}

type Request struct {
	DatasetID string
	Inputs    []brightdata.Input
	Format    string

	// Job, when set, is an already stored record to run under. Otherwise a
	// new one is created.
	Job *job.Job
}

type Outcome struct {
	Job        *job.Job
	Handle     poll.Handle
	Poll       poll.Result
	OutputPath string
}

type Collector struct {
	trigger Trigger
	status  poll.StatusFetcher
	results ResultFetcher
	store   job.JobStore
	output  *output.Store
	events  Events
	policy  Policy
	now     func() time.Time
}

type Option func(*Collector)

func WithEvents(events Events) Option {
	return func(c *Collector) {
		c.events = events
	}
}

func WithPolicy(p Policy) Option {
	return func(c *Collector) {
		c.policy = p
	}
}

// WithStatusFetcher overrides the status source, typically with a
// poll.RetryingFetcher around the API.
func WithStatusFetcher(f poll.StatusFetcher) Option {
	return func(c *Collector) {
		c.status = f
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

func New(api API, store job.JobStore, out *output.Store, opts ...Option) *Collector {
	c := &Collector{
		trigger: api,
		status:  api,
		results: api,
		store:   store,
		output:  out,
		events:  noEvents{},
		policy:  DefaultPolicy,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewJob creates and stores the record a later Run can be given.
func (c *Collector) NewJob(datasetID string) (*job.Job, error) {
	j := job.New(datasetID, c.policy.MaxAttempts)
	if err := c.store.Add(j); err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}
	return j, nil
}

// Run executes one collection. The returned Outcome is always non-nil and
// carries the run record in its final state. Errors are *TriggerError,
// *poll.PollError, *IncompleteError or *DownloadError.
func (c *Collector) Run(ctx context.Context, req Request) (*Outcome, error) {
	j := req.Job
	if j == nil {
		var err error
		if j, err = c.NewJob(req.DatasetID); err != nil {
			return &Outcome{}, err
		}
	}
	out := &Outcome{Job: j}
	info := func() *log.Entry {
		return log.Info().Str("run_id", j.ID).Str("dataset_id", req.DatasetID)
	}

	info().Int("inputs", len(req.Inputs)).Msg("starting collection")
	h, err := c.trigger.Trigger(ctx, req.DatasetID, req.Inputs)
	if err != nil {
		return out, c.fail(j, job.StateFailed, &TriggerError{DatasetID: req.DatasetID, Err: err})
	}
	out.Handle = h
	j.SnapshotID = h.String()
	j.State = job.StateTriggered
	c.save(j)
	info().Str("snapshot_id", j.SnapshotID).Msg("collection triggered, waiting for completion")

	pollCtx := ctx
	if c.policy.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, c.policy.Timeout)
		defer cancel()
	}

	cfg := poll.Config{
		MaxAttempts: c.policy.MaxAttempts,
		Delay:       c.policy.Delay,
		OnProgress: func(status poll.JobStatus) error {
			j.Observe(status)
			c.events.RunProgress(j, status)
			info().
				Str("status", status.Raw).
				Int("attempt", j.Attempts).
				Int("max_attempts", c.policy.MaxAttempts).
				Int("pages_crawled", status.Progress.PagesCrawled).
				Int("pages_extracted", status.Progress.PagesExtracted).
				Msg("progress")
			return c.store.Update(j)
		},
	}

	res, err := poll.New(c.status).Run(pollCtx, h, cfg)
	if res.Cancelled && ctx.Err() == nil {
		// Only the wall-clock budget ran out.
		res.Cancelled, res.Exhausted = false, true
	}
	out.Poll = res
	j.Attempts = res.Attempts
	if err != nil {
		return out, c.fail(j, job.StateFailed, err)
	}

	switch {
	case res.Cancelled:
		return out, c.fail(j, job.StateCancelled, c.incomplete(h, res))
	case res.Exhausted:
		return out, c.fail(j, job.StateExhausted, c.incomplete(h, res))
	case res.Final.State != poll.StateReady:
		return out, c.fail(j, job.StateFailed, c.incomplete(h, res))
	}

	j.State = job.StateReady
	c.save(j)
	info().Int("attempts", res.Attempts).Msg("collection ready, downloading results")

	format := req.Format
	if format == "" {
		format = "json"
	}
	data, err := c.results.Download(ctx, h, format)
	if err != nil {
		return out, c.fail(j, job.StateFailed, &DownloadError{Handle: h, Err: err})
	}

	path, err := c.output.Save(c.now(), data)
	if err != nil {
		return out, c.fail(j, job.StateFailed, &DownloadError{Handle: h, Err: err})
	}
	out.OutputPath = path
	j.OutputPath = path
	j.Finish(job.StateCompleted, "")
	c.save(j)
	c.events.RunFinished(j)

	info().Str("output", path).Int("bytes", len(data)).Msg("results saved")
	return out, nil
}

func (c *Collector) incomplete(h poll.Handle, res poll.Result) *IncompleteError {
	return &IncompleteError{
		Handle:    h,
		Attempts:  res.Attempts,
		Status:    res.Final,
		Exhausted: res.Exhausted,
		Cancelled: res.Cancelled,
	}
}

func (c *Collector) fail(j *job.Job, state job.State, err error) error {
	j.Finish(state, err.Error())
	c.save(j)
	c.events.RunFinished(j)
	return err
}

// save persists j. History is best effort and never fails a run.
func (c *Collector) save(j *job.Job) {
	if err := c.store.Update(j); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Str("run_id", j.ID).Msg("update run record")
	}
}
