package main

import (
	"fmt"

	"github.com/phuslu/log"

	"github.com/snapcollect/collector/internal/brightdata"
	"github.com/snapcollect/collector/internal/collect"
	"github.com/snapcollect/collector/internal/config"
	"github.com/snapcollect/collector/internal/db"
	"github.com/snapcollect/collector/internal/job"
	"github.com/snapcollect/collector/internal/output"
	"github.com/snapcollect/collector/internal/poll"
)

func newCollector(cfg *config.Config, runs job.JobStore, results *output.Store, opts ...collect.Option) *collect.Collector {
	clientOpts := []brightdata.ClientOption{brightdata.WithRateLimit(cfg.RateLimitRPS)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, brightdata.WithBaseURL(cfg.BaseURL))
	}
	client := brightdata.NewClient(cfg.Credentials.APIKey, clientOpts...)

	opts = append([]collect.Option{
		collect.WithPolicy(collect.Policy{
			MaxAttempts: cfg.PollMaxAttempts,
			Delay:       cfg.PollDelay,
			Timeout:     cfg.PollTimeout,
		}),
		collect.WithStatusFetcher(poll.NewRetryingFetcher(client, poll.WithRetryable(brightdata.Retryable))),
	}, opts...)

	return collect.New(client, runs, results, opts...)
}

// openRunStore opens the run history in cfg.DataDir. The returned close
// function is never nil.
func openRunStore(cfg *config.Config) (job.JobStore, func(), error) {
	store, err := db.NewStore(cfg.DataDir)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open run history: %w", err)
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close run history")
		}
	}
	return job.NewPersistentStore(store), closeFn, nil
}
