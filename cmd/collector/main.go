package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"

	"github.com/snapcollect/collector/internal/brightdata"
	"github.com/snapcollect/collector/internal/collect"
	"github.com/snapcollect/collector/internal/config"
	"github.com/snapcollect/collector/internal/logger"
	"github.com/snapcollect/collector/internal/poll"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "collector",
	Short: "Trigger Bright Data collections and save their results",
	Long: `collector triggers a Bright Data dataset collection, polls it until the
snapshot is ready and writes the results to a timestamped JSON file.

Run without a subcommand to perform one collection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.Setup("info", os.Stderr)

		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		logger.Setup(cfg.LogLevel, os.Stderr)
		return nil
	},
	RunE: runCollection,
}

func init() {
	addRunFlags(rootCmd)
	rootCmd.AddCommand(runCmd, serveCmd, watchCmd, runsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		report(err)
		os.Exit(1)
	}
}

// report logs a fatal error with a description of the failed step. A
// response body returned by the API is printed as well.
func report(err error) {
	entry := log.Error().Err(err)

	var apiErr *brightdata.APIError
	if errors.As(err, &apiErr) {
		entry = entry.Int("status_code", apiErr.StatusCode).Str("endpoint", apiErr.Endpoint)
	}
	entry.Msg(describe(err))

	if apiErr != nil && apiErr.Body != "" {
		fmt.Fprintf(os.Stderr, "API response: %s\n", apiErr.Body)
	}
}

func describe(err error) string {
	var (
		configErr     *config.ConfigurationError
		triggerErr    *collect.TriggerError
		pollErr       *poll.PollError
		incompleteErr *collect.IncompleteError
		downloadErr   *collect.DownloadError
	)
	switch {
	case errors.As(err, &configErr):
		return "configuration error"
	case errors.As(err, &triggerErr):
		return "failed to trigger collection"
	case errors.As(err, &pollErr):
		return "failed to query collection status"
	case errors.As(err, &incompleteErr) && incompleteErr.Cancelled:
		return "collection cancelled"
	case errors.As(err, &incompleteErr):
		return "collection did not complete"
	case errors.As(err, &downloadErr):
		return "failed to download results"
	}
	return "command failed"
}
