package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"

	"github.com/snapcollect/collector/internal/collect"
	"github.com/snapcollect/collector/internal/config"
	"github.com/snapcollect/collector/internal/job"
	"github.com/snapcollect/collector/internal/output"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one collection and save its results",
	RunE:  runCollection,
}

var runFlags struct {
	inputs  string
	format  string
	dataset string
}

func init() {
	addRunFlags(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&runFlags.inputs, "inputs", "", "YAML inputs file (overrides INPUTS_FILE)")
	cmd.Flags().StringVar(&runFlags.format, "format", "", "Snapshot format (overrides RESULT_FORMAT)")
	cmd.Flags().StringVar(&runFlags.dataset, "dataset", "", "Dataset id (overrides BRIGHTDATA_DATASET_ID)")
}

func runCollection(cmd *cobra.Command, args []string) error {
	if runFlags.dataset != "" {
		cfg.Credentials.DatasetID = runFlags.dataset
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	inputsFile := cfg.InputsFile
	if runFlags.inputs != "" {
		inputsFile = runFlags.inputs
	}
	inputs, err := config.LoadInputs(inputsFile)
	if err != nil {
		return err
	}

	format := cfg.ResultFormat
	if runFlags.format != "" {
		format = runFlags.format
	}

	runs, closeRuns, err := openRunStore(cfg)
	defer closeRuns()
	if err != nil {
		// A running server holds the history lock; the run still goes ahead.
		log.Warn().Err(err).Msg("run history unavailable, keeping this run in memory")
		runs = job.NewStore()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newCollector(cfg, runs, output.NewStore(cfg.OutputDir))
	out, err := c.Run(ctx, collect.Request{
		DatasetID: cfg.Credentials.DatasetID,
		Inputs:    inputs,
		Format:    format,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), out.OutputPath)
	return nil
}
