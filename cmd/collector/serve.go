package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"

	"github.com/snapcollect/collector/internal/api"
	"github.com/snapcollect/collector/internal/collect"
	"github.com/snapcollect/collector/internal/config"
	"github.com/snapcollect/collector/internal/output"
	"github.com/snapcollect/collector/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the runs API and the progress stream",
	RunE:  runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}
	inputs, err := config.LoadInputs(cfg.InputsFile)
	if err != nil {
		return err
	}

	runs, closeRuns, err := openRunStore(cfg)
	defer closeRuns()
	if err != nil {
		return err
	}

	hub := ws.NewHub()
	results := output.NewStore(cfg.OutputDir)
	c := newCollector(cfg, runs, results, collect.WithEvents(hub))

	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()
	runner := api.NewRunner(runCtx, c, api.RunRequest{
		DatasetID: cfg.Credentials.DatasetID,
		Format:    cfg.ResultFormat,
		Inputs:    inputs,
	})

	server := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(api.Deps{
			Config:  cfg,
			Runs:    runs,
			Runner:  runner,
			Results: results,
			Hub:     hub,
		}),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("dataset_id", cfg.Credentials.DatasetID).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-done:
	case err := <-serveErr:
		return err
	}
	log.Info().Int("active_runs", runner.Active()).Msg("shutting down")

	cancelRuns()
	runner.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	log.Info().Msg("server stopped")
	return nil
}
