package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/snapcollect/collector/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow run progress from a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		runID, _ := cmd.Flags().GetString("run")
		if url == "" {
			url = fmt.Sprintf("ws://localhost:%d/ws/progress", cfg.HTTPPort)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err := watch.New(url, watch.Options{RunID: runID}).Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	watchCmd.Flags().String("url", "", "Progress stream URL (default ws://localhost:$HTTP_PORT/ws/progress)")
	watchCmd.Flags().String("run", "", "Follow a single run and exit when it finishes")
}
