package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/snapcollect/collector/internal/job"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	Long:  `List recorded runs, newest first, optionally filtered by state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		if state != "" && !validState(job.State(state)) {
			return fmt.Errorf("invalid state %q, valid states are: %s", state, strings.Join(stateNames(), ", "))
		}

		runs, closeRuns, err := openRunStore(cfg)
		defer closeRuns()
		if err != nil {
			return err
		}

		list, total := runs.List(limit, 0, state)
		out := cmd.OutOrStdout()
		if total == 0 {
			fmt.Fprintln(out, "No runs found")
			return nil
		}

		fmt.Fprintf(out, "%-36s %-10s %-9s %-24s %-20s %s\n", "ID", "STATE", "ATTEMPTS", "SNAPSHOT", "CREATED_AT", "OUTPUT")
		fmt.Fprintln(out, strings.Repeat("-", 120))
		for _, j := range list {
			fmt.Fprintf(out, "%-36s %-10s %-9s %-24s %-20s %s\n",
				j.ID,
				string(j.State),
				fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
				j.SnapshotID,
				j.CreatedAt.Local().Format(time.DateTime),
				j.OutputPath,
			)
		}
		if total > len(list) {
			fmt.Fprintf(out, "\n%d of %d runs shown\n", len(list), total)
		}
		return nil
	},
}

var allStates = []job.State{
	job.StatePending, job.StateTriggered, job.StatePolling, job.StateReady,
	job.StateCompleted, job.StateFailed, job.StateExhausted, job.StateCancelled,
}

func validState(s job.State) bool {
	for _, v := range allStates {
		if s == v {
			return true
		}
	}
	return false
}

func stateNames() []string {
	names := make([]string, len(allStates))
	for i, s := range allStates {
		names[i] = string(s)
	}
	return names
}

func init() {
	runsCmd.Flags().String("state", "", "Only list runs in this state")
	runsCmd.Flags().Int("limit", 20, "Maximum number of runs to list")
}
