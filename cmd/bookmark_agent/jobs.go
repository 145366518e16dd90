package main

import (
	"github.com/spf13/cobra"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent job ledger runs",
	RunE:  runJobs,
}

var jobsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete ledger rows past the retention horizon",
	RunE:  runJobsPurge,
}

func init() {
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 0, "Max rows to list (default 50)")
	jobsCmd.AddCommand(jobsPurgeCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	runs, err := a.runner.ListRuns(cmd.Context(), jobsLimit)
	if err != nil {
		return err
	}
	return printJSON(runs)
}

func runJobsPurge(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	purged, err := a.runner.PurgeOldRuns(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(map[string]int64{"purged": purged})
}
