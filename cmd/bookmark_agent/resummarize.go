package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/bookmark-agent/internal/types"
)

var (
	resumIDs       []string
	resumSince     string
	resumOverwrite bool
	resumLimit     int
)

var resummarizeCmd = &cobra.Command{
	Use:   "resummarize",
	Short: "Re-run summarization over already-ingested bookmarks",
	Long:  `Select up to 500 ingested items by recency, optionally filtered by ID or sync time, and regenerate their summaries. Items that already have a summary are skipped unless --overwrite is given.`,
	RunE:  runResummarize,
}

func init() {
	resummarizeCmd.Flags().StringSliceVar(&resumIDs, "ids", nil, "Explicit tweet ID allow-list")
	resummarizeCmd.Flags().StringVar(&resumSince, "since", "", "Only items synced at or after this RFC3339 timestamp")
	resummarizeCmd.Flags().BoolVar(&resumOverwrite, "overwrite", false, "Regenerate even when a summary exists")
	resummarizeCmd.Flags().IntVar(&resumLimit, "limit", 0, "Cap the selection (default 500)")
	rootCmd.AddCommand(resummarizeCmd)
}

func runResummarize(cmd *cobra.Command, _ []string) error {
	filter := types.ResummarizeFilter{
		TweetIDs:  resumIDs,
		Overwrite: resumOverwrite,
		Limit:     resumLimit,
	}
	if resumSince != "" {
		since, err := time.Parse(time.RFC3339, resumSince)
		if err != nil {
			return fmt.Errorf("--since is not an RFC3339 timestamp: %w", err)
		}
		filter.SyncedSince = &since
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.runner.RunResummarize(cmd.Context(), filter)
	if err != nil {
		return err
	}
	return printJSON(result)
}
