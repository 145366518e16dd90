package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/bookmark-agent/internal/types"
)

var digestCmd = &cobra.Command{
	Use:   "digest [daily|weekly]",
	Short: "Generate a digest report for the current period",
	Args:  cobra.ExactArgs(1),
	RunE:  runDigest,
}

func init() {
	rootCmd.AddCommand(digestCmd)
}

func runDigest(cmd *cobra.Command, args []string) error {
	period := types.DigestPeriod(args[0])
	if period != types.PeriodDaily && period != types.PeriodWeekly {
		return fmt.Errorf("period must be daily or weekly, got %q", args[0])
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.runner.RunDigest(cmd.Context(), period)
	if err != nil {
		return err
	}
	return printJSON(result)
}
