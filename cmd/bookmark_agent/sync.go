package main

import (
	"github.com/spf13/cobra"
)

var syncForce bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one incremental bookmark sync",
	Long:  `Fetch unseen bookmarks from the external API, persist them, and summarize each new item. Skipped when the sync interval has not elapsed unless --force is given.`,
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "Bypass the sync interval gate")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.runner.RunSync(cmd.Context(), syncForce)
	if err != nil {
		return err
	}
	return printJSON(result)
}
