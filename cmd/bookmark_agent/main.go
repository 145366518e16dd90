// Package main provides the entry point for the bookmark agent: an HTTP API
// and CLI around incremental bookmark sync, AI summarization, and digests.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bookmark_agent",
	Short: "Bookmark sync and summarization service",
	Long:  "Bookmark agent incrementally syncs bookmarked posts from the external API, summarizes them through configurable model providers, and aggregates periodic digests.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
