package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/bookmark-agent/internal/config"
	"github.com/jonathan/bookmark-agent/internal/server"
)

var tokenSubject string

var tokenCmd = &cobra.Command{
	Use:   "admin-token",
	Short: "Mint an admin bearer token for the provider endpoints",
	RunE:  runAdminToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "Subject recorded in the token claims")
	rootCmd.AddCommand(tokenCmd)
}

func runAdminToken(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	token, err := server.NewJWTService(cfg.JWTSecret, 24, nil).GenerateToken(tokenSubject)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
