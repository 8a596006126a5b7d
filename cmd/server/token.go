package main

import (
	"fmt"
	"time"

	"aigateway/internal/service"

	"github.com/spf13/cobra"
)

var tokenFlags struct {
	subject string
	ttl     time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin JWT for the /admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := service.NewJWTServiceWithSecret(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience).
			GenerateToken(tokenFlags.subject, tokenFlags.ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenFlags.subject, "subject", "admin", "token subject")
	tokenCmd.Flags().DurationVar(&tokenFlags.ttl, "ttl", 24*time.Hour, "token lifetime")
}
