package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ScientiaCapital/sales-agent-sub004/config"
	"github.com/ScientiaCapital/sales-agent-sub004/middleware"
)

var (
	tokenCaller string
	tokenRoles  []string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue an API token signed with AUTH_JWT_SECRET",
	Long: `Signs an HS256 token for the given subject. The caller id is the budget scope
the token's requests are charged to; it defaults to the subject. Tokens with the
admin role may reset provider circuit breakers.`,
	Example: `  # Token for the qualification agent, charged to its own budget
  dispatcher token qualifier-agent --caller qualifier

  # Short-lived admin token
  dispatcher token ops --role admin --ttl 15m`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenCaller, "caller", "", "caller id for budget accounting (default: subject)")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "role to grant, repeatable")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load(".env")
	auth := config.Load().Auth
	if auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is not set")
	}

	validator, err := middleware.NewJWTValidator(auth.JWTSecret, auth.Issuer)
	if err != nil {
		return err
	}

	token, err := validator.IssueToken(args[0], tokenCaller, tokenRoles, tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
