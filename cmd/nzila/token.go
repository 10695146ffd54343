package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/anungis437/nzila-automation-sub010/internal/identity"
)

var (
	tokenActor     string
	tokenRole      string
	tokenEntity    string
	tokenSecretEnv string
	tokenIssuer    string
	tokenTTL       time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage bearer tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a development bearer token",
	Long: `Issue signs an actor token with the shared secret lifecycled is
configured with (auth.jwt_secret). Intended for local development.

  NZILA_JWT_SECRET=... nzila token issue --actor alice --role approver --entity acme`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := os.Getenv(tokenSecretEnv)
		issuer, err := identity.NewTokenIssuer([]byte(secret), tokenIssuer, tokenTTL)
		if err != nil {
			return fmt.Errorf("%s: %w", tokenSecretEnv, err)
		}
		tok, err := issuer.Issue(tokenActor, tokenRole, tokenEntity)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
		return err
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenActor, "actor", "", "actor id (sub claim)")
	tokenIssueCmd.Flags().StringVar(&tokenRole, "role", "", "actor role")
	tokenIssueCmd.Flags().StringVar(&tokenEntity, "entity", "", "entity (tenant) the actor belongs to")
	tokenIssueCmd.Flags().StringVar(&tokenSecretEnv, "secret-env", "NZILA_JWT_SECRET", "environment variable holding the signing secret")
	tokenIssueCmd.Flags().StringVar(&tokenIssuer, "issuer", "nzila-lifecycled", "iss claim")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	_ = tokenIssueCmd.MarkFlagRequired("actor")
	_ = tokenIssueCmd.MarkFlagRequired("role")
	_ = tokenIssueCmd.MarkFlagRequired("entity")

	tokenCmd.AddCommand(tokenIssueCmd)
}
