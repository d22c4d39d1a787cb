package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danghamo/docidentity/internal/api/auth"
	"github.com/danghamo/docidentity/pkg/config"
)

var (
	tokenSubject string
	tokenName    string
	tokenRoles   []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the admin API",
	Long: `Mint a bearer token signed with the configured JWT secret.

Examples:
  # Token for an operator allowed to manage users and roles
  docidentity token --subject ops-1 --name operator --role admin

  # Read-only token (audit trail only)
  docidentity token --subject dashboard`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject (required)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "Display name")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "Role to grant (repeatable)")
	_ = tokenCmd.MarkFlagRequired("subject")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	svc := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTExpiration)
	token, err := svc.GenerateToken(tokenSubject, tokenName, tokenRoles...)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
