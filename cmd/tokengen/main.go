// Command tokengen issues a bearer token for local testing. Production tokens come from the
// identity provider, signed with the same JWT_SECRET.
package main

import (
	"fmt"
	"os"
	"time"

	"sql_arena/internal/common/security"
	"sql_arena/internal/domain/model"
	"sql_arena/internal/platform/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var userID string
	var role string
	var ttl time.Duration

	var rootCmd = &cobra.Command{
		Use:          "tokengen",
		Short:        "Issue a signed bearer token for the sql_arena API",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != model.RoleAdmin && role != model.RoleParticipant {
				return fmt.Errorf("unsupported role %q, want %s or %s", role, model.RoleAdmin, model.RoleParticipant)
			}

			config.Load()
			if err := config.AppConfig.Validate(); err != nil {
				return err
			}
			security.InitJWT(config.AppConfig.JWTKey)
			if ttl <= 0 {
				ttl = config.AppConfig.JWTExp
			}

			token, err := security.GenerateToken(userID, role, ttl)
			if err != nil {
				return fmt.Errorf("error generating token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&userID, "user", "u", "", "User id placed in the user_id claim (required)")
	rootCmd.Flags().StringVarP(&role, "role", "r", model.RoleParticipant, "Role claim [admin, participant]")
	rootCmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime, defaults to JWT_EXPIRATION_HOURS")
	rootCmd.MarkFlagRequired("user")

	return rootCmd
}
