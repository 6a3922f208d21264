// Command issue-token mints a signed access token for an actor.  Operators
// use it to hand tokens to inventory and calibration staff, and to script
// against the API, until an identity provider issues them.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/iliyamo/gauge-set-tracker/internal/config"
	"github.com/iliyamo/gauge-set-tracker/internal/middleware"
	"github.com/iliyamo/gauge-set-tracker/internal/utils"
)

var validRoles = []string{middleware.RoleInventoryManager, middleware.RoleCalibrationTech, middleware.RoleAdmin}

func newRootCmd() *cobra.Command {
	var (
		actorID uint64
		role    string
		ttlMin  int
		secret  string
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint an access token for the gauge set API",
		Long: `issue-token signs an HS256 access token carrying the actor id and role.

The signing secret is read from --secret or JWT_SECRET (a .env file in the
working directory is loaded first).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("no signing secret: set --secret or JWT_SECRET")
			}
			role = strings.ToUpper(strings.TrimSpace(role))
			if !isValidRole(role) {
				return fmt.Errorf("unknown role %q (want one of %s)", role, strings.Join(validRoles, ", "))
			}
			tok, err := utils.NewAccessToken(secret, actorID, role, ttlMin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", tok.Exp.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&actorID, "actor", 0, "actor id written to the sub claim (required)")
	cmd.Flags().StringVar(&role, "role", middleware.RoleInventoryManager, "role claim: "+strings.Join(validRoles, ", "))
	cmd.Flags().IntVar(&ttlMin, "ttl", config.AccessTTLMinutes(), "token lifetime in minutes")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to JWT_SECRET)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func isValidRole(r string) bool {
	for _, v := range validRoles {
		if r == v {
			return true
		}
	}
	return false
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
