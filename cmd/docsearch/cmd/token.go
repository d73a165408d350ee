package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/knoguchi/docsearch/internal/auth"
)

func newTokenCmd(g *globalOptions) *cobra.Command {
	var (
		subject string
		admin   bool
		expiry  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Long: `Issue a JWT for the HTTP API, signed with JWT_SECRET.

Search tokens may call /v1/search and /v1/status; --admin tokens may also
index and refresh.

Examples:
  docsearch token --subject ci --admin
  docsearch token --subject dashboard --expiry 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(g)
			if err != nil {
				return err
			}
			m := e.jwtManager()
			if m == nil {
				return errors.New("JWT_SECRET is not set")
			}
			scope := auth.ScopeSearch
			if admin {
				scope = auth.ScopeAdmin
			}
			if expiry <= 0 {
				expiry = e.cfg.JWTExpiry
			}
			token, err := m.GenerateTokenWithExpiry(subject, expiry, scope)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject, e.g. the client name")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant index and refresh access")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "Token lifetime (default JWT_EXPIRY)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
