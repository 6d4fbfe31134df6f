package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/SikeGottem/agent-comms/internal/config"
	"github.com/SikeGottem/agent-comms/internal/identity"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue caller identity tokens",
	}
	cmd.AddCommand(newTokenIssueCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "issue <agent>",
		Short: "Sign a bearer token naming agent with the configured jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			cfg.ApplyEnv()
			if cmd.Flags().Changed("ttl") {
				cfg.TokenTTL = ttl
			}
			iss := identity.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
			if iss == nil {
				return errors.New("no jwt_secret configured (run `agentcomms config init --jwt-secret` or set " + config.EnvJWTSecret + ")")
			}
			tok, err := iss.Issue(args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: config token_ttl)")
	return cmd
}
