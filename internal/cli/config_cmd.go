package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/SikeGottem/agent-comms/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the hub config file",
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force     bool
		jwtSecret bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml into the home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			path := config.Path(home)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			cfg := config.Default()
			if jwtSecret {
				secret, err := randomHex(32)
				if err != nil {
					return err
				}
				cfg.JWTSecret = secret
			}
			if err := config.Save(home, cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&jwtSecret, "jwt-secret", false, "Generate a jwt_secret so callers authenticate with bearer tokens")
	return cmd
}
