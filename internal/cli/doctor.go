package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/SikeGottem/agent-comms/internal/config"
	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify config and storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			var problems []string

			cfg, err := config.Load(home)
			if err != nil {
				problems = append(problems, "config: "+err.Error())
			} else {
				cfg.ApplyEnv()
				if err := cfg.Validate(); err != nil {
					problems = append(problems, "config: "+err.Error())
				}
			}

			if err := os.MkdirAll(home, 0o755); err != nil {
				problems = append(problems, "home not writable: "+err.Error())
			} else if cfg.DBDriver == "sqlite" {
				if err := store.EnsureSchema(home); err != nil {
					problems = append(problems, "sqlite: "+err.Error())
				}
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}
