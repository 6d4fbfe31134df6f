package cli

import (
	"github.com/SikeGottem/agent-comms/internal/config"
	"github.com/SikeGottem/agent-comms/internal/daemon"
	"github.com/spf13/cobra"
)

func newDaemonCmd() *cobra.Command {
	var sf serveFlags

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			cfg, err := sf.resolve(cmd, home)
			if err != nil {
				return err
			}
			setupLogging(cfg)
			return daemon.StartForeground(cmd.Context(), daemon.StartOptions{
				Home:      home,
				Dev:       sf.dev,
				PprofAddr: sf.pprofAddr,
				Config:    cfg,
			})
		},
	}

	sf.register(cmd)
	return cmd
}
