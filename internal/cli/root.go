package cli

import (
	"os"

	"github.com/SikeGottem/agent-comms/internal/config"
	"github.com/spf13/cobra"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string
	cf := &clientFlags{}

	cmd := &cobra.Command{
		Use:          "agentcomms",
		Short:        "agent-comms: messaging, tasks and coordination hub for agents",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override home directory (default: ~/.agent-comms, env: AGENTCOMMS_HOME)")
	cf.register(cmd)

	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newApikeyCmd())
	cmd.AddCommand(newTokenCmd())

	cmd.AddCommand(newAgentCmd(cf))
	cmd.AddCommand(newSendCmd(cf))
	cmd.AddCommand(newTaskCmd(cf))
	cmd.AddCommand(newWorkflowCmd(cf))
	cmd.AddCommand(newLockCmd(cf))
	cmd.AddCommand(newBarrierCmd(cf))
	cmd.AddCommand(newPresenceCmd(cf))

	// Hidden internal subcommand used by `agentcomms start` for background mode.
	cmd.AddCommand(newDaemonCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
