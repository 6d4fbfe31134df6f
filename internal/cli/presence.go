package cli

import (
	"fmt"

	"github.com/SikeGottem/agent-comms/pkg/models"
	"github.com/spf13/cobra"
)

func newPresenceCmd(cf *clientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presence",
		Short: "Set and list agent presence",
	}
	cmd.AddCommand(newPresenceSetCmd(cf))
	cmd.AddCommand(newPresenceListCmd(cf))
	return cmd
}

func newPresenceSetCmd(cf *clientFlags) *cobra.Command {
	var text, task, channel, mood string
	cmd := &cobra.Command{
		Use:   "set <status>",
		Short: "Set the acting agent's status (online, busy, away, dnd, offline)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := requireAgent(c); err != nil {
				return err
			}
			u := models.UpdatePresence{Status: &args[0]}
			if cmd.Flags().Changed("text") {
				u.StatusText = &text
			}
			if cmd.Flags().Changed("task") {
				u.CurrentTask = &task
			}
			if cmd.Flags().Changed("channel") {
				u.CurrentChannel = &channel
			}
			if cmd.Flags().Changed("mood") {
				u.Mood = &mood
			}
			p, err := c.SetPresence(cmd.Context(), "", u)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", p.AgentID, p.EffectiveStatus)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Status text")
	cmd.Flags().StringVar(&task, "task", "", "Current task")
	cmd.Flags().StringVar(&channel, "channel", "", "Current channel")
	cmd.Flags().StringVar(&mood, "mood", "", "Mood")
	return cmd
}

func newPresenceListCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List presence for every agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			list, err := c.Presence(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No presence records.")
				return nil
			}
			for _, p := range list {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s %s %s\n", p.AgentID, p.EffectiveStatus, deref(p.StatusText, ""))
			}
			return nil
		},
	}
}
