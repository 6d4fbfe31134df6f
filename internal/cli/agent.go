package cli

import (
	"fmt"
	"strings"

	"github.com/SikeGottem/agent-comms/pkg/models"
	"github.com/spf13/cobra"
)

func newAgentCmd(cf *clientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	cmd.AddCommand(newAgentRegisterCmd(cf))
	cmd.AddCommand(newAgentListCmd(cf))
	return cmd
}

func newAgentRegisterCmd(cf *clientFlags) *cobra.Command {
	var (
		name         string
		platform     string
		capabilities []string
		webhook      string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register (or refresh) the acting agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := requireAgent(c); err != nil {
				return err
			}
			if name == "" {
				name = c.Agent
			}
			in := models.RegisterAgent{Name: name, Capabilities: capabilities}
			if platform != "" {
				in.Platform = &platform
			}
			if webhook != "" {
				in.WebhookURL = &webhook
			}
			a, err := c.RegisterAgent(cmd.Context(), in)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Registered agent %q (%s)\n", a.ID, a.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name (default: agent id)")
	cmd.Flags().StringVar(&platform, "platform", "", "Platform label")
	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "Capability (repeatable)")
	cmd.Flags().StringVar(&webhook, "webhook", "", "Webhook URL for direct messages")
	return cmd
}

func newAgentListCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			agents, err := c.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No agents.")
				return nil
			}
			for _, a := range agents {
				state := "offline"
				if a.Online {
					state = "online"
				}
				line := fmt.Sprintf("- %s (%s, load %d)", a.ID, state, a.CurrentLoad)
				if len(a.Capabilities) > 0 {
					line += " [" + strings.Join(a.Capabilities, ", ") + "]"
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newSendCmd(cf *clientFlags) *cobra.Command {
	var (
		to       string
		channel  string
		priority string
		msgType  string
	)
	cmd := &cobra.Command{
		Use:   "send <content>",
		Short: "Send a message to an agent or channel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := requireAgent(c); err != nil {
				return err
			}
			in := models.SendMessage{
				Channel:  channel,
				Content:  strings.Join(args, " "),
				Priority: priority,
				Type:     msgType,
			}
			if to != "" {
				in.ToAgent = &to
			}
			m, err := c.Send(cmd.Context(), in)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to #%s\n", m.ID, m.Channel)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Recipient agent (omit for channel broadcast)")
	cmd.Flags().StringVar(&channel, "channel", "", "Channel (default: general)")
	cmd.Flags().StringVar(&priority, "priority", "", "low, normal, high or urgent")
	cmd.Flags().StringVar(&msgType, "type", "", "Message type (default: chat)")
	return cmd
}
