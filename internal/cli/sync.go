package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SikeGottem/agent-comms/pkg/client"
	"github.com/spf13/cobra"
)

func newLockCmd(cf *clientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Acquire, release and list resource leases",
	}
	cmd.AddCommand(newLockAcquireCmd(cf))
	cmd.AddCommand(newLockReleaseCmd(cf))
	cmd.AddCommand(newLockListCmd(cf))
	return cmd
}

func newLockAcquireCmd(cf *clientFlags) *cobra.Command {
	var ttl int
	cmd := &cobra.Command{
		Use:   "acquire <resource>",
		Short: "Take or renew a lease on a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := requireAgent(c); err != nil {
				return err
			}
			l, err := c.AcquireLock(cmd.Context(), args[0], "", ttl)
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.State["locked_by"] != nil {
					return fmt.Errorf("%s is locked by %v", args[0], apiErr.State["locked_by"])
				}
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Locked %s until %s\n", l.Resource, time.UnixMilli(l.ExpiresAt).Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().IntVar(&ttl, "ttl", 0, "Lease seconds (default 300)")
	return cmd
}

func newLockReleaseCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "release <resource>",
		Short: "Release a lease held by the acting agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := requireAgent(c); err != nil {
				return err
			}
			if err := c.ReleaseLock(cmd.Context(), args[0], ""); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Released %s\n", args[0])
			return nil
		},
	}
}

func newLockListCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live leases",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			locks, err := c.Locks(cmd.Context())
			if err != nil {
				return err
			}
			if len(locks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No locks.")
				return nil
			}
			for _, l := range locks {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s (%s, expires %s)\n", l.Resource, l.Agent, time.UnixMilli(l.ExpiresAt).Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newBarrierCmd(cf *clientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "barrier",
		Short: "Create, signal and inspect barriers",
	}
	cmd.AddCommand(newBarrierCreateCmd(cf))
	cmd.AddCommand(newBarrierReadyCmd(cf))
	cmd.AddCommand(newBarrierGetCmd(cf))
	return cmd
}

func newBarrierCreateCmd(cf *clientFlags) *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "create <agent> <agent>...",
		Short: "Create a barrier that clears when every agent is ready",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			b, err := c.CreateBarrier(cmd.Context(), args, channel)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created barrier %s for %s\n", b.ID, strings.Join(b.Agents, ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "Channel for the cleared announcement (default: general)")
	return cmd
}

func newBarrierReadyCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ready <id>",
		Short: "Signal that the acting agent reached the barrier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := requireAgent(c); err != nil {
				return err
			}
			sig, err := c.BarrierReady(cmd.Context(), args[0], "")
			if err != nil {
				return err
			}
			if len(sig.Remaining) > 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (waiting on %s)\n", sig.Status, strings.Join(sig.Remaining, ", "))
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), sig.Status)
			return nil
		},
	}
}

func newBarrierGetCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a barrier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			b, err := c.Barrier(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			state := "waiting"
			if b.Cleared {
				state = "cleared"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Barrier %s %s: %d/%d ready (%s)\n",
				b.ID, state, len(b.ReadyAgents), len(b.Agents), strings.Join(b.ReadyAgents, ", "))
			return nil
		},
	}
}
