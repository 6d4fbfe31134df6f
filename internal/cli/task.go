package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/SikeGottem/agent-comms/pkg/client"
	"github.com/SikeGottem/agent-comms/pkg/models"
	"github.com/spf13/cobra"
)

func newTaskCmd(cf *clientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(newTaskCreateCmd(cf))
	cmd.AddCommand(newTaskListCmd(cf))
	cmd.AddCommand(newTaskReadyCmd(cf))
	cmd.AddCommand(newTaskBlockedCmd(cf))
	cmd.AddCommand(newTaskClaimCmd(cf))
	cmd.AddCommand(newTaskCompleteCmd(cf))
	return cmd
}

func printTask(w io.Writer, t models.Task) {
	line := fmt.Sprintf("- %s [%s] %s (%s, %s)", t.ID, t.Status, t.Title, t.Priority, deref(t.AssignedTo, "unassigned"))
	if t.Stale {
		line += " stale"
	}
	_, _ = fmt.Fprintln(w, line)
}

func newTaskCreateCmd(cf *clientFlags) *cobra.Command {
	var (
		description string
		assignee    string
		priority    string
		channel     string
		dependsOn   []string
		required    []string
	)
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := requireAgent(c); err != nil {
				return err
			}
			in := models.CreateTask{
				Title:                strings.Join(args, " "),
				Priority:             priority,
				Channel:              channel,
				DependsOn:            dependsOn,
				RequiredCapabilities: required,
			}
			if description != "" {
				in.Description = &description
			}
			if assignee != "" {
				in.AssignedTo = &assignee
			}
			t, err := c.CreateTask(cmd.Context(), in)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created task %s (%s)\n", t.ID, deref(t.AssignedTo, "unassigned"))
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Task description")
	cmd.Flags().StringVar(&assignee, "assign", "", "Assignee (omit to auto-assign by capability)")
	cmd.Flags().StringVar(&priority, "priority", "", "low, normal, high or urgent")
	cmd.Flags().StringVar(&channel, "channel", "", "Channel (default: general)")
	cmd.Flags().StringSliceVar(&dependsOn, "depends-on", nil, "Task id this task waits on (repeatable)")
	cmd.Flags().StringSliceVar(&required, "require", nil, "Required capability (repeatable)")
	return cmd
}

func newTaskListCmd(cf *clientFlags) *cobra.Command {
	var q client.TaskQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := c.ListTasks(cmd.Context(), q)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
				return nil
			}
			for _, t := range tasks {
				printTask(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&q.Status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&q.Channel, "channel", "", "Filter by channel")
	cmd.Flags().StringVar(&q.AssignedTo, "assigned-to", "", "Filter by assignee")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "Max tasks (default 100)")
	return cmd
}

func newTaskReadyCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "List pending tasks whose dependencies are done",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := c.ReadyTasks(cmd.Context())
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No ready tasks.")
				return nil
			}
			for _, t := range tasks {
				printTask(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

func newTaskBlockedCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "blocked",
		Short: "List tasks waiting on dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := c.BlockedTasks(cmd.Context())
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No blocked tasks.")
				return nil
			}
			for _, t := range tasks {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s %s (waiting on %s, %d/%d unmet)\n",
					t.ID, t.Title, strings.Join(t.BlockingDeps, ", "), t.UnmetDeps, t.TotalDeps)
			}
			return nil
		},
	}
}

func newTaskClaimCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := requireAgent(c); err != nil {
				return err
			}
			t, err := c.ClaimTask(cmd.Context(), args[0], "")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Claimed task %s: %s\n", t.ID, t.Title)
			return nil
		},
	}
}

func newTaskCompleteCmd(cf *clientFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a task done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			var out *string
			if output != "" {
				out = &output
			}
			t, err := c.CompleteTask(cmd.Context(), args[0], "", out)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Completed task %s: %s\n", t.ID, t.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "Result summary")
	return cmd
}
