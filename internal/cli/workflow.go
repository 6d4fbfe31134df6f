package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWorkflowCmd(cf *clientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
	}
	cmd.AddCommand(newWorkflowListCmd(cf))
	cmd.AddCommand(newWorkflowStartCmd(cf))
	cmd.AddCommand(newWorkflowCancelCmd(cf))
	return cmd
}

func newWorkflowListCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			list, err := c.ListWorkflows(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No workflows.")
				return nil
			}
			for _, wf := range list {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s [%s] %s (%d steps)\n", wf.ID, wf.Status, wf.Name, len(wf.Steps))
			}
			return nil
		},
	}
}

func newWorkflowStartCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Activate a draft workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			wf, err := c.StartWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s is %s\n", wf.ID, wf.Status)
			return nil
		},
	}
}

func newWorkflowCancelCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a draft or active workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cf.client(cmd.Context())
			if err != nil {
				return err
			}
			wf, err := c.CancelWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s is %s\n", wf.ID, wf.Status)
			return nil
		},
	}
}
