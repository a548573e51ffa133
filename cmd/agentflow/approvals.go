package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/agentflow/approval"
)

// newApprovalsCmd exposes the approval orchestrator (C5) for listing
// pending approvals and recording a human decision.
func newApprovalsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List and decide on human approval steps",
	}
	cmd.AddCommand(
		newApprovalsListCmd(configPath),
		newApprovalsDecideCmd(configPath),
	)
	return cmd
}

func newApprovalsListCmd(configPath *string) *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approvals, optionally filtered by project",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stack, err := buildStack(ctx, *configPath)
			if err != nil {
				return err
			}
			result, err := stack.Approvals.List(ctx, approval.ListFilters{ProjectID: projectID}, approval.Page{})
			if err != nil {
				return fmt.Errorf("list approvals: %w", err)
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Restrict to one project id")
	return cmd
}

func newApprovalsDecideCmd(configPath *string) *cobra.Command {
	var approve bool
	var decider, comment string

	cmd := &cobra.Command{
		Use:   "decide <approvalId>",
		Short: "Approve or reject a pending approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stack, err := buildStack(ctx, *configPath)
			if err != nil {
				return err
			}
			a, err := stack.Approvals.Decide(ctx, args[0], approval.Decision{
				Approve: approve,
				Decider: decider,
				Comment: comment,
			})
			if err != nil {
				return fmt.Errorf("decide approval %s: %w", args[0], err)
			}
			return printJSON(a)
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "Approve the step (omit to reject)")
	cmd.Flags().StringVar(&decider, "decider", "", "Identity of the person deciding")
	cmd.Flags().StringVar(&comment, "comment", "", "Optional decision comment")
	return cmd
}
