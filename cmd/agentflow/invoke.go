package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/c360studio/agentflow/orchestrator"
	"github.com/c360studio/agentflow/workflow"
)

// newInvokeCmd runs a workflow definition file (a JSON array of
// workflow.WorkflowStep, the same shape POST /api/invoke accepts) to
// completion or suspension.
func newInvokeCmd(configPath *string) *cobra.Command {
	var projectID, threadID string
	var startNew bool

	cmd := &cobra.Command{
		Use:   "invoke <steps.json>",
		Short: "Run a workflow definition to completion or suspension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stack, err := buildStack(ctx, *configPath)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			var steps []*workflow.WorkflowStep
			if err := json.Unmarshal(data, &steps); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			result, err := stack.Orchestrator.Invoke(ctx, orchestrator.Request{
				Steps:                steps,
				ProjectID:            projectID,
				ThreadID:             threadID,
				StartNewConversation: startNew,
			})
			if err != nil {
				return fmt.Errorf("invoke: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "Project id the thread belongs to")
	cmd.Flags().StringVar(&threadID, "thread", "", "Resume an existing thread id instead of starting a new one")
	cmd.Flags().BoolVar(&startNew, "new-conversation", false, "Discard the prior agent session ids on resume")

	return cmd
}
