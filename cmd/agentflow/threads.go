package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newThreadsCmd exposes the registry (C10) for listing, inspecting, and
// deleting threads.
func newThreadsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List, inspect, or delete workflow threads",
	}
	cmd.AddCommand(
		newThreadsListCmd(configPath),
		newThreadsGetCmd(configPath),
		newThreadsDeleteCmd(configPath),
	)
	return cmd
}

func newThreadsListCmd(configPath *string) *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List thread summaries, optionally filtered by project",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stack, err := buildStack(ctx, *configPath)
			if err != nil {
				return err
			}
			summaries, err := stack.Registry.List(ctx, projectID)
			if err != nil {
				return fmt.Errorf("list threads: %w", err)
			}
			return printJSON(summaries)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Restrict to one project id")
	return cmd
}

func newThreadsGetCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <threadId>",
		Short: "Show one thread's summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stack, err := buildStack(ctx, *configPath)
			if err != nil {
				return err
			}
			summary, err := stack.Registry.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get thread %s: %w", args[0], err)
			}
			return printJSON(summary)
		},
	}
}

func newThreadsDeleteCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <threadId>",
		Short: "Delete a thread's checkpoint and registry entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stack, err := buildStack(ctx, *configPath)
			if err != nil {
				return err
			}
			if err := stack.Registry.Delete(ctx, args[0]); err != nil {
				return fmt.Errorf("delete thread %s: %w", args[0], err)
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
