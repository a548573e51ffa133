package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newGraphCmd renders a thread's {nodes, edges, execution} visualization
// payload (registry.Graph, C10).
func newGraphCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "graph <threadId>",
		Short: "Render a thread's execution graph as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stack, err := buildStack(ctx, *configPath)
			if err != nil {
				return err
			}
			g, err := stack.Registry.Graph(ctx, args[0])
			if err != nil {
				return fmt.Errorf("graph %s: %w", args[0], err)
			}
			return printJSON(g)
		},
	}
}
