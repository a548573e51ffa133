package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newServeCmd starts the monitor's background sweep and blocks until
// interrupted. It does not start the HTTP API (that's
// processor/workflow-api's job) — this is the minimal always-on piece a
// deployment needs even when every invocation arrives through the CLI or
// another in-process caller: without it, a stalled thread (spec.md §4.8)
// never gets resumed.
func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow monitor's stalled-thread sweep until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stack, err := buildStack(ctx, *configPath)
			if err != nil {
				return err
			}

			stack.Monitor.Start(ctx)
			defer stack.Monitor.Stop()

			fmt.Println("agentflow: monitor running, press Ctrl+C to stop")
			<-ctx.Done()
			return nil
		},
	}
}
