// Package main implements the agentflow CLI: an in-process front end for
// the workflow orchestration core, letting an operator invoke workflows,
// inspect threads, and decide approvals without standing up the HTTP API
// or a NATS deployment.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/agentflow/config"
	"github.com/c360studio/agentflow/runtime"
)

// Build information (set via ldflags).
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "agentflow",
		Short:   "Durable, resumable multi-agent workflow orchestration",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (agentflow.yaml or .toml)")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newInvokeCmd(&configPath),
		newThreadsCmd(&configPath),
		newApprovalsCmd(&configPath),
		newGraphCmd(&configPath),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

// loadConfig resolves configPath via the layered loader when empty, or
// loads the explicit path directly when one was given on the command
// line.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromPath(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg, err := config.NewLoader(logger).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func buildStack(ctx context.Context, configPath string) (*runtime.Stack, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return runtime.Build(ctx, cfg)
}
