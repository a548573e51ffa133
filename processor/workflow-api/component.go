// Package workflowapi provides the HTTP surface (spec.md §6) over the
// workflow orchestration core: invoke a workflow, inspect/list/delete
// threads, list and decide approvals, render a thread's execution graph,
// and stream a thread's lifecycle events as server-sent events.
package workflowapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/agentflow/config"
	"github.com/c360studio/agentflow/runtime"
	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
)

// Component implements the workflow-api component.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	stack *runtime.Stack

	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
}

const (
	stateStopped = iota
	stateStarting
	stateRunning
	stateStopping
)

// NewComponent creates a new workflow-api component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "workflow-api",
		config:     cfg,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("initialized workflow-api", "checkpoint_backend", c.config.CheckpointBackend)
	return nil
}

// Start builds the runtime.Stack this component's HTTP handlers read
// from and starts the monitor's (C9) stalled-thread sweep.
func (c *Component) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateStopped, stateStarting) {
		return fmt.Errorf("component in invalid state: %d", c.state.Load())
	}
	defer func() {
		if c.state.Load() == stateStarting {
			c.state.Store(stateStopped)
		}
	}()

	appCfg := c.toAppConfig()

	opts := []runtime.Option{runtime.WithLogger(c.logger)}
	if c.config.CheckpointBackend == "nats" {
		if c.natsClient == nil {
			return fmt.Errorf("NATS client required for nats checkpoint backend")
		}
		opts = append(opts, runtime.WithNATSClient(c.natsClient))
	}

	stack, err := runtime.Build(ctx, appCfg, opts...)
	if err != nil {
		return fmt.Errorf("build workflow runtime: %w", err)
	}

	childCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.stack = stack
	c.cancel = cancel
	c.startTime = time.Now()
	c.mu.Unlock()

	stack.Monitor.Start(childCtx)

	c.state.Store(stateRunning)
	c.logger.Info("workflow-api started", "checkpoint_backend", c.config.CheckpointBackend)
	return nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	if !c.state.CompareAndSwap(stateRunning, stateStopping) {
		current := c.state.Load()
		if current == stateStopped || current == stateStopping {
			return nil
		}
		return fmt.Errorf("component in unexpected state: %d", current)
	}

	c.mu.Lock()
	cancel := c.cancel
	stack := c.stack
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stack != nil {
		stack.Monitor.Stop()
	}

	c.state.Store(stateStopped)
	c.logger.Info("workflow-api stopped")
	return nil
}

func (c *Component) toAppConfig() *config.Config {
	appCfg := config.DefaultConfig()
	appCfg.Orchestrator = config.OrchestratorConfig{
		MaxConcurrency:    c.config.MaxConcurrency,
		HeartbeatInterval: c.config.HeartbeatInterval,
		StaleAfter:        c.config.StaleAfter,
		MaxResumeAttempts: c.config.MaxResumeAttempts,
	}
	appCfg.Approvals = config.ApprovalsConfig{DefaultTimeout: c.config.ApprovalDefaultTimeout}
	appCfg.Checkpoint = config.CheckpointConfig{
		Backend: c.config.CheckpointBackend,
		Root:    c.config.CheckpointRoot,
	}
	return appCfg
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "workflow-api",
		Type:        "processor",
		Description: "HTTP surface for workflow invoke, threads, approvals, and graph data",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return workflowAPISchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	state := c.state.Load()
	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	switch state {
	case stateStarting:
		status = "starting"
	case stateRunning:
		status = "running"
	case stateStopping:
		status = "stopping"
	}

	return component.HealthStatus{
		Healthy:   state == stateRunning,
		LastCheck: time.Now(),
		Uptime:    time.Since(startTime),
		Status:    status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}
