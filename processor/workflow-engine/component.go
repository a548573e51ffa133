// Package workflowengine hosts the workflow orchestration core (C1-C11)
// as a semstreams component: it consumes invoke requests from JetStream,
// runs them through the orchestrator (C8), republishes every engine/
// approval/monitor lifecycle event, and runs the monitor's (C9) stalled-
// thread sweep for as long as the component is running.
package workflowengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/agentflow/config"
	"github.com/c360studio/agentflow/events"
	"github.com/c360studio/agentflow/orchestrator"
	"github.com/c360studio/agentflow/runtime"
	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
)

// Component implements the workflow-engine processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	stack *runtime.Stack

	state      atomic.Int32
	startTime  time.Time
	mu         sync.RWMutex
	cancel     context.CancelFunc
	metricsSrv *http.Server
}

const (
	stateStopped = iota
	stateStarting
	stateRunning
	stateStopping
)

// NewComponent creates a new workflow-engine component.
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
		name:       "workflow-engine",
		config:     cfg,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("initialized workflow-engine",
		"checkpoint_backend", c.config.CheckpointBackend,
		"request_subject", c.config.RequestSubject)
	return nil
}

// Start begins consuming invoke requests and running the monitor sweep.
func (c *Component) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateStopped, stateStarting) {
		return fmt.Errorf("component in invalid state: %d", c.state.Load())
	}
	defer func() {
		if c.state.Load() == stateStarting {
			c.state.Store(stateStopped)
		}
	}()

	if c.natsClient == nil {
		return fmt.Errorf("NATS client required")
	}

	appCfg := c.toAppConfig()
	stack, err := runtime.Build(ctx, appCfg,
		runtime.WithNATSClient(c.natsClient),
		runtime.WithLogger(c.logger),
	)
	if err != nil {
		return fmt.Errorf("build workflow runtime: %w", err)
	}

	js, err := c.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	childCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.stack = stack
	c.cancel = cancel
	c.startTime = time.Now()
	c.mu.Unlock()

	stack.Monitor.Start(childCtx)
	go c.consumeInvokeRequests(childCtx, js)
	go c.bridgeEvents(childCtx, stack.Bus)

	if c.config.MetricsAddr != "" {
		c.startMetricsServer(stack)
	}

	c.state.Store(stateRunning)
	c.logger.Info("workflow-engine started", "request_subject", c.config.RequestSubject)
	return nil
}

// startMetricsServer serves GET /metrics (Prometheus exposition format) on
// its own listener, independent of the JetStream request/result/event
// subjects this component otherwise speaks on.
func (c *Component) startMetricsServer(stack *runtime.Stack) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", stack.Metrics.Handler())

	srv := &http.Server{Addr: c.config.MetricsAddr, Handler: mux}
	c.mu.Lock()
	c.metricsSrv = srv
	c.mu.Unlock()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("workflow-engine: metrics server failed", "addr", c.config.MetricsAddr, "error", err)
		}
	}()
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
	metricsSrv := c.metricsSrv
	c.cancel = nil
	c.metricsSrv = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stack != nil {
		stack.Monitor.Stop()
	}
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("workflow-engine: metrics server shutdown failed", "error", err)
		}
	}

	c.state.Store(stateStopped)
	c.logger.Info("workflow-engine stopped")
	return nil
}

// consumeInvokeRequests fetches JSON orchestrator.Request messages from a
// durable consumer and runs each through the orchestrator, publishing the
// result (or error) to ResultSubject.threadId.
func (c *Component) consumeInvokeRequests(ctx context.Context, js jetstream.JetStream) {
	stream, err := js.Stream(ctx, c.config.RequestStreamName)
	if err != nil {
		c.logger.Error("workflow-engine: get request stream failed, invoke consumer disabled",
			"stream", c.config.RequestStreamName, "error", err)
		return
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          "workflow-engine-invoke",
		FilterSubject: c.config.RequestSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		c.logger.Error("workflow-engine: create invoke consumer failed", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		for msg := range msgs.Messages() {
			c.handleInvokeRequest(ctx, msg)
		}
	}
}

func (c *Component) handleInvokeRequest(ctx context.Context, msg jetstream.Msg) {
	defer func() {
		if err := msg.Ack(); err != nil {
			c.logger.Warn("workflow-engine: ack invoke request failed", "error", err)
		}
	}()

	var req orchestrator.Request
	if err := json.Unmarshal(msg.Data(), &req); err != nil {
		c.logger.Error("workflow-engine: invalid invoke request payload", "error", err)
		return
	}

	c.mu.RLock()
	stack := c.stack
	c.mu.RUnlock()

	result, err := stack.Orchestrator.Invoke(ctx, req)
	subject := fmt.Sprintf("%s.%s", c.config.ResultSubject, req.ThreadID)
	if err != nil {
		c.publishResult(ctx, subject, map[string]string{"error": err.Error(), "threadId": req.ThreadID})
		return
	}
	c.publishResult(ctx, subject, result)
}

func (c *Component) publishResult(ctx context.Context, subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("workflow-engine: marshal result failed", "error", err)
		return
	}
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		c.logger.Error("workflow-engine: publish result failed", "subject", subject, "error", err)
	}
}

// bridgeEvents republishes every in-process event bus (C11) frame onto
// JetStream so other processors and the HTTP API's SSE handler can
// observe workflow lifecycle transitions without linking against this
// component's in-memory bus.
func (c *Component) bridgeEvents(ctx context.Context, bus *events.Bus) {
	ch, unsubscribe := bus.Subscribe("")
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				c.logger.Error("workflow-engine: marshal event failed", "error", err)
				continue
			}
			subject := fmt.Sprintf("%s.%s", c.config.EventSubject, evt.ThreadID)
			if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
				c.logger.Warn("workflow-engine: publish event failed", "subject", subject, "error", err)
			}
		}
	}
}

func (c *Component) toAppConfig() *config.Config {
	appCfg := config.DefaultConfig()
	appCfg.Orchestrator = config.OrchestratorConfig{
		MaxConcurrency:    c.config.MaxConcurrency,
		HeartbeatInterval: c.config.HeartbeatInterval,
		StaleAfter:        c.config.StaleAfter,
		MaxResumeAttempts: c.config.MaxResumeAttempts,
	}
	appCfg.Approvals = config.ApprovalsConfig{
		DefaultTimeout:        c.config.ApprovalDefaultTimeout,
		CallbackSubjectPrefix: c.config.ApprovalCallbackSubjectPrefix,
	}
	appCfg.Checkpoint = config.CheckpointConfig{
		Backend: c.config.CheckpointBackend,
		Root:    c.config.CheckpointRoot,
	}
	return appCfg
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "workflow-engine",
		Type:        "processor",
		Description: "Durable, resumable multi-agent workflow orchestration core",
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
	return workflowEngineSchema
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
