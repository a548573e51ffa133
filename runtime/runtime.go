// Package runtime wires the eleven workflow-orchestration components
// (C1-C11) into a single running stack from a *config.Config, so every
// host process (the agentflow CLI, the workflow-engine NATS component)
// builds the same graph of collaborators in the same order instead of
// each re-deriving its own wiring.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/c360studio/agentflow/approval"
	"github.com/c360studio/agentflow/checkpoint"
	"github.com/c360studio/agentflow/config"
	"github.com/c360studio/agentflow/engine"
	"github.com/c360studio/agentflow/events"
	"github.com/c360studio/agentflow/executor"
	"github.com/c360studio/agentflow/llm"
	_ "github.com/c360studio/agentflow/llm/providers" // registers anthropic/openai/ollama providers
	"github.com/c360studio/agentflow/metrics"
	"github.com/c360studio/agentflow/model"
	"github.com/c360studio/agentflow/monitor"
	"github.com/c360studio/agentflow/operator"
	"github.com/c360studio/agentflow/orchestrator"
	"github.com/c360studio/agentflow/registry"
	"github.com/c360studio/agentflow/workflow/validation"

	"github.com/c360studio/semstreams/natsclient"
)

// Stack is every collaborator an invoking host needs: the orchestrator
// (C8) façade to run workflows, the registry (C10) to list/query/delete
// them, the approval orchestrator (C5) to decide on pending human steps,
// and the monitor (C9) to start/stop the stalled-thread sweep.
type Stack struct {
	Config       *config.Config
	Checkpoints  checkpoint.Store
	Bus          *events.Bus
	Models       *model.Registry
	LLM          *llm.Client
	Agents       *model.AgentDirectory
	Engine       *engine.Engine
	Orchestrator *orchestrator.Orchestrator
	Monitor      *monitor.Monitor
	Registry     *registry.Registry
	Approvals    *approval.Orchestrator
	Metrics      *metrics.Metrics
}

// Option customizes stack construction, e.g. to inject a NATS client for
// the "nats" checkpoint backend.
type Option func(*buildOpts)

type buildOpts struct {
	natsClient *natsclient.Client
	sqlDB      *sql.DB
	logger     *slog.Logger
	agents     []model.AgentConfig
}

// WithNATSClient supplies the client the "nats" checkpoint backend
// connects through. Required when Config.Checkpoint.Backend == "nats".
func WithNATSClient(nc *natsclient.Client) Option {
	return func(o *buildOpts) { o.natsClient = nc }
}

// WithSQLDB supplies an already-opened database handle for the "sql"
// checkpoint backend. Required when Config.Checkpoint.Backend == "sql".
func WithSQLDB(db *sql.DB) Option {
	return func(o *buildOpts) { o.sqlDB = db }
}

// WithLogger sets the logger every component receives. Defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *buildOpts) { o.logger = logger }
}

// WithAgents seeds the global agent directory scope (spec.md §4.9 step 2)
// at construction time, e.g. from a loaded agents.yaml.
func WithAgents(agents []model.AgentConfig) Option {
	return func(o *buildOpts) { o.agents = agents }
}

// Build constructs a fully-wired Stack from cfg. The returned Stack's
// Monitor has not been Start-ed; callers decide when the background scan
// loop should begin (typically right before accepting traffic).
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*Stack, error) {
	o := &buildOpts{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	store, err := buildCheckpointStore(ctx, cfg.Checkpoint, o)
	if err != nil {
		return nil, fmt.Errorf("runtime: build checkpoint store: %w", err)
	}

	bus := events.NewBus()
	models := model.NewDefaultRegistry()
	llmOpts := []llm.ClientOption{llm.WithLogger(o.logger)}
	if cfg.Checkpoint.Backend == "nats" && o.natsClient != nil {
		callStore, err := llm.NewCallStore(ctx, o.natsClient, llm.WithStoreLogger(o.logger))
		if err != nil {
			return nil, fmt.Errorf("runtime: build LLM call store: %w", err)
		}
		llmOpts = append(llmOpts, llm.WithCallStore(callStore))
	}
	llmClient := llm.NewClient(models, llmOpts...)
	op := operator.NewLLMOperator(llmClient, operator.DefaultPolicy(), o.logger)

	agents := model.NewAgentDirectory()
	for i := range cfg.Agents {
		agents.RegisterGlobal(&cfg.Agents[i])
	}
	for i := range o.agents {
		agents.RegisterGlobal(&o.agents[i])
	}

	mtr := metrics.New()
	approvals := buildApprovals(cfg, bus, o, mtr)

	execRegistry := executor.NewRegistry()
	execRegistry.Register(executor.NewMockExecutor())
	execRegistry.Register(executor.NewConditionalExecutor())
	execRegistry.Register(executor.NewParallelExecutor())
	execRegistry.Register(executor.NewLoopExecutor(validation.NewRetryManager(validation.DefaultRetryConfig())))
	execRegistry.Register(executor.NewHumanExecutor(approvals))
	execRegistry.Register(executor.NewClaudeExecutor(llmClient, op, bus, o.logger))

	eng := engine.NewEngine(execRegistry, store, bus,
		engine.WithLogger(o.logger),
		engine.WithMaxConcurrency(cfg.Orchestrator.MaxConcurrency),
		engine.WithApprovals(approvals),
	)

	orch := orchestrator.New(agents, store, eng,
		orchestrator.WithLogger(o.logger),
		orchestrator.WithMetrics(mtr),
	)

	mon := monitor.New(store, eng, orch,
		monitor.WithLogger(o.logger),
		monitor.WithScanInterval(cfg.Orchestrator.HeartbeatInterval),
		monitor.WithStaleAfter(cfg.Orchestrator.StaleAfter),
		monitor.WithMaxAttempts(cfg.Orchestrator.MaxResumeAttempts),
	)
	orch.SetMonitor(mon)
	mtr.RegisterMonitor(mon)

	reg := registry.New(store, bus, registry.WithLogger(o.logger))

	return &Stack{
		Config:       cfg,
		Checkpoints:  store,
		Bus:          bus,
		Models:       models,
		LLM:          llmClient,
		Agents:       agents,
		Engine:       eng,
		Orchestrator: orch,
		Monitor:      mon,
		Registry:     reg,
		Approvals:    approvals,
		Metrics:      mtr,
	}, nil
}

func buildApprovals(cfg *config.Config, bus *events.Bus, o *buildOpts, mtr *metrics.Metrics) *approval.Orchestrator {
	opts := []approval.Option{
		approval.WithDefaultTimeout(cfg.Approvals.DefaultTimeout),
		approval.WithNotificationSink(approval.NewLogSink(o.logger)),
		approval.WithNotificationSink(approval.NewMetricsSink(mtr)),
	}
	if o.natsClient != nil && cfg.Approvals.CallbackSubjectPrefix != "" {
		opts = append(opts, approval.WithNotificationSink(
			approval.NewCallbackSink(o.natsClient, cfg.Approvals.CallbackSubjectPrefix),
		))
	}
	return approval.NewOrchestrator(approval.NewMemoryStore(), bus, opts...)
}

func buildCheckpointStore(ctx context.Context, cfg config.CheckpointConfig, o *buildOpts) (checkpoint.Store, error) {
	switch cfg.Backend {
	case "file", "":
		return checkpoint.NewFileStore(cfg.Root)
	case "sql":
		if o.sqlDB == nil {
			return nil, fmt.Errorf("runtime: sql checkpoint backend requires WithSQLDB")
		}
		return checkpoint.NewSQLStore(o.sqlDB), nil
	case "nats":
		if o.natsClient == nil {
			return nil, fmt.Errorf("runtime: nats checkpoint backend requires WithNATSClient")
		}
		return checkpoint.NewNATSStore(ctx, o.natsClient)
	default:
		return nil, fmt.Errorf("runtime: unknown checkpoint backend %q", cfg.Backend)
	}
}
