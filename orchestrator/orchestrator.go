// Package orchestrator implements the workflow orchestrator façade (C8):
// the single entry point a caller (the HTTP API, the CLI) invokes to run
// a workflow. It validates the request, resolves each step's agent
// binding, creates or rehydrates the thread's state, registers it with
// the monitor (C9), and hands off to the engine (C7).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/c360studio/agentflow/checkpoint"
	"github.com/c360studio/agentflow/engine"
	"github.com/c360studio/agentflow/model"
	"github.com/c360studio/agentflow/workflow"
	"github.com/google/uuid"
)

// MonitorRegistrar is the subset of the workflow monitor (C9) the
// orchestrator needs: registering a thread for heartbeat watching on
// invoke, and de-registering it once the engine returns a result that is
// not suspended (a suspended thread stays registered — it is still
// waiting on a human decision, not stalled).
type MonitorRegistrar interface {
	Register(threadID string)
	Deregister(threadID string)
}

// InvocationRecorder receives one call per Invoke that reaches the engine,
// labeled by the run's resulting status ("error" when Run returns no
// state); requests rejected before the run are not recorded. Defined locally (rather than importing the metrics package
// directly) because metrics depends on monitor, which already depends on
// orchestrator — *metrics.Metrics satisfies this interface structurally.
type InvocationRecorder interface {
	RecordInvocation(status string)
}

// Request is what a caller (HTTP handler, CLI command) submits to run a
// workflow.
type Request struct {
	Steps                []*workflow.WorkflowStep
	ProjectID            string
	ThreadID             string // if set and resolvable, rehydrates an existing thread
	StartNewConversation bool
}

// Result is the façade's response: the same projection returned by
// POST /api/invoke.
type Result struct {
	ThreadID    string
	StepOutputs map[string]string
	SessionIDs  map[string]string
	Status      workflow.Status
	Summary     string
}

// Orchestrator is the C8 façade.
type Orchestrator struct {
	agents  *model.AgentDirectory
	store   checkpoint.Store
	engine  *engine.Engine
	monitor MonitorRegistrar
	metrics InvocationRecorder
	logger  *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMonitor wires the monitor registration hook.
func WithMonitor(m MonitorRegistrar) Option {
	return func(o *Orchestrator) { o.monitor = m }
}

// WithLogger sets the orchestrator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics wires an invocation counter, incremented once per Invoke that
// reaches the engine.
func WithMetrics(r InvocationRecorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// SetMonitor wires the monitor registration hook after construction. The
// monitor (C9) itself is constructed with this Orchestrator as its
// Invoker, so the two can't be built in a single pass — one is always
// constructed first with the wiring completed by a follow-up call.
func (o *Orchestrator) SetMonitor(m MonitorRegistrar) {
	o.monitor = m
}

// New constructs an Orchestrator.
func New(agents *model.AgentDirectory, store checkpoint.Store, eng *engine.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{agents: agents, store: store, engine: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Invoke runs req.Steps as a workflow thread to completion (or
// suspension), per spec.md §4.9's four steps: validate, resolve agents,
// rehydrate-or-create, run.
func (o *Orchestrator) Invoke(ctx context.Context, req Request) (*Result, error) {
	if len(req.Steps) == 0 {
		return nil, &workflow.ValidationError{Field: "steps", Message: "at least one step is required"}
	}
	if err := workflow.ValidateGraph(req.Steps); err != nil {
		o.logger.Warn("orchestrator: rejected invalid workflow graph", "projectId", req.ProjectID, "error", err)
		return nil, err
	}
	if err := o.resolveAgents(req.ProjectID, req.Steps); err != nil {
		o.logger.Warn("orchestrator: agent resolution failed", "projectId", req.ProjectID, "error", err)
		return nil, err
	}

	state, err := o.loadOrCreate(ctx, req)
	if err != nil {
		return nil, err
	}

	if o.monitor != nil {
		o.monitor.Register(state.ThreadID)
	}

	out, runErr := o.engine.Run(ctx, state)
	if runErr != nil && out == nil {
		if o.monitor != nil {
			o.monitor.Deregister(state.ThreadID)
		}
		if o.metrics != nil {
			o.metrics.RecordInvocation("error")
		}
		return nil, runErr
	}

	if o.monitor != nil && out.Status != workflow.StatusSuspended {
		o.monitor.Deregister(out.ThreadID)
	}
	if o.metrics != nil {
		o.metrics.RecordInvocation(string(out.Status))
	}

	return &Result{
		ThreadID:    out.ThreadID,
		StepOutputs: out.StepOutputs,
		SessionIDs:  out.SessionIDs,
		Status:      out.Status,
		Summary:     summarize(out),
	}, runErr
}

// resolveAgents checks every non-control step's role/agentId binding
// resolves to a configured agent, failing fast with AgentUnresolvedError
// before any step runs (spec.md §4.9 step 2). Control steps (conditional,
// parallel, loop) bind no agent and are skipped.
func (o *Orchestrator) resolveAgents(projectID string, steps []*workflow.WorkflowStep) error {
	for _, step := range steps {
		if step.Type.IsControl() {
			continue
		}
		if _, err := o.agents.Resolve(projectID, step.Role, step.AgentID, step.ID); err != nil {
			return err
		}
	}
	return nil
}

// loadOrCreate rehydrates an existing thread when req.ThreadID is set and
// found, otherwise creates a fresh WorkflowState with a generated id.
func (o *Orchestrator) loadOrCreate(ctx context.Context, req Request) (*workflow.WorkflowState, error) {
	if req.ThreadID != "" && !req.StartNewConversation {
		state, err := o.store.Load(ctx, req.ThreadID)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, checkpoint.ErrNotFound) {
			return nil, fmt.Errorf("orchestrator: load thread %s: %w", req.ThreadID, err)
		}
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}
	return workflow.NewWorkflowState(threadID, req.ProjectID, req.Steps), nil
}

func summarize(state *workflow.WorkflowState) string {
	total, done, failed := 0, 0, 0
	for _, s := range state.Definition {
		total++
		switch state.StepStatus[s.ID] {
		case workflow.StepSuccess, workflow.StepSkipped:
			done++
		case workflow.StepFailed, workflow.StepBlocked:
			failed++
		}
	}
	return fmt.Sprintf("%s: %d/%d steps complete, %d failed/blocked", state.Status, done, total, failed)
}
