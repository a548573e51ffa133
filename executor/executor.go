// Package executor implements the step executor registry (C1): a
// polymorphic dispatch table from workflow.StepType to the executor that
// knows how to run it, so the engine (C7) never branches on step type
// itself.
package executor

import (
	"context"
	"fmt"

	"github.com/c360studio/agentflow/template"
	"github.com/c360studio/agentflow/workflow"
)

// Result is what an executor reports back to the engine for a single step
// attempt.
type Result struct {
	Output    string
	SessionID string
	Status    workflow.StepStatus
	Error     string
	// SkipIDs lists step ids a control executor (conditional) has decided
	// to skip, along with their transitive descendants. The engine marks
	// each StepSkipped without invoking its executor.
	SkipIDs []string
}

// Request carries everything an executor needs to run one step attempt.
// It never carries the whole WorkflowState so an executor can't mutate
// engine-owned bookkeeping directly — only the engine commits a Result.
type Request struct {
	ThreadID   string
	ProjectID  string
	Step       *workflow.WorkflowStep
	Attempt    int
	SessionID  string // prior session id for this step, if this is a retry
	Outputs    template.Outputs
	TplContext template.Context
	AllSteps   []*workflow.WorkflowStep // full DAG; used by conditional/parallel/loop
}

// Runner lets a control executor (conditional, parallel, loop) ask its
// caller — the engine — to run a referenced step, recursively. This keeps
// DAG traversal and checkpoint-writing centralized in the engine while
// still letting C1 host the conditional/parallel/loop dispatch the spec
// calls for.
type Runner interface {
	RunStep(ctx context.Context, threadID, stepID string) (Result, error)
}

// StepExecutor runs one kind of workflow.StepType.
type StepExecutor interface {
	CanHandle(t workflow.StepType) bool
	Execute(ctx context.Context, req Request, runner Runner) (Result, error)
}

// Registry dispatches a step to the first registered executor that
// claims to handle its type.
type Registry struct {
	executors []StepExecutor
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an executor. Later registrations take priority over
// earlier ones for the same StepType, so a caller can override a default
// (e.g. swap a ClaudeExecutor for a MockExecutor in tests).
func (r *Registry) Register(e StepExecutor) {
	r.executors = append([]StepExecutor{e}, r.executors...)
}

// For returns the executor registered for t, if any.
func (r *Registry) For(t workflow.StepType) (StepExecutor, bool) {
	for _, e := range r.executors {
		if e.CanHandle(t) {
			return e, true
		}
	}
	return nil, false
}

// Execute looks up and runs the executor for req.Step.Type.
func (r *Registry) Execute(ctx context.Context, req Request, runner Runner) (Result, error) {
	e, ok := r.For(req.Step.Type)
	if !ok {
		return Result{}, fmt.Errorf("executor: no executor registered for step type %q", req.Step.Type)
	}
	return e.Execute(ctx, req, runner)
}
