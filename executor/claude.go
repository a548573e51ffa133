package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/c360studio/agentflow/events"
	"github.com/c360studio/agentflow/llm"
	"github.com/c360studio/agentflow/operator"
	"github.com/c360studio/agentflow/template"
	"github.com/c360studio/agentflow/workflow"
)

// Completer is the subset of *llm.Client a ClaudeExecutor needs, so tests
// can substitute llm/testutil.MockLLMClient without depending on the
// concrete HTTP-backed client.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ClaudeExecutor runs task steps by resolving templates into a prompt,
// calling the LLM, emitting a token event, and classifying the result via
// the context-aware operator (C4).
type ClaudeExecutor struct {
	completer Completer
	op        operator.Operator
	bus       *events.Bus
	logger    *slog.Logger
}

// NewClaudeExecutor constructs a ClaudeExecutor. bus may be nil to disable
// event emission (e.g. in unit tests that don't care about it).
func NewClaudeExecutor(completer Completer, op operator.Operator, bus *events.Bus, logger *slog.Logger) *ClaudeExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClaudeExecutor{completer: completer, op: op, bus: bus, logger: logger}
}

func (e *ClaudeExecutor) CanHandle(t workflow.StepType) bool {
	return t == workflow.StepTypeTask
}

func (e *ClaudeExecutor) Execute(ctx context.Context, req Request, _ Runner) (Result, error) {
	step := req.Step
	if step.AgentID == "" && step.Role == "" {
		return Result{}, &workflow.AgentUnresolvedError{StepID: step.ID, Role: step.Role, Agent: step.AgentID}
	}

	task := template.Resolve(step.Task, req.Outputs, req.TplContext)

	capability := step.Role
	if capability == "" {
		capability = step.AgentID
	}

	llmReq := llm.Request{
		Capability: capability,
		Messages:   []llm.Message{{Role: "user", Content: task}},
	}

	resp, err := e.completer.Complete(ctx, llmReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			// Aborted mid-call: report the step as failed (there is no
			// aborted step status) instead of returning an error, so the
			// engine commits it and then marks the run itself aborted.
			return Result{Status: workflow.StepFailed, Error: "aborted: " + err.Error()}, nil
		}
		return Result{}, fmt.Errorf("executor: llm call for step %s: %w", step.ID, err)
	}

	e.emitToken(req.ThreadID, step.ID, resp.Content)

	verdict, err := e.op.Classify(ctx, operator.Input{
		ThreadID:     req.ThreadID,
		StepID:       step.ID,
		Role:         step.Role,
		Task:         task,
		ResponseText: resp.Content,
	})
	if err != nil {
		e.logger.Warn("operator classify failed, defaulting to success", "stepId", step.ID, "error", err)
		verdict = operator.Result{Verdict: operator.VerdictSuccess}
	}

	status := workflow.StepSuccess
	switch verdict.Verdict {
	case operator.VerdictBlocked:
		status = workflow.StepBlocked
	case operator.VerdictFailed:
		status = workflow.StepFailed
	}

	return Result{
		Output:    resp.Content,
		SessionID: resp.RequestID,
		Status:    status,
	}, nil
}

func (e *ClaudeExecutor) emitToken(threadID, stepID, content string) {
	if e.bus == nil {
		return
	}
	// llm.Client has no token-streaming API; the full response is emitted
	// as a single token event rather than fabricating incremental chunks.
	e.bus.Publish(events.Event{
		Event:    events.AgentTokenEmitted,
		ThreadID: threadID,
		Payload:  map[string]string{"stepId": stepID, "content": content},
	})
}
