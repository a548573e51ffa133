package executor

import (
	"context"
	"strings"
	"time"

	"github.com/c360studio/agentflow/template"
	"github.com/c360studio/agentflow/workflow"
)

// MockExecutor produces deterministic, pattern-matched responses so tests
// can exercise the engine without a live LLM. It resolves templates with
// the same rules as ClaudeExecutor.
type MockExecutor struct {
	// Patterns maps a substring to match against the resolved task text
	// (case-insensitive) to the response to return. The first match in
	// slice order wins; DefaultResponse is used if none match.
	Patterns        []MockPattern
	DefaultResponse string
	DefaultVerdict  workflow.StepStatus
}

// MockPattern is one (substring, response) rule.
type MockPattern struct {
	Contains string
	Response string
	Status   workflow.StepStatus
}

// NewMockExecutor constructs a MockExecutor with no patterns (always
// returns DefaultResponse/DefaultVerdict, success by default).
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{DefaultResponse: "mock response", DefaultVerdict: workflow.StepSuccess}
}

func (e *MockExecutor) CanHandle(t workflow.StepType) bool {
	return t == workflow.StepTypeMock
}

func (e *MockExecutor) Execute(ctx context.Context, req Request, _ Runner) (Result, error) {
	task := template.Resolve(req.Step.Task, req.Outputs, req.TplContext)
	lower := strings.ToLower(task)

	delayMs, _ := req.Step.Config["mockDelay"].(float64)
	if delayMs > 0 {
		select {
		case <-time.After(time.Duration(delayMs) * time.Millisecond):
		case <-ctx.Done():
			return Result{Status: workflow.StepFailed, Error: ctx.Err().Error()}, nil
		}
	}

	for _, p := range e.Patterns {
		if strings.Contains(lower, strings.ToLower(p.Contains)) {
			status := p.Status
			if status == "" {
				status = workflow.StepSuccess
			}
			return Result{Output: p.Response, Status: status, SessionID: req.Step.ID + "-mock"}, nil
		}
	}

	status := e.DefaultVerdict
	if status == "" {
		status = workflow.StepSuccess
	}
	return Result{Output: e.DefaultResponse, Status: status, SessionID: req.Step.ID + "-mock"}, nil
}
