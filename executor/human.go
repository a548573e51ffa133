package executor

import (
	"context"
	"fmt"

	"github.com/c360studio/agentflow/approval"
	"github.com/c360studio/agentflow/template"
	"github.com/c360studio/agentflow/workflow"
)

// ApprovalCreator is the subset of *approval.Orchestrator a HumanExecutor
// needs, kept as an interface so tests can substitute a fake.
type ApprovalCreator interface {
	Create(ctx context.Context, req approval.CreateRequest) (*workflow.Approval, error)
}

// HumanExecutor creates an approval (C5) and reports that the step must
// suspend. It does not block waiting for a decision: the engine suspends
// the thread on the returned StepAwaitingApproval status and resumes the
// step (via ResumeDecision) on a later Run of the thread that finds this
// approvalId resolved in the approval store — matching the "suspend, don't block a goroutine" model
// the engine needs for durability across process restarts.
type HumanExecutor struct {
	approvals ApprovalCreator
}

// NewHumanExecutor constructs a HumanExecutor.
func NewHumanExecutor(approvals ApprovalCreator) *HumanExecutor {
	return &HumanExecutor{approvals: approvals}
}

func (e *HumanExecutor) CanHandle(t workflow.StepType) bool {
	return t == workflow.StepTypeHuman
}

func (e *HumanExecutor) Execute(ctx context.Context, req Request, _ Runner) (Result, error) {
	step := req.Step
	if step.InteractionType != workflow.InteractionApproval {
		// Notification/input steps don't block the DAG; they fire and
		// immediately succeed. Only approval suspends.
		return Result{Status: workflow.StepSuccess, Output: template.Resolve(step.Prompt, req.Outputs, req.TplContext)}, nil
	}

	prompt := template.Resolve(step.Prompt, req.Outputs, req.TplContext)
	riskLevel, _ := step.Config["riskLevel"].(string)
	if riskLevel == "" {
		riskLevel = string(workflow.RiskMedium)
	}

	a, err := e.approvals.Create(ctx, approval.CreateRequest{
		ThreadID:        req.ThreadID,
		StepID:          step.ID,
		ProjectID:       req.ProjectID,
		Prompt:          prompt,
		RiskLevel:       workflow.RiskLevel(riskLevel),
		TimeoutSeconds:  step.TimeoutSeconds,
		TimeoutBehavior: step.TimeoutBehavior,
	})
	if err != nil {
		return Result{}, fmt.Errorf("executor: create approval for step %s: %w", step.ID, err)
	}

	return Result{
		Status:    workflow.StepAwaitingApproval,
		SessionID: a.ApprovalID,
		Output:    prompt,
	}, nil
}

// ResumeDecision translates a resolved approval into the terminal Result
// the engine should record for the human step it was created for. Called
// by the engine at the start of every Run, for each step still awaiting an
// approval that is no longer pending.
func ResumeDecision(a *workflow.Approval) Result {
	switch a.Status {
	case workflow.ApprovalApproved:
		return Result{Status: workflow.StepSuccess, Output: a.DecisionComment, SessionID: a.ApprovalID}
	case workflow.ApprovalRejected:
		return Result{Status: workflow.StepFailed, Error: "approval rejected: " + a.DecisionComment, SessionID: a.ApprovalID}
	case workflow.ApprovalExpired:
		return Result{Status: workflow.StepFailed, Error: "approval expired", SessionID: a.ApprovalID}
	case workflow.ApprovalCancelled:
		return Result{Status: workflow.StepFailed, Error: "approval cancelled", SessionID: a.ApprovalID}
	default:
		return Result{Status: workflow.StepAwaitingApproval, SessionID: a.ApprovalID}
	}
}
