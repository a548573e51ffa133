package executor

import (
	"context"
	"fmt"

	"github.com/c360studio/agentflow/condition"
	"github.com/c360studio/agentflow/workflow"
)

// ConditionalExecutor evaluates a step's condition (C3) against the
// current stepOutputs/stepStatus and reports which branch was taken. The
// non-chosen branch's id (and its transitive descendants, computed via
// workflow.TransitiveDescendants) are returned as SkipIDs for the engine
// to mark skipped without invoking their executors.
type ConditionalExecutor struct{}

// NewConditionalExecutor constructs a ConditionalExecutor.
func NewConditionalExecutor() *ConditionalExecutor {
	return &ConditionalExecutor{}
}

func (e *ConditionalExecutor) CanHandle(t workflow.StepType) bool {
	return t == workflow.StepTypeConditional
}

func (e *ConditionalExecutor) Execute(_ context.Context, req Request, _ Runner) (Result, error) {
	step := req.Step

	resolved, err := resolveConditionTemplates(step.Condition, req.Outputs, req.TplContext)
	if err != nil {
		return Result{}, fmt.Errorf("executor: resolve condition for step %s: %w", step.ID, err)
	}

	result, err := condition.Evaluate(resolved, condition.StepOutputs{
		StepOutputs: req.Outputs.StepOutputs,
		StepStatus:  req.Outputs.StepStatus,
	})
	if err != nil {
		return Result{}, fmt.Errorf("executor: evaluate condition for step %s: %w", step.ID, err)
	}

	taken, skipped := step.TrueBranch, step.FalseBranch
	if !result.Result {
		taken, skipped = step.FalseBranch, step.TrueBranch
	}

	var skipIDs []string
	if skipped != "" {
		skipIDs = append(skipIDs, skipped)
		skipIDs = append(skipIDs, workflow.TransitiveDescendants(req.AllSteps, skipped)...)
	}

	return Result{
		Output: taken,
		Status: workflow.StepSuccess,
		SkipIDs: dedupe(skipIDs),
	}, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
