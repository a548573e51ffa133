package executor

import (
	"context"
	"fmt"

	"github.com/c360studio/agentflow/condition"
	"github.com/c360studio/agentflow/template"
	"github.com/c360studio/agentflow/workflow"
	"github.com/c360studio/agentflow/workflow/validation"
)

// LoopExecutor iterates a loop body step until its condition evaluates
// false, maxIterations is reached, or (for loopType=retry) the body
// succeeds.
type LoopExecutor struct {
	retry *validation.RetryManager
}

// NewLoopExecutor constructs a LoopExecutor. The retry manager backs
// loopType=retry bookkeeping (attempt counts, backoff); callers share one
// instance across the engine so PruneOld/StateCount observe every thread.
func NewLoopExecutor(retry *validation.RetryManager) *LoopExecutor {
	if retry == nil {
		retry = validation.NewRetryManager(validation.DefaultRetryConfig())
	}
	return &LoopExecutor{retry: retry}
}

func (e *LoopExecutor) CanHandle(t workflow.StepType) bool {
	return t == workflow.StepTypeLoop
}

func (e *LoopExecutor) Execute(ctx context.Context, req Request, runner Runner) (Result, error) {
	step := req.Step
	if step.LoopBody == "" {
		return Result{}, fmt.Errorf("executor: loop step %s has no loopBody", step.ID)
	}
	if runner == nil {
		return Result{}, fmt.Errorf("executor: loop step %s requires a Runner", step.ID)
	}

	maxIter := step.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}

	switch step.LoopType {
	case workflow.LoopTypeRetry:
		return e.runRetry(ctx, req, runner, maxIter)
	case workflow.LoopTypeFor:
		return e.runFor(ctx, req, runner, maxIter)
	default: // LoopTypeWhile and unset
		return e.runWhile(ctx, req, runner, maxIter)
	}
}

func (e *LoopExecutor) runFor(ctx context.Context, req Request, runner Runner, maxIter int) (Result, error) {
	var last Result
	for i := 0; i < maxIter; i++ {
		res, err := runner.RunStep(ctx, req.ThreadID, req.Step.LoopBody)
		if err != nil {
			return Result{}, err
		}
		last = res
		if res.Status == workflow.StepFailed {
			return last, nil
		}
	}
	return last, nil
}

// runWhile is a do-while loop: the body runs at least once, then
// loopCondition (typically referencing the body's own output, which does
// not exist before a first run) is checked against the freshly recorded
// output to decide whether to iterate again.
func (e *LoopExecutor) runWhile(ctx context.Context, req Request, runner Runner, maxIter int) (Result, error) {
	var last Result
	outputs := cloneOutputs(req.Outputs)

	for i := 0; i < maxIter; i++ {
		res, err := runner.RunStep(ctx, req.ThreadID, req.Step.LoopBody)
		if err != nil {
			return Result{}, err
		}
		last = res
		if res.Status == workflow.StepFailed {
			return last, nil
		}
		outputs.StepOutputs[req.Step.LoopBody] = res.Output
		outputs.StepStatus[req.Step.LoopBody] = string(res.Status)

		if req.Step.LoopCondition == nil {
			continue
		}

		resolved, err := resolveConditionTemplates(req.Step.LoopCondition, outputs, req.TplContext)
		if err != nil {
			return Result{}, fmt.Errorf("executor: resolve loop condition for step %s: %w", req.Step.ID, err)
		}
		result, err := condition.Evaluate(resolved, condition.StepOutputs{
			StepOutputs: outputs.StepOutputs, StepStatus: outputs.StepStatus,
		})
		if err != nil {
			return Result{}, fmt.Errorf("executor: evaluate loop condition for step %s: %w", req.Step.ID, err)
		}
		if !result.Result {
			break
		}
	}
	return last, nil
}

func (e *LoopExecutor) runRetry(ctx context.Context, req Request, runner Runner, maxIter int) (Result, error) {
	var last Result
	for i := 0; i < maxIter; i++ {
		e.retry.RecordAttempt(req.ThreadID, req.Step.ID)

		res, err := runner.RunStep(ctx, req.ThreadID, req.Step.LoopBody)
		if err != nil {
			return Result{}, err
		}
		last = res

		if res.Status != workflow.StepFailed {
			e.retry.ClearState(req.ThreadID, req.Step.ID)
			return last, nil
		}

		e.retry.RecordFailure(req.ThreadID, req.Step.ID, res.Error, &validation.Result{Valid: false, Reason: res.Error})
	}
	return last, nil
}

// cloneOutputs copies o so a while-loop's per-iteration bookkeeping of the
// loop body's latest output never mutates the caller's Request.Outputs.
func cloneOutputs(o template.Outputs) template.Outputs {
	cp := template.Outputs{
		StepOutputs: make(map[string]string, len(o.StepOutputs)),
		StepStatus:  make(map[string]string, len(o.StepStatus)),
	}
	for k, v := range o.StepOutputs {
		cp.StepOutputs[k] = v
	}
	for k, v := range o.StepStatus {
		cp.StepStatus[k] = v
	}
	return cp
}
