package engine

import (
	"context"

	"github.com/c360studio/agentflow/executor"
	"github.com/c360studio/agentflow/workflow"
)

// engineRunner adapts Engine to executor.Runner for a single in-flight
// run, letting control executors (parallel, loop) recurse back into
// runStep/commitResult for their child steps.
type engineRunner struct {
	e *Engine
	r *run
}

func (er *engineRunner) RunStep(ctx context.Context, _ string, stepID string) (executor.Result, error) {
	res, err := er.e.runStep(ctx, er.r, stepID)
	if err != nil {
		return executor.Result{}, err
	}
	er.e.commitResult(er.r, stepID, res)
	return res, nil
}

func indexSteps(steps []*workflow.WorkflowStep) map[string]*workflow.WorkflowStep {
	byID := make(map[string]*workflow.WorkflowStep, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}
	return byID
}

// ownedSubSteps returns the set of step ids that are only ever run via a
// control executor's Runner callback (a parallel step's children, a
// loop's body) rather than through the top-level ready-set scan.
func ownedSubSteps(steps []*workflow.WorkflowStep) map[string]bool {
	owned := make(map[string]bool)
	for _, s := range steps {
		for _, child := range s.ParallelSteps {
			owned[child] = true
		}
		if s.Type == workflow.StepTypeLoop && s.LoopBody != "" {
			owned[s.LoopBody] = true
		}
	}
	return owned
}

func allPending(state *workflow.WorkflowState) bool {
	for _, s := range state.Definition {
		if status, ok := state.StepStatus[s.ID]; ok && status != workflow.StepPending {
			return false
		}
	}
	return true
}

// depState reports whether every dependency in deps has reached a
// terminal status, and whether any of them is a status that must
// propagate as a failure (failed or blocked) to its dependents.
func depState(r *run, deps []string) (terminal bool, anyFailed bool) {
	terminal = true
	for _, depID := range deps {
		status := r.state.StepStatus[depID]
		if !status.IsTerminal() {
			terminal = false
			continue
		}
		if status == workflow.StepFailed || status == workflow.StepBlocked {
			anyFailed = true
		}
	}
	return terminal, anyFailed
}

func hasAwaitingApproval(state *workflow.WorkflowState) bool {
	for _, status := range state.StepStatus {
		if status == workflow.StepAwaitingApproval {
			return true
		}
	}
	return false
}

// overallStatus computes the thread-level Status once every step has
// reached a terminal StepStatus, per the rule: completed if all non-skipped
// steps succeeded; failed if none did (no root successes); partial for a
// mixed outcome.
func overallStatus(state *workflow.WorkflowState) workflow.Status {
	succeeded, failed := 0, 0
	for _, s := range state.Definition {
		switch state.StepStatus[s.ID] {
		case workflow.StepSuccess:
			succeeded++
		case workflow.StepFailed, workflow.StepBlocked:
			failed++
		}
	}
	switch {
	case failed == 0:
		return workflow.StatusCompleted
	case succeeded == 0:
		return workflow.StatusFailed
	default:
		return workflow.StatusPartial
	}
}

func cloneMap(m map[string]string) map[string]string {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func stringStatusMap(m map[string]workflow.StepStatus) map[string]string {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = string(v)
	}
	return cp
}
