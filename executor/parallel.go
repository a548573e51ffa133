package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/c360studio/agentflow/workflow"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency bounds how many parallelSteps children run at
// once, per spec.md §5's concurrency model.
const DefaultMaxConcurrency = 8

// ParallelExecutor launches a step's parallelSteps concurrently (bounded
// by MaxConcurrency), joins, and aggregates their outputs.
type ParallelExecutor struct {
	MaxConcurrency int
}

// NewParallelExecutor constructs a ParallelExecutor with
// DefaultMaxConcurrency.
func NewParallelExecutor() *ParallelExecutor {
	return &ParallelExecutor{MaxConcurrency: DefaultMaxConcurrency}
}

func (e *ParallelExecutor) CanHandle(t workflow.StepType) bool {
	return t == workflow.StepTypeParallel
}

func (e *ParallelExecutor) Execute(ctx context.Context, req Request, runner Runner) (Result, error) {
	step := req.Step
	if len(step.ParallelSteps) == 0 {
		return Result{Status: workflow.StepSuccess}, nil
	}
	if runner == nil {
		return Result{}, fmt.Errorf("executor: parallel step %s requires a Runner", step.ID)
	}

	max := e.MaxConcurrency
	if max <= 0 {
		max = DefaultMaxConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max)

	results := make(map[string]Result, len(step.ParallelSteps))
	var mu sync.Mutex
	var anyFailed bool

	for _, childID := range step.ParallelSteps {
		childID := childID
		g.Go(func() error {
			res, err := runner.RunStep(gctx, req.ThreadID, childID)
			if err != nil {
				return fmt.Errorf("executor: parallel child %s: %w", childID, err)
			}
			mu.Lock()
			results[childID] = res
			if res.Status == workflow.StepFailed {
				anyFailed = true
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	// Aggregate in declared parallelSteps order for a deterministic
	// concatenation, per spec.md §4.4's "concatenation of child ids ->
	// outputs" — independent of whatever order the goroutines finished in.
	var b strings.Builder
	for i, childID := range step.ParallelSteps {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", childID, results[childID].Output)
	}

	status := workflow.StepSuccess
	if anyFailed {
		status = workflow.StepFailed
	}

	return Result{Output: b.String(), Status: status}, nil
}
