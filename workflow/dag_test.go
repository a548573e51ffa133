package workflow

import "testing"

func chain(ids ...string) []*WorkflowStep {
	var steps []*WorkflowStep
	for i, id := range ids {
		s := &WorkflowStep{ID: id, Type: StepTypeTask, Role: "agent"}
		if i > 0 {
			s.Deps = []string{ids[i-1]}
		}
		steps = append(steps, s)
	}
	return steps
}

func TestValidateGraph_Valid(t *testing.T) {
	steps := chain("a", "b", "c")
	if err := ValidateGraph(steps); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateGraph_DuplicateID(t *testing.T) {
	steps := []*WorkflowStep{
		{ID: "a", Type: StepTypeTask, Role: "agent"},
		{ID: "a", Type: StepTypeTask, Role: "agent"},
	}
	if err := ValidateGraph(steps); err == nil {
		t.Error("expected error for duplicate id")
	}
}

func TestValidateGraph_DanglingDep(t *testing.T) {
	steps := []*WorkflowStep{
		{ID: "a", Type: StepTypeTask, Role: "agent", Deps: []string{"missing"}},
	}
	if err := ValidateGraph(steps); err == nil {
		t.Error("expected error for dangling dependency")
	}
}

func TestValidateGraph_Cycle(t *testing.T) {
	steps := []*WorkflowStep{
		{ID: "a", Type: StepTypeTask, Role: "agent", Deps: []string{"b"}},
		{ID: "b", Type: StepTypeTask, Role: "agent", Deps: []string{"a"}},
	}
	if err := ValidateGraph(steps); err == nil {
		t.Error("expected error for cycle")
	}
}

func TestValidateGraph_DanglingBranch(t *testing.T) {
	steps := []*WorkflowStep{
		{ID: "cond", Type: StepTypeConditional, TrueBranch: "missing", FalseBranch: "also-missing"},
	}
	if err := ValidateGraph(steps); err == nil {
		t.Error("expected error for dangling branch reference")
	}
}

func TestValidateGraph_DanglingParallel(t *testing.T) {
	steps := []*WorkflowStep{
		{ID: "p", Type: StepTypeParallel, ParallelSteps: []string{"missing"}},
	}
	if err := ValidateGraph(steps); err == nil {
		t.Error("expected error for dangling parallel reference")
	}
}

func TestTransitiveDescendants_ConditionalBranch(t *testing.T) {
	steps := []*WorkflowStep{
		{ID: "cond", Type: StepTypeConditional, TrueBranch: "t1", FalseBranch: "f1"},
		{ID: "t1", Type: StepTypeTask, Role: "agent", Deps: []string{"cond"}},
		{ID: "f1", Type: StepTypeTask, Role: "agent", Deps: []string{"cond"}},
		{ID: "f2", Type: StepTypeTask, Role: "agent", Deps: []string{"f1"}},
	}
	descendants := TransitiveDescendants(steps, "f1")
	found := map[string]bool{}
	for _, id := range descendants {
		found[id] = true
	}
	if !found["f2"] {
		t.Error("expected f2 to be a transitive descendant of f1")
	}
	if found["t1"] {
		t.Error("t1 is a sibling branch, not a descendant of f1")
	}
}
