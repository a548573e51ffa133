package workflow

import "fmt"

// ValidateGraph checks the whole-DAG invariants from the data model: every
// step id is unique, dependency/branch/parallel references point at
// existing steps, the dependency graph is acyclic, and every step passes
// its own Validate. It is called once by the orchestrator (C8) before a
// thread is created or rehydrated.
func ValidateGraph(steps []*WorkflowStep) error {
	byID := make(map[string]*WorkflowStep, len(steps))
	for _, s := range steps {
		if _, dup := byID[s.ID]; dup {
			return &ValidationError{Field: "id", Message: fmt.Sprintf("duplicate step id %q", s.ID)}
		}
		byID[s.ID] = s
	}

	for _, s := range steps {
		if err := s.Validate(); err != nil {
			return err
		}
		for _, dep := range s.Deps {
			if _, ok := byID[dep]; !ok {
				return &ValidationError{Field: "deps", Message: fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep)}
			}
		}
		if s.TrueBranch != "" {
			if _, ok := byID[s.TrueBranch]; !ok {
				return &ValidationError{Field: "trueBranch", Message: fmt.Sprintf("step %q trueBranch references unknown step %q", s.ID, s.TrueBranch)}
			}
		}
		if s.FalseBranch != "" {
			if _, ok := byID[s.FalseBranch]; !ok {
				return &ValidationError{Field: "falseBranch", Message: fmt.Sprintf("step %q falseBranch references unknown step %q", s.ID, s.FalseBranch)}
			}
		}
		for _, child := range s.ParallelSteps {
			if _, ok := byID[child]; !ok {
				return &ValidationError{Field: "parallelSteps", Message: fmt.Sprintf("step %q parallelSteps references unknown step %q", s.ID, child)}
			}
		}
		if s.Type == StepTypeLoop && s.LoopBody != "" {
			if _, ok := byID[s.LoopBody]; !ok {
				return &ValidationError{Field: "loopBody", Message: fmt.Sprintf("step %q loopBody references unknown step %q", s.ID, s.LoopBody)}
			}
		}
	}

	if cyc := findCycle(steps, byID); cyc != nil {
		return &ValidationError{Field: "deps", Message: fmt.Sprintf("dependency cycle detected: %v", cyc)}
	}

	return nil
}

// findCycle runs a DFS over the deps graph and returns the first cycle
// found as a slice of step ids, or nil if the graph is acyclic.
func findCycle(steps []*WorkflowStep, byID map[string]*WorkflowStep) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)

		step := byID[id]
		for _, dep := range step.Deps {
			switch color[dep] {
			case white:
				if visit(dep) {
					return true
				}
			case gray:
				// Found a back-edge; extract the cycle from path.
				for i, p := range path {
					if p == dep {
						cycle = append(append([]string{}, path[i:]...), dep)
						return true
					}
				}
				return true
			}
		}

		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, s := range steps {
		if color[s.ID] == white {
			if visit(s.ID) {
				return cycle
			}
		}
	}
	return nil
}

// TransitiveDescendants returns every step id reachable from root by
// following trueBranch/falseBranch/parallelSteps/loopBody edges and
// deps-in-reverse (i.e. steps that list root, directly or indirectly, as a
// dependency). Used by the conditional executor to propagate `skipped`.
func TransitiveDescendants(steps []*WorkflowStep, root string) []string {
	byID := make(map[string]*WorkflowStep, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
		for _, dep := range s.Deps {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	seen := map[string]bool{root: true}
	queue := []string{root}
	var out []string

	enqueue := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		queue = append(queue, id)
		out = append(out, id)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if s := byID[id]; s != nil {
			enqueue(s.TrueBranch)
			enqueue(s.FalseBranch)
			for _, c := range s.ParallelSteps {
				enqueue(c)
			}
			if s.Type == StepTypeLoop {
				enqueue(s.LoopBody)
			}
		}
		for _, dep := range dependents[id] {
			enqueue(dep)
		}
	}

	return out
}
