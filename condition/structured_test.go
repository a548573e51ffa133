package condition

import "testing"

func outputsFixture() StepOutputs {
	return StepOutputs{
		StepOutputs: map[string]string{
			"review": "LGTM, approved for merge",
			"score":  "42",
			"flag":   "true",
		},
		StepStatus: map[string]string{
			"review":  "success",
			"score":   "success",
			"flag":    "success",
			"skipped": "skipped",
		},
	}
}

func TestEvaluateStructured_StringContains(t *testing.T) {
	root := RootGroup{
		Version: "2.0",
		RootGroup: RuleGroup{
			Combinator: CombinatorAnd,
			Rules: []Rule{
				{
					LeftValue:  LeftValue{StepID: "review", Field: "output"},
					Operation:  OpContains,
					RightValue: RightValue{Value: "approved"},
					DataType:   DataTypeString,
				},
			},
		},
	}
	res, err := EvaluateStructured(root, outputsFixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Result {
		t.Error("expected contains match")
	}
}

func TestEvaluateStructured_NumberGreaterThan(t *testing.T) {
	root := RootGroup{
		Version: "2.0",
		RootGroup: RuleGroup{
			Combinator: CombinatorAnd,
			Rules: []Rule{
				{
					LeftValue:  LeftValue{StepID: "score", Field: "output"},
					Operation:  OpGreaterThan,
					RightValue: RightValue{Value: float64(10)},
					DataType:   DataTypeNumber,
				},
			},
		},
	}
	res, err := EvaluateStructured(root, outputsFixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Result {
		t.Error("expected 42 > 10 to match")
	}
}

func TestEvaluateStructured_OrShortCircuit(t *testing.T) {
	root := RootGroup{
		Version: "2.0",
		RootGroup: RuleGroup{
			Combinator: CombinatorOr,
			Rules: []Rule{
				{LeftValue: LeftValue{StepID: "review", Field: "output"}, Operation: OpEquals, RightValue: RightValue{Value: "nope"}, DataType: DataTypeString},
				{LeftValue: LeftValue{StepID: "score", Field: "output"}, Operation: OpGreaterThan, RightValue: RightValue{Value: float64(1)}, DataType: DataTypeNumber},
			},
		},
	}
	res, err := EvaluateStructured(root, outputsFixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Result {
		t.Error("expected OR group to match on second rule")
	}
	if len(res.Trace) != 2 {
		t.Errorf("expected both rules evaluated (no short circuit opportunity until 2nd), got %d trace entries", len(res.Trace))
	}
}

func TestEvaluateStructured_CoercionFailureNeverPanics(t *testing.T) {
	root := RootGroup{
		Version: "2.0",
		RootGroup: RuleGroup{
			Combinator: CombinatorAnd,
			Rules: []Rule{
				{
					LeftValue:  LeftValue{StepID: "review", Field: "output"},
					Operation:  OpGreaterThan,
					RightValue: RightValue{Value: float64(10)},
					DataType:   DataTypeNumber,
				},
			},
		},
	}
	res, err := EvaluateStructured(root, outputsFixture())
	if err != nil {
		t.Fatalf("coercion failure must not produce an error: %v", err)
	}
	if res.Result {
		t.Error("expected false result on coercion failure")
	}
	if len(res.Trace) != 1 || res.Trace[0].Matched {
		t.Errorf("expected a failed trace entry, got %+v", res.Trace)
	}
}

func TestEvaluateStructured_IsEmptyOnSkippedStep(t *testing.T) {
	root := RootGroup{
		Version: "2.0",
		RootGroup: RuleGroup{
			Combinator: CombinatorAnd,
			Rules: []Rule{
				{LeftValue: LeftValue{StepID: "skipped", Field: "output"}, Operation: OpIsEmpty},
			},
		},
	}
	res, err := EvaluateStructured(root, outputsFixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Result {
		t.Error("expected isEmpty to match a skipped step's output")
	}
}

func TestEvaluateStructured_NestedGroups(t *testing.T) {
	root := RootGroup{
		Version: "2.0",
		RootGroup: RuleGroup{
			Combinator: CombinatorAnd,
			Rules: []Rule{
				{LeftValue: LeftValue{StepID: "flag", Field: "output"}, Operation: OpEquals, RightValue: RightValue{Value: true}, DataType: DataTypeBoolean},
			},
			Groups: []RuleGroup{
				{
					Combinator: CombinatorOr,
					Rules: []Rule{
						{LeftValue: LeftValue{StepID: "review", Field: "output"}, Operation: OpStartsWith, RightValue: RightValue{Value: "NOPE"}, DataType: DataTypeString},
						{LeftValue: LeftValue{StepID: "review", Field: "output"}, Operation: OpStartsWith, RightValue: RightValue{Value: "LGTM"}, DataType: DataTypeString},
					},
				},
			},
		},
	}
	res, err := EvaluateStructured(root, outputsFixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Result {
		t.Error("expected nested AND(rule, OR(group)) to match")
	}
}
