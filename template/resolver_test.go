package template

import (
	"testing"
	"time"
)

func TestResolve_BasicAndFieldSuffixes(t *testing.T) {
	outputs := Outputs{
		StepOutputs: map[string]string{"step1": "hello world"},
		StepStatus:  map[string]string{"step1": "success"},
	}
	ctx := Context{ThreadID: "t1", ProjectID: "p1"}

	cases := map[string]string{
		"{step1}":          "hello world",
		"{step1.output}":   "hello world",
		"{step1.response}": "hello world",
		"{step1.status}":   "success",
		"{threadId}":       "t1",
		"{projectId}":      "p1",
	}
	for tmpl, want := range cases {
		if got := Resolve(tmpl, outputs, ctx); got != want {
			t.Errorf("Resolve(%q) = %q, want %q", tmpl, got, want)
		}
	}
}

func TestResolve_UnknownReferenceStaysLiteral(t *testing.T) {
	outputs := Outputs{StepOutputs: map[string]string{}, StepStatus: map[string]string{}}
	got := Resolve("before {unknownStep.output} after", outputs, Context{})
	want := "before {unknownStep.output} after"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolver_SkippedStepOutputIsEmpty(t *testing.T) {
	// A skipped step is recorded in stepStatus but never writes to
	// stepOutputs — its {id.output} reference must resolve to "", not be
	// left as a literal placeholder.
	outputs := Outputs{
		StepOutputs: map[string]string{},
		StepStatus:  map[string]string{"skippedStep": "skipped"},
	}
	got := Resolve("result: [{skippedStep.output}]", outputs, Context{})
	want := "result: []"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolve_NoRecursionIntoSubstitutedText(t *testing.T) {
	outputs := Outputs{
		StepOutputs: map[string]string{"a": "{b}"},
		StepStatus:  map[string]string{"a": "success", "b": "success"},
	}
	got := Resolve("{a}", outputs, Context{})
	if got != "{b}" {
		t.Errorf("substituted text must not be re-scanned, got %q", got)
	}
}

func TestResolve_Timestamp(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := Resolve("{timestamp}", Outputs{}, Context{Timestamp: ts})
	want := "1767225600"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolve_LeftToRightSinglePass(t *testing.T) {
	outputs := Outputs{
		StepOutputs: map[string]string{"x": "1", "y": "2"},
		StepStatus:  map[string]string{"x": "success", "y": "success"},
	}
	got := Resolve("{x}+{y}={x}{y}", outputs, Context{})
	if got != "1+2=12" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_UnterminatedBrace(t *testing.T) {
	got := Resolve("prefix {unterminated", Outputs{}, Context{})
	if got != "prefix {unterminated" {
		t.Errorf("got %q", got)
	}
}

func TestResolve_NoTemplateSyntaxIsNoOp(t *testing.T) {
	got := Resolve("plain text, nothing to resolve", Outputs{}, Context{})
	if got != "plain text, nothing to resolve" {
		t.Errorf("got %q", got)
	}
}
