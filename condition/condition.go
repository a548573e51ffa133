// Package condition evaluates the two shapes a workflow conditional step's
// `condition` field may take: a legacy boolean-expression string (already
// template-resolved by the caller) and a structured v2.0 rule tree. Both
// shapes classify at parse time and evaluate without ever panicking —
// coercion failures produce a false result with a failed trace entry, not
// an error.
package condition

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnsupportedToken is returned when a legacy expression contains a
// token that is not a resolved literal, a supported operator, or a
// parenthesis — most commonly an unresolved template reference left over
// because the referenced step id does not exist.
var ErrUnsupportedToken = errors.New("condition: unsupported token in legacy expression")

// TraceEntry records one evaluated comparison (legacy leaf expression, or
// structured rule) for observability and debugging.
type TraceEntry struct {
	Rule    string `json:"rule"`
	Left    any    `json:"left"`
	Right   any    `json:"right"`
	Matched bool   `json:"matched"`
}

// Result is the outcome of evaluating a condition.
type Result struct {
	Result bool         `json:"result"`
	Trace  []TraceEntry `json:"trace"`
}

// Kind classifies a condition's shape.
type Kind string

const (
	KindLegacy     Kind = "legacy"
	KindStructured Kind = "structured"
)

// structuredEnvelope is used only to sniff the "version" discriminator.
type structuredEnvelope struct {
	Version string `json:"version"`
}

// Classify inspects raw JSON and determines whether it encodes a legacy
// expression string or a structured v2.0 rule tree, per spec: a bare JSON
// string is legacy; an object with version "2.0" is structured. Any other
// shape is a classification error.
func Classify(raw json.RawMessage) (Kind, error) {
	trimmed := trimSpace(raw)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("condition: empty condition")
	}

	if trimmed[0] == '"' {
		return KindLegacy, nil
	}

	if trimmed[0] == '{' {
		var env structuredEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return "", fmt.Errorf("condition: invalid structured condition: %w", err)
		}
		if env.Version != "2.0" {
			return "", fmt.Errorf("condition: unsupported structured condition version %q", env.Version)
		}
		return KindStructured, nil
	}

	return "", fmt.Errorf("condition: condition must be a string (legacy) or an object (structured)")
}

func trimSpace(raw json.RawMessage) []byte {
	i, j := 0, len(raw)
	for i < j && isSpace(raw[i]) {
		i++
	}
	for j > i && isSpace(raw[j-1]) {
		j--
	}
	return raw[i:j]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Evaluate classifies raw and evaluates it against outputs, dispatching to
// the legacy or structured evaluator. Legacy expressions are evaluated as
// raw strings — the caller is responsible for having already run them
// through the template resolver, since the legacy grammar only accepts
// resolved literals.
func Evaluate(raw json.RawMessage, outputs StepOutputs) (Result, error) {
	kind, err := Classify(raw)
	if err != nil {
		return Result{}, err
	}

	switch kind {
	case KindLegacy:
		var expr string
		if err := json.Unmarshal(raw, &expr); err != nil {
			return Result{}, fmt.Errorf("condition: invalid legacy condition: %w", err)
		}
		return EvaluateLegacy(expr)
	case KindStructured:
		var group RootGroup
		if err := json.Unmarshal(raw, &group); err != nil {
			return Result{}, fmt.Errorf("condition: invalid structured condition: %w", err)
		}
		return EvaluateStructured(group, outputs)
	default:
		return Result{}, fmt.Errorf("condition: unknown kind %q", kind)
	}
}

// StepOutputs is the read-only view a structured rule's leftValue
// (stepId, field) addresses. Mirrors template.Outputs so callers can
// reuse the same data without importing the template package.
type StepOutputs struct {
	StepOutputs map[string]string
	StepStatus  map[string]string
}
