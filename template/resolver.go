// Package template resolves the `{...}` placeholder syntax embedded in a
// workflow step's task/prompt text against prior step outputs and the
// invocation context. Resolution is a pure function of its inputs: no I/O,
// no global state, no recursion into substituted text.
package template

import (
	"strconv"
	"strings"
	"time"
)

// Context carries the invocation-scoped values addressable by the
// `{threadId}`, `{projectId}`, and `{timestamp}` context keys.
type Context struct {
	ThreadID  string
	ProjectID string
	// Timestamp defaults to time.Now() at Resolve time when zero, so
	// callers don't need to stamp it for ordinary use; tests can pin it.
	Timestamp time.Time
}

// StepField selects which facet of a step's recorded outcome a reference
// addresses.
type StepField string

const (
	FieldOutput   StepField = "output"
	FieldStatus   StepField = "status"
	FieldResponse StepField = "response"
)

// Outputs is the read-only view into a thread's recorded step results that
// Resolve consults. stepOutputs holds the textual response per step id;
// stepStatus holds each step's terminal status string (e.g. "success",
// "skipped") for {id.status} references.
type Outputs struct {
	StepOutputs map[string]string
	StepStatus  map[string]string
}

// Resolve performs a single left-to-right pass over tmpl, replacing every
// recognized `{...}` reference with its resolved value. Unknown references
// (a step id with no recorded output and no matching context key) are left
// in place verbatim rather than raising an error — callers depend on this
// to surface misconfigured templates without crashing the run. A step with
// no recorded output (e.g. it was skipped) resolves to the empty string,
// not the literal placeholder: absence of output is a value, absence of a
// matching reference is not.
//
// Substituted text is never re-scanned, so a resolved value that itself
// contains `{...}` syntax is emitted as-is.
func Resolve(tmpl string, outputs Outputs, ctx Context) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}

	var b strings.Builder
	b.Grow(len(tmpl))

	i := 0
	for i < len(tmpl) {
		c := tmpl[i]
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}

		end := strings.IndexByte(tmpl[i+1:], '}')
		if end < 0 {
			// Unterminated reference: copy the rest verbatim.
			b.WriteString(tmpl[i:])
			break
		}
		end += i + 1 // absolute index of the closing brace

		ref := tmpl[i+1 : end]
		value, ok := resolveRef(ref, outputs, ctx)
		if ok {
			b.WriteString(value)
		} else {
			// Unknown reference: keep the literal text, including braces.
			b.WriteString(tmpl[i : end+1])
		}
		i = end + 1
	}

	return b.String()
}

func resolveRef(ref string, outputs Outputs, ctx Context) (string, bool) {
	switch ref {
	case "threadId":
		return ctx.ThreadID, true
	case "projectId":
		return ctx.ProjectID, true
	case "timestamp":
		ts := ctx.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		return strconv.FormatInt(ts.UTC().Unix(), 10), true
	}

	stepID, field, hasField := strings.Cut(ref, ".")
	if stepID == "" {
		return "", false
	}

	_, hasOutput := outputs.StepOutputs[stepID]
	status, hasStatus := outputs.StepStatus[stepID]
	if !hasOutput && !hasStatus {
		// No record of this step id at all: treat as unknown.
		return "", false
	}

	if !hasField {
		// Bare `{id}` is shorthand for `{id.output}`.
		return outputs.StepOutputs[stepID], true
	}

	switch StepField(field) {
	case FieldOutput, FieldResponse:
		return outputs.StepOutputs[stepID], true
	case FieldStatus:
		return status, true
	default:
		return "", false
	}
}
