// Package operator implements the context-aware operator (C4): it turns a
// step executor's raw agent response into a verdict the scheduler can act
// on, by running the response through a pluggable LLM classification call
// rather than hard-coded keyword matching.
package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/agentflow/llm"
)

// Verdict is the classification outcome for a step's response.
type Verdict string

const (
	VerdictSuccess Verdict = "success"
	VerdictBlocked Verdict = "blocked"
	VerdictFailed  Verdict = "failed"
)

// Result is the operator's output for one classification call.
type Result struct {
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Input carries everything the operator needs to classify a response.
type Input struct {
	ThreadID     string
	StepID       string
	Role         string
	Task         string
	ResponseText string
}

// Operator classifies a step's agent response into a Result.
type Operator interface {
	Classify(ctx context.Context, in Input) (Result, error)
}

// Policy configures how an LLMOperator prompts its classification model.
// SystemPrompt and UserPromptTemplate may use the {role}, {task}, and
// {response} placeholders, substituted verbatim (not through the template
// package, since the operator's inputs are never step outputs that need
// the full template grammar).
type Policy struct {
	// Capability selects which model.Registry capability to call, e.g.
	// "reviewing" or "fast".
	Capability string

	SystemPrompt       string
	UserPromptTemplate string
}

// DefaultPolicy returns a conservative policy suitable for general-purpose
// step verdicts.
func DefaultPolicy() Policy {
	return Policy{
		Capability:   "reviewing",
		SystemPrompt: defaultSystemPrompt,
		UserPromptTemplate: "Role: {role}\n" +
			"Task: {task}\n" +
			"Response:\n{response}\n",
	}
}

const defaultSystemPrompt = `You evaluate whether an agent's response successfully completed its assigned task.
Respond with a single JSON object: {"verdict": "success"|"blocked"|"failed", "confidence": 0..1, "reason": "<one sentence>"}.
"blocked" means the agent could not proceed without more information or approval.
"failed" means the agent attempted the task but the result is wrong or incomplete.
Do not include anything other than the JSON object in your response.`

// Completer is the subset of *llm.Client's surface the operator depends
// on, so tests can substitute llm/testutil.MockLLMClient.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// LLMOperator is the default Operator implementation: it calls an
// llm.Client with the configured Policy and parses the verdict JSON out of
// the model's response, mirroring llm.ExtractJSON's tolerance for markdown
// fencing and trailing commas.
type LLMOperator struct {
	client Completer
	policy Policy
	logger *slog.Logger
}

// NewLLMOperator constructs an LLMOperator. A zero-value policy falls back
// to DefaultPolicy.
func NewLLMOperator(client Completer, policy Policy, logger *slog.Logger) *LLMOperator {
	if policy.Capability == "" {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMOperator{client: client, policy: policy, logger: logger}
}

// Classify is idempotent for identical inputs: the same (role, task,
// response) always produces the same prompt, and a deterministic policy
// capability/temperature yields a deterministic verdict in practice (the
// underlying model's own determinism is outside this package's control,
// but nothing here introduces additional non-determinism).
func (o *LLMOperator) Classify(ctx context.Context, in Input) (Result, error) {
	userPrompt := substitute(o.policy.UserPromptTemplate, in)

	resp, err := o.client.Complete(ctx, llm.Request{
		Capability: o.policy.Capability,
		Messages: []llm.Message{
			{Role: "system", Content: substitute(o.policy.SystemPrompt, in)},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return fallbackResult(in.ResponseText, o.logger, err), nil
	}

	result, parseErr := parseVerdict(resp.Content)
	if parseErr != nil {
		return fallbackResult(in.ResponseText, o.logger, parseErr), nil
	}

	return result, nil
}

func substitute(tmpl string, in Input) string {
	r := strings.NewReplacer(
		"{role}", in.Role,
		"{task}", in.Task,
		"{response}", in.ResponseText,
	)
	return r.Replace(tmpl)
}

func parseVerdict(content string) (Result, error) {
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return Result{}, fmt.Errorf("operator: no JSON object found in model response")
	}

	var parsed Result
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Result{}, fmt.Errorf("operator: invalid verdict JSON: %w", err)
	}

	switch parsed.Verdict {
	case VerdictSuccess, VerdictBlocked, VerdictFailed:
	default:
		return Result{}, fmt.Errorf("operator: unrecognized verdict %q", parsed.Verdict)
	}

	return parsed, nil
}

// fallbackResult implements the on-error contract: success if the
// response text is non-empty, else failed — with a logged warning.
func fallbackResult(responseText string, logger *slog.Logger, cause error) Result {
	logger.Warn("operator call failed, applying fallback verdict", "error", cause)

	if strings.TrimSpace(responseText) != "" {
		return Result{Verdict: VerdictSuccess, Confidence: 0, Reason: "fallback: non-empty response, operator unavailable"}
	}
	return Result{Verdict: VerdictFailed, Confidence: 0, Reason: "fallback: empty response, operator unavailable"}
}
