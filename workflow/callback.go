package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c360studio/semstreams/natsclient"
)

// CallbackFields lets an executor that dispatches work asynchronously (for
// example a human step awaiting an external decision, or a step handed off
// to another NATS-hosted component) carry the information needed for the
// receiving side to report completion back into the engine.
//
// Embed this in any payload type published by an executor that expects a
// later, out-of-band result:
//
//	type MyDispatch struct {
//	    workflow.CallbackFields
//	    // ... component-specific fields
//	}
//
// Receivers check HasCallback() to decide whether to publish a
// StepCallbackResult back to the engine once the work concludes.
type CallbackFields struct {
	// CallbackSubject is where to publish the StepCallbackResult once done.
	CallbackSubject string `json:"callback_subject,omitempty"`

	// StepID correlates this dispatch with the pending workflow step.
	StepID string `json:"step_id,omitempty"`

	// ThreadID identifies the workflow thread this dispatch belongs to.
	ThreadID string `json:"thread_id,omitempty"`
}

// HasCallback returns true if a callback subject and step id were
// supplied, meaning the recipient should publish a StepCallbackResult.
func (c *CallbackFields) HasCallback() bool {
	return c.CallbackSubject != "" && c.StepID != ""
}

// Callback status constants mirrored onto StepStatus's success/failed pair.
const (
	CallbackStatusSuccess = "success"
	CallbackStatusFailed  = "failed"
)

// StepCallbackResult is the envelope published back to the engine when an
// asynchronously dispatched step concludes.
type StepCallbackResult struct {
	ThreadID string          `json:"threadId"`
	StepID   string          `json:"stepId"`
	Status   string          `json:"status"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// PublishCallbackSuccess publishes a successful StepCallbackResult to the
// callback subject via JetStream. The output should be whatever text the
// engine should store under stepOutputs[stepId].
func (c *CallbackFields) PublishCallbackSuccess(ctx context.Context, nc *natsclient.Client, output any) error {
	return c.publishCallback(ctx, nc, CallbackStatusSuccess, output, "")
}

// PublishCallbackFailure publishes a failed StepCallbackResult to the
// callback subject via JetStream.
func (c *CallbackFields) PublishCallbackFailure(ctx context.Context, nc *natsclient.Client, errMsg string) error {
	return c.publishCallback(ctx, nc, CallbackStatusFailed, nil, errMsg)
}

func (c *CallbackFields) publishCallback(ctx context.Context, nc *natsclient.Client, status string, output any, errMsg string) error {
	if !c.HasCallback() {
		return fmt.Errorf("no callback configured")
	}

	var outputJSON json.RawMessage
	if output != nil {
		data, err := json.Marshal(output)
		if err != nil {
			return fmt.Errorf("marshal callback output: %w", err)
		}
		outputJSON = data
	}

	result := StepCallbackResult{
		ThreadID: c.ThreadID,
		StepID:   c.StepID,
		Status:   status,
		Output:   outputJSON,
		Error:    errMsg,
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal callback result: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream for callback: %w", err)
	}

	if _, err := js.Publish(ctx, c.CallbackSubject, data); err != nil {
		return fmt.Errorf("publish callback to %s: %w", c.CallbackSubject, err)
	}

	return nil
}
