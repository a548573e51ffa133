package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c360studio/agentflow/events"
	"github.com/c360studio/agentflow/workflow"
	"github.com/c360studio/semstreams/natsclient"
)

// LogSink is a NotificationSink that writes a structured log line per
// transition. Useful as the always-on default sink.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a LogSink. A nil logger falls back to slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(_ context.Context, a *workflow.Approval, evt events.Type) error {
	s.logger.Info("approval transition",
		"event", string(evt),
		"approvalId", a.ApprovalID,
		"threadId", a.ThreadID,
		"stepId", a.StepID,
		"riskLevel", string(a.RiskLevel),
		"status", string(a.Status),
	)
	return nil
}

// NATSSink forwards approval transitions to a JetStream subject so a chat
// bot or operator UI can present them to a human without polling.
type NATSSink struct {
	nc      *natsclient.Client
	subject string
}

// NewNATSSink constructs a sink publishing to subject (e.g.
// "agentflow.approvals").
func NewNATSSink(nc *natsclient.Client, subject string) *NATSSink {
	return &NATSSink{nc: nc, subject: subject}
}

func (s *NATSSink) Notify(ctx context.Context, a *workflow.Approval, evt events.Type) error {
	js, err := s.nc.JetStream()
	if err != nil {
		return fmt.Errorf("approval: get jetstream: %w", err)
	}
	payload := struct {
		Event    events.Type        `json:"event"`
		Approval *workflow.Approval `json:"approval"`
	}{Event: evt, Approval: a}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("approval: marshal notification: %w", err)
	}
	_, err = js.Publish(ctx, s.subject, data)
	return err
}

// CallbackSink publishes a workflow.StepCallbackResult back to the
// originating workflow processor once a human step's approval resolves,
// using workflow.CallbackFields's publish-to-JetStream pattern. This is the
// async-dispatch/result path a "human" step models: the step suspended when
// the approval was created, and the decision is the out-of-band result the
// engine (or an engine running in a separate process) resumes on.
//
// Only terminal transitions produce a callback; ApprovalCreated is ignored
// since nothing is waiting on a result yet.
type CallbackSink struct {
	nc     *natsclient.Client
	prefix string
}

// NewCallbackSink constructs a sink that publishes to "{prefix}.{threadId}"
// for every approval resolution.
func NewCallbackSink(nc *natsclient.Client, prefix string) *CallbackSink {
	return &CallbackSink{nc: nc, prefix: prefix}
}

func (s *CallbackSink) Notify(ctx context.Context, a *workflow.Approval, evt events.Type) error {
	if evt == events.ApprovalCreated {
		return nil
	}

	fields := workflow.CallbackFields{
		CallbackSubject: fmt.Sprintf("%s.%s", s.prefix, a.ThreadID),
		StepID:          a.StepID,
		ThreadID:        a.ThreadID,
	}

	if a.Status == workflow.ApprovalApproved {
		return fields.PublishCallbackSuccess(ctx, s.nc, a.DecisionComment)
	}

	reason := string(a.Status)
	if a.DecisionComment != "" {
		reason = a.DecisionComment
	}
	return fields.PublishCallbackFailure(ctx, s.nc, reason)
}

// TransitionRecorder receives one call per approval lifecycle transition.
// Defined locally rather than importing the metrics package directly,
// since metrics depends on monitor which depends on orchestrator which
// (via engine's executor registry) depends back on approval; *metrics.Metrics
// satisfies this interface structurally.
type TransitionRecorder interface {
	RecordApprovalTransition(evt string)
}

// MetricsSink feeds every approval transition into the process's /metrics
// endpoint counter.
type MetricsSink struct {
	r TransitionRecorder
}

// NewMetricsSink constructs a sink recording transitions against r.
func NewMetricsSink(r TransitionRecorder) *MetricsSink {
	return &MetricsSink{r: r}
}

func (s *MetricsSink) Notify(_ context.Context, _ *workflow.Approval, evt events.Type) error {
	s.r.RecordApprovalTransition(string(evt))
	return nil
}
