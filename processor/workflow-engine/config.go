package workflowengine

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// workflowEngineSchema defines the configuration schema.
var workflowEngineSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the workflow-engine component: a
// NATS-hosted shell around the orchestrator (C8), engine (C7), monitor
// (C9), registry (C10), and approval orchestrator (C5).
type Config struct {
	// RequestStreamName is the JetStream stream carrying invoke requests.
	RequestStreamName string `json:"request_stream_name"`
	// RequestSubject is the durable-consumer filter subject for invoke
	// requests (a JSON-encoded orchestrator.Request per message).
	RequestSubject string `json:"request_subject"`
	// ResultSubject is where this component publishes each request's
	// orchestrator.Result (or error), suffixed by threadId.
	ResultSubject string `json:"result_subject"`

	// EventStreamName is the stream this component republishes the
	// in-process event bus (C11) onto, suffixed by threadId, for other
	// processors and the HTTP API's SSE bridge to subscribe to.
	EventStreamName string `json:"event_stream_name"`
	EventSubject    string `json:"event_subject"`

	// CheckpointBackend selects the durable store (C6): "file" or "nats".
	// "sql" is not supported in this hosted form: the sql backend needs a
	// database handle passed through runtime.WithSQLDB, which this component
	// does not supply.
	CheckpointBackend string `json:"checkpoint_backend"`
	CheckpointRoot    string `json:"checkpoint_root,omitempty"`

	MaxConcurrency         int           `json:"max_concurrency"`
	HeartbeatInterval      time.Duration `json:"heartbeat_interval"`
	StaleAfter             time.Duration `json:"stale_after"`
	MaxResumeAttempts      int           `json:"max_resume_attempts"`
	ApprovalDefaultTimeout time.Duration `json:"approval_default_timeout"`
	// ApprovalCallbackSubjectPrefix, if non-empty, publishes a
	// StepCallbackResult to "{prefix}.{threadId}" whenever a human step's
	// approval resolves (workflow.CallbackFields's publish pattern).
	ApprovalCallbackSubjectPrefix string `json:"approval_callback_subject_prefix,omitempty"`

	// MetricsAddr, if non-empty, serves GET /metrics (Prometheus exposition
	// format) on its own listener, separate from the JetStream surfaces
	// above. Empty disables the endpoint.
	MetricsAddr string `json:"metrics_addr,omitempty"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		RequestStreamName:      "WORKFLOW",
		RequestSubject:         "workflow.invoke",
		ResultSubject:          "workflow.result",
		EventStreamName:        "WORKFLOW",
		EventSubject:           "workflow.events",
		CheckpointBackend:      "file",
		CheckpointRoot:         ".agentflow/threads",
		MaxConcurrency:         8,
		HeartbeatInterval:      30 * time.Second,
		StaleAfter:             120 * time.Second,
		MaxResumeAttempts:             3,
		ApprovalDefaultTimeout:        24 * time.Hour,
		ApprovalCallbackSubjectPrefix: "workflow.approvals.callback",
		MetricsAddr:                   ":9090",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "workflow-invoke",
					Type:        "jetstream",
					Subject:     "workflow.invoke",
					StreamName:  "WORKFLOW",
					Description: "Workflow invoke requests",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "workflow-result",
					Type:        "jetstream",
					Subject:     "workflow.result",
					StreamName:  "WORKFLOW",
					Description: "Invoke results",
					Required:    true,
				},
				{
					Name:        "workflow-events",
					Type:        "jetstream",
					Subject:     "workflow.events.>",
					StreamName:  "WORKFLOW",
					Description: "Engine/approval/monitor lifecycle events",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RequestStreamName == "" {
		return fmt.Errorf("request_stream_name is required")
	}
	if c.RequestSubject == "" {
		return fmt.Errorf("request_subject is required")
	}
	switch c.CheckpointBackend {
	case "file", "nats":
	default:
		return fmt.Errorf("checkpoint_backend must be file or nats; got %q", c.CheckpointBackend)
	}
	if c.CheckpointBackend == "file" && c.CheckpointRoot == "" {
		return fmt.Errorf("checkpoint_root is required for the file backend")
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("stale_after must be positive")
	}
	if c.MaxResumeAttempts <= 0 {
		return fmt.Errorf("max_resume_attempts must be positive")
	}
	return nil
}
