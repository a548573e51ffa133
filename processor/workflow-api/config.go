package workflowapi

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// workflowAPISchema defines the configuration schema.
var workflowAPISchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the workflow-api component.
type Config struct {
	// CheckpointBackend selects the durable store (C6) this component's
	// runtime.Stack uses: "file" or "nats". A multi-process deployment
	// should use "nats" here and in processor/workflow-engine so both
	// consult the same checkpoint.Store.
	CheckpointBackend string `json:"checkpoint_backend"`
	CheckpointRoot    string `json:"checkpoint_root,omitempty"`

	MaxConcurrency         int           `json:"max_concurrency"`
	HeartbeatInterval      time.Duration `json:"heartbeat_interval"`
	StaleAfter             time.Duration `json:"stale_after"`
	MaxResumeAttempts      int           `json:"max_resume_attempts"`
	ApprovalDefaultTimeout time.Duration `json:"approval_default_timeout"`

	// MaxBodyBytes caps a request body before json.Unmarshal runs.
	MaxBodyBytes int64 `json:"max_body_bytes"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		CheckpointBackend:      "file",
		CheckpointRoot:         ".agentflow/threads",
		MaxConcurrency:         8,
		HeartbeatInterval:      30 * time.Second,
		StaleAfter:             120 * time.Second,
		MaxResumeAttempts:      3,
		ApprovalDefaultTimeout: 24 * time.Hour,
		MaxBodyBytes:           1 << 20,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
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
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	return nil
}
