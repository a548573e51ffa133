// Package config provides configuration loading and management for the
// workflow orchestration core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/agentflow/model"
)

// Config is the complete process configuration.
type Config struct {
	Model        ModelConfig         `yaml:"model" toml:"model"`
	Orchestrator OrchestratorConfig  `yaml:"orchestrator" toml:"orchestrator"`
	Approvals    ApprovalsConfig     `yaml:"approvals" toml:"approvals"`
	Checkpoint   CheckpointConfig    `yaml:"checkpoint" toml:"checkpoint"`
	HTTP         HTTPConfig          `yaml:"http" toml:"http"`
	NATS         NATSConfig          `yaml:"nats" toml:"nats"`
	Tools        ToolsConfig         `yaml:"tools" toml:"tools"`
	// Agents lists agents registered globally (every project may bind to
	// them by role or agentId); per-project agents are configured
	// separately at the caller (e.g. a project service), not here.
	Agents []model.AgentConfig `yaml:"agents,omitempty" toml:"agents,omitempty"`
}

// ModelConfig configures the default LLM collaborator settings an agent
// falls back to when its AgentConfig doesn't override them.
type ModelConfig struct {
	// Default is the default model identifier (e.g. "claude-sonnet-4-5").
	Default string `yaml:"default" toml:"default"`
	// Endpoint is the model provider's API endpoint.
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `yaml:"temperature" toml:"temperature"`
	// Timeout is the maximum time to wait for a single model response.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// OrchestratorConfig tunes the engine (C7) and monitor (C9).
type OrchestratorConfig struct {
	// MaxConcurrency bounds how many ready steps the engine launches at
	// once within a single Run call.
	MaxConcurrency int `yaml:"maxConcurrency" toml:"max_concurrency"`
	// HeartbeatInterval is how often the monitor scans registered threads.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval" toml:"heartbeat_interval"`
	// StaleAfter is how long a thread may go without a heartbeat update
	// before the monitor considers it stalled.
	StaleAfter time.Duration `yaml:"staleAfter" toml:"stale_after"`
	// MaxResumeAttempts bounds how many times the monitor retries a
	// stalled thread before giving up on it.
	MaxResumeAttempts int `yaml:"maxResumeAttempts" toml:"max_resume_attempts"`
}

// ApprovalsConfig tunes the human approval orchestrator (C5).
type ApprovalsConfig struct {
	// DefaultTimeout is the approval expiry applied when a step doesn't
	// set its own timeoutSeconds.
	DefaultTimeout time.Duration `yaml:"defaultTimeout" toml:"default_timeout"`
	// CallbackSubjectPrefix is the JetStream subject prefix an
	// approval.CallbackSink publishes StepCallbackResult messages under
	// (as "{prefix}.{threadId}") once a human step's approval resolves.
	// Only used when a NATS client is available to runtime.Build.
	CallbackSubjectPrefix string `yaml:"callbackSubjectPrefix" toml:"callback_subject_prefix"`
}

// CheckpointConfig selects and tunes the durable checkpoint store (C6).
type CheckpointConfig struct {
	// Backend selects the Store implementation: "file" (default), "sql",
	// or "nats".
	Backend string `yaml:"backend" toml:"backend"`
	// Root is the filesystem root the "file" backend persists thread
	// checkpoints under (one JSON document per thread).
	Root string `yaml:"root" toml:"root"`
	// DSN is the connection string for the "sql" backend.
	DSN string `yaml:"dsn,omitempty" toml:"dsn,omitempty"`
}

// HTTPConfig configures the workflow API's HTTP listener.
type HTTPConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
	// MaxBodyBytes caps request body size before json.Unmarshal runs.
	MaxBodyBytes int64 `yaml:"maxBodyBytes" toml:"max_body_bytes"`
}

// NATSConfig configures the optional cross-process event bridge.
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server).
	URL string `yaml:"url" toml:"url"`
	// Embedded indicates whether to use an embedded NATS server.
	Embedded bool `yaml:"embedded" toml:"embedded"`
}

// ToolsConfig configures the default tool allowlist agents without their
// own AgentConfig.Tools inherit.
type ToolsConfig struct {
	// Allowlist is the list of allowed tool names (empty = allow all).
	Allowlist []string `yaml:"allowlist" toml:"allowlist"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Default:     "claude-sonnet-4-5",
			Endpoint:    "https://api.anthropic.com/v1",
			Temperature: 0.2,
			Timeout:     5 * time.Minute,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrency:    8,
			HeartbeatInterval: 30 * time.Second,
			StaleAfter:        120 * time.Second,
			MaxResumeAttempts: 3,
		},
		Approvals: ApprovalsConfig{
			DefaultTimeout:        24 * time.Hour,
			CallbackSubjectPrefix: "agentflow.approvals.callback",
		},
		Checkpoint: CheckpointConfig{
			Backend: "file",
			Root:    ".agentflow/threads",
		},
		HTTP: HTTPConfig{
			Addr:         ":8085",
			MaxBodyBytes: 1 << 20,
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Tools: ToolsConfig{
			Allowlist: nil,
		},
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Model.Default == "" {
		return fmt.Errorf("model.default is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Orchestrator.MaxConcurrency <= 0 {
		return fmt.Errorf("orchestrator.maxConcurrency must be positive")
	}
	if c.Orchestrator.StaleAfter <= 0 {
		return fmt.Errorf("orchestrator.staleAfter must be positive")
	}
	if c.Orchestrator.MaxResumeAttempts <= 0 {
		return fmt.Errorf("orchestrator.maxResumeAttempts must be positive")
	}
	switch c.Checkpoint.Backend {
	case "file", "sql", "nats":
	default:
		return fmt.Errorf("checkpoint.backend must be one of file, sql, nats; got %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.Backend == "file" && c.Checkpoint.Root == "" {
		return fmt.Errorf("checkpoint.root is required for the file backend")
	}
	if c.Checkpoint.Backend == "sql" && c.Checkpoint.DSN == "" {
		return fmt.Errorf("checkpoint.dsn is required for the sql backend")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadFromTOMLFile loads configuration from a TOML file, for deployments
// that prefer TOML over YAML.
func LoadFromTOMLFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if _, err := toml.Decode(string(data), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadFromPath dispatches to LoadFromFile or LoadFromTOMLFile based on
// path's extension (".toml" selects TOML; anything else is treated as
// YAML), so callers can accept either format for a single --config flag.
func LoadFromPath(path string) (*Config, error) {
	if filepath.Ext(path) == ".toml" {
		return LoadFromTOMLFile(path)
	}
	return LoadFromFile(path)
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Model.Default != "" {
		c.Model.Default = other.Model.Default
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	if other.Orchestrator.MaxConcurrency != 0 {
		c.Orchestrator.MaxConcurrency = other.Orchestrator.MaxConcurrency
	}
	if other.Orchestrator.HeartbeatInterval != 0 {
		c.Orchestrator.HeartbeatInterval = other.Orchestrator.HeartbeatInterval
	}
	if other.Orchestrator.StaleAfter != 0 {
		c.Orchestrator.StaleAfter = other.Orchestrator.StaleAfter
	}
	if other.Orchestrator.MaxResumeAttempts != 0 {
		c.Orchestrator.MaxResumeAttempts = other.Orchestrator.MaxResumeAttempts
	}

	if other.Approvals.DefaultTimeout != 0 {
		c.Approvals.DefaultTimeout = other.Approvals.DefaultTimeout
	}

	if other.Checkpoint.Backend != "" {
		c.Checkpoint.Backend = other.Checkpoint.Backend
	}
	if other.Checkpoint.Root != "" {
		c.Checkpoint.Root = other.Checkpoint.Root
	}
	if other.Checkpoint.DSN != "" {
		c.Checkpoint.DSN = other.Checkpoint.DSN
	}

	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.HTTP.MaxBodyBytes != 0 {
		c.HTTP.MaxBodyBytes = other.HTTP.MaxBodyBytes
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	if len(other.Tools.Allowlist) > 0 {
		c.Tools.Allowlist = other.Tools.Allowlist
	}
}
