package workflowengine

import (
	"github.com/c360studio/semstreams/component"
)

// RegistryInterface is the subset of the component registry this factory
// needs.
type RegistryInterface interface {
	RegisterWithConfig(config component.RegistrationConfig) error
}

// Register registers the workflow-engine component with the given
// registry.
func Register(registry RegistryInterface) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "workflow-engine",
		Factory:     NewComponent,
		Schema:      workflowEngineSchema,
		Type:        "processor",
		Protocol:    "workflow",
		Domain:      "agentic",
		Description: "Durable, resumable multi-agent workflow orchestration core (C1-C11)",
		Version:     "0.1.0",
	})
}
