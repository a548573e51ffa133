package workflowapi

import (
	"github.com/c360studio/semstreams/component"
)

// RegistryInterface is the subset of the component registry this factory
// needs.
type RegistryInterface interface {
	RegisterWithConfig(config component.RegistrationConfig) error
}

// Register registers the workflow-api component with the given registry.
func Register(registry RegistryInterface) error {
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "workflow-api",
		Factory:     NewComponent,
		Schema:      workflowAPISchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "agentic",
		Description: "HTTP surface for workflow invoke, threads, approvals, and graph data",
		Version:     "0.1.0",
	})
}
