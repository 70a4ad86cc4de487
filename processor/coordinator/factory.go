package coordinator

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the coordinator component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "coordinator",
		Factory:     NewComponent,
		Schema:      coordinatorSchema,
		Type:        "processor",
		Protocol:    "task",
		Domain:      "taskpilot",
		Description: "Drives tasks through the workflow state machine from lifecycle events",
		Version:     "0.1.0",
	})
}
