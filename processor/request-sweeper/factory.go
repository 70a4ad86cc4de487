package requestsweeper

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the request sweeper component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "request-sweeper",
		Factory:     NewComponent,
		Schema:      sweeperSchema,
		Type:        "processor",
		Protocol:    "task",
		Domain:      "taskpilot",
		Description: "Cancels stale human-input requests and publishes timeout events",
		Version:     "0.1.0",
	})
}
