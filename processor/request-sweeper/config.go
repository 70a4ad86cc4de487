package requestsweeper

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/taskpilot/queue"
)

// sweeperSchema defines the configuration schema.
var sweeperSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the request sweeper component.
type Config struct {
	// CheckInterval is how often to scan for stale input requests.
	CheckInterval time.Duration `json:"check_interval"`

	// MaxAge is how long a request may stay pending before it is swept.
	MaxAge time.Duration `json:"max_age"`

	// WorkDir is the checkout the collaboration client operates in.
	WorkDir string `json:"work_dir,omitempty"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval: 5 * time.Minute,
		MaxAge:        72 * time.Hour,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "pending-requests",
					Type:        "kv-watch",
					Subject:     "TASKPILOT_REQUESTS",
					Description: "Scan pending input requests in KV bucket",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "timeout-events",
					Type:        "jetstream",
					Subject:     queue.SubjectTimeout + ".>",
					StreamName:  queue.StreamName,
					Description: "Publish request timeout events",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be positive")
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("max_age must be positive")
	}
	return nil
}
