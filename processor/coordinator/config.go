package coordinator

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/taskpilot/agent"
	"github.com/c360studio/taskpilot/engine"
	"github.com/c360studio/taskpilot/queue"
)

// coordinatorSchema defines the configuration schema.
var coordinatorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the coordinator component.
type Config struct {
	// StreamName is the JetStream stream carrying task lifecycle events.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream for task lifecycle events,category:basic,default:TASKPILOT_TASKS"`

	// ConsumerName is the durable consumer name for event consumption.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name for event consumption,category:basic,default:coordinator"`

	// AckWait is how long a delivered event may be processed before redelivery.
	// Stage runs include agent calls, so this needs LLM headroom.
	AckWait string `json:"ack_wait" schema:"type:string,description:Processing window before an event is redelivered,category:advanced,default:5m"`

	// MaxDeliver bounds redelivery attempts per event.
	MaxDeliver int `json:"max_deliver" schema:"type:number,description:Maximum delivery attempts per event,category:advanced,default:5"`

	// WorkDir is the checkout the workspace runner and collaboration client
	// operate in.
	WorkDir string `json:"work_dir" schema:"type:string,description:Repository checkout for git and gh operations,category:basic"`

	// Agents maps agent kinds (primary, secondary) to model endpoints.
	Agents map[string]agent.Endpoint `json:"agents" schema:"type:object,description:Model endpoint per agent kind,category:basic"`

	// RequestsPerMinute limits agent invocations per kind. Zero disables
	// rate limiting.
	RequestsPerMinute float64 `json:"requests_per_minute" schema:"type:number,description:Agent invocations allowed per minute per kind,category:advanced,default:30"`

	// Burst is the rate limiter burst size.
	Burst int `json:"burst" schema:"type:number,description:Rate limiter burst size,category:advanced,default:5"`

	// Policy overrides the default workflow policy when set.
	Policy *engine.Policy `json:"policy,omitempty" schema:"type:object,description:Workflow policy overrides,category:advanced"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:        queue.StreamName,
		ConsumerName:      "coordinator",
		AckWait:           "5m",
		MaxDeliver:        5,
		RequestsPerMinute: 30,
		Burst:             5,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "task-events",
					Type:        "jetstream",
					Subject:     "task.event.>",
					StreamName:  queue.StreamName,
					Description: "Receive task lifecycle events",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "task-status",
					Type:        "nats",
					Subject:     queue.SubjectStatus + ".>",
					Description: "Publish task stage transitions",
					Required:    false,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.MaxDeliver < 1 {
		return fmt.Errorf("max_deliver must be at least 1")
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent endpoint is required")
	}
	if _, err := time.ParseDuration(c.AckWait); c.AckWait != "" && err != nil {
		return fmt.Errorf("invalid ack_wait: %w", err)
	}
	return nil
}

// GetAckWait parses the ack wait duration.
func (c *Config) GetAckWait() time.Duration {
	if c.AckWait == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(c.AckWait)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}
