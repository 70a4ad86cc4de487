// Package requestsweeper provides a processor that cancels pending
// human-input requests past their age limit and publishes timeout events
// so the coordinator can fail the affected tasks.
package requestsweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/taskpilot/broker"
	"github.com/c360studio/taskpilot/collab"
	"github.com/c360studio/taskpilot/queue"
	"github.com/c360studio/taskpilot/retry"
)

// timeoutPublisher publishes request timeout events.
type timeoutPublisher interface {
	PublishTimeout(ctx context.Context, p *queue.RequestTimedOutPayload) error
}

// Component implements the request-sweeper processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	broker    *broker.Broker
	publisher timeoutPublisher

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	sweepsPerformed atomic.Int64
	requestsSwept   atomic.Int64
	sweepsFailed    atomic.Int64
	lastCheckMu     sync.RWMutex
	lastCheck       time.Time
}

// NewComponent creates a new request-sweeper processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.CheckInterval == 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.MaxAge == 0 {
		config.MaxAge = defaults.MaxAge
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "request-sweeper",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized request-sweeper",
		"check_interval", c.config.CheckInterval,
		"max_age", c.config.MaxAge)
	return nil
}

// Start begins sweeping stale input requests.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	if c.broker == nil {
		js, err := c.natsClient.JetStream()
		if err != nil {
			c.rollbackStart(cancel)
			return fmt.Errorf("get jetstream: %w", err)
		}
		store, err := broker.NewKVStore(subCtx, js)
		if err != nil {
			c.rollbackStart(cancel)
			return fmt.Errorf("open request store: %w", err)
		}
		gh := collab.WithRetry(collab.NewGitHub(c.config.WorkDir, c.logger), retry.DefaultConfig())
		c.broker = broker.New(store, gh, c.logger)
	}
	if c.publisher == nil {
		c.publisher = queue.NewNATS(c.natsClient, c.name, c.logger)
	}

	go c.sweepLoop(subCtx)

	c.logger.Info("request-sweeper started",
		"check_interval", c.config.CheckInterval,
		"max_age", c.config.MaxAge)

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// sweepLoop periodically sweeps stale requests.
func (c *Component) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	c.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// sweep cancels requests past MaxAge and publishes a timeout event for
// each, so the coordinator can fail the tasks still waiting on them.
func (c *Component) sweep(ctx context.Context) {
	c.sweepsPerformed.Add(1)
	c.updateLastCheck()

	swept, err := c.broker.Sweep(ctx, c.config.MaxAge)
	if err != nil {
		c.sweepsFailed.Add(1)
		c.logger.Error("Failed to sweep stale requests", "error", err)
		return
	}
	if len(swept) == 0 {
		return
	}

	now := time.Now().UTC()
	for _, r := range swept {
		payload := &queue.RequestTimedOutPayload{
			RequestID:  r.ID,
			TaskID:     r.TaskID,
			Checkpoint: string(r.Checkpoint),
			Age:        r.Age(now),
		}
		if err := c.publisher.PublishTimeout(ctx, payload); err != nil {
			// The request is already cancelled in the store. The task stays
			// waiting until an operator intervenes, so make this loud.
			c.sweepsFailed.Add(1)
			c.logger.Error("Failed to publish timeout event",
				"request_id", r.ID,
				"task_id", r.TaskID,
				"error", err)
			continue
		}
		c.requestsSwept.Add(1)
	}

	c.logger.Info("Swept stale input requests", "count", len(swept))
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}

	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.logger.Info("request-sweeper stopped",
		"sweeps_performed", c.sweepsPerformed.Load(),
		"requests_swept", c.requestsSwept.Load(),
		"sweeps_failed", c.sweepsFailed.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "request-sweeper",
		Type:        "processor",
		Description: "Cancels stale human-input requests and publishes timeout events",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return sweeperSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.sweepsFailed.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastCheck(),
	}
}

func (c *Component) updateLastCheck() {
	c.lastCheckMu.Lock()
	c.lastCheck = time.Now()
	c.lastCheckMu.Unlock()
}

func (c *Component) getLastCheck() time.Time {
	c.lastCheckMu.RLock()
	defer c.lastCheckMu.RUnlock()
	return c.lastCheck
}
