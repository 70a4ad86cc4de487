// Package coordinator provides the processor that drives tasks through the
// workflow state machine. It consumes task lifecycle events from JetStream
// and hands each one to the engine, relying on redelivery for contended or
// conflicted transitions.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/taskpilot/agent"
	"github.com/c360studio/taskpilot/broker"
	"github.com/c360studio/taskpilot/collab"
	"github.com/c360studio/taskpilot/engine"
	"github.com/c360studio/taskpilot/queue"
	"github.com/c360studio/taskpilot/retry"
	"github.com/c360studio/taskpilot/task"
	"github.com/c360studio/taskpilot/workspace"
)

// Component implements the coordinator processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	engine *engine.Engine

	// JetStream consumer
	consumer jetstream.Consumer
	stream   jetstream.Stream

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	eventsProcessed atomic.Int64
	eventsFailed    atomic.Int64
	eventsRequeued  atomic.Int64
	lastActivityMu  sync.RWMutex
	lastActivity    time.Time
}

// NewComponent creates a new coordinator processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.StreamName == "" {
		config.StreamName = defaults.StreamName
	}
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.AckWait == "" {
		config.AckWait = defaults.AckWait
	}
	if config.MaxDeliver == 0 {
		config.MaxDeliver = defaults.MaxDeliver
	}
	if config.RequestsPerMinute == 0 {
		config.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if config.Burst == 0 {
		config.Burst = defaults.Burst
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Component{
		name:       "coordinator",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized coordinator",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"agents", len(c.config.Agents))
	return nil
}

// Start wires the engine against JetStream-backed stores and begins
// consuming task lifecycle events.
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

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	eng, err := c.buildEngine(subCtx, js)
	if err != nil {
		c.rollbackStart(cancel)
		return err
	}
	c.engine = eng

	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}
	c.stream = stream

	consumerConfig := jetstream.ConsumerConfig{
		Durable:        c.config.ConsumerName,
		FilterSubjects: queue.EventSubjects,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        c.config.GetAckWait(),
		MaxDeliver:     c.config.MaxDeliver,
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, consumerConfig)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	go c.consumeLoop(subCtx)

	c.logger.Info("coordinator started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"ack_wait", c.config.GetAckWait())

	return nil
}

// buildEngine assembles the workflow engine from the component's config.
func (c *Component) buildEngine(ctx context.Context, js jetstream.JetStream) (*engine.Engine, error) {
	taskStore, err := task.NewKVStore(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	requestStore, err := broker.NewKVStore(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("open request store: %w", err)
	}

	gh := collab.WithRetry(collab.NewGitHub(c.config.WorkDir, c.logger), retry.DefaultConfig())
	ws := workspace.NewLocal(c.config.WorkDir, c.logger)
	scheduler := queue.NewNATS(c.natsClient, c.name, c.logger)
	inputBroker := broker.New(requestStore, gh, c.logger)

	agents := make(map[task.AgentKind]agent.Invoker, len(c.config.Agents))
	for kind, endpoint := range c.config.Agents {
		agents[task.AgentKind(kind)] = agent.NewClient(endpoint, agent.WithLogger(c.logger))
	}

	policy := engine.DefaultPolicy()
	if c.config.Policy != nil {
		policy = *c.config.Policy
	}

	return engine.New(engine.Config{
		Store:  taskStore,
		Broker: inputBroker,
		Agents: agents,
		Collab: gh,
		WS:     ws,
		Queue:  scheduler,
		Policy: policy,
		Limits: engine.NewRateLimiters(c.config.RequestsPerMinute, c.config.Burst),
		Logger: c.logger,
	})
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// consumeLoop continuously consumes events from the JetStream consumer.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleMessage(ctx, msg)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// handleMessage decodes one lifecycle event and hands it to the engine.
func (c *Component) handleMessage(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK message during shutdown", "error", err)
		}
		return
	}

	c.updateLastActivity()

	ev, err := decodeEvent(msg.Subject(), msg.Data())
	if err != nil {
		c.eventsFailed.Add(1)
		metricEventsFailed.Inc()
		c.logger.Error("Failed to decode event", "subject", msg.Subject(), "error", err)
		// Undecodable events won't improve on redelivery. Terminate them.
		if err := msg.Term(); err != nil {
			c.logger.Warn("Failed to TERM message", "error", err)
		}
		return
	}

	err = c.engine.Handle(ctx, ev)
	switch {
	case err == nil:
		c.eventsProcessed.Add(1)
		metricEventsProcessed.Inc()
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ACK message", "error", err)
		}

	case isRequeueable(err):
		// Another transition holds the task, or the stored task moved
		// underneath us. Redelivery retries against fresh state.
		c.eventsRequeued.Add(1)
		metricEventsRequeued.Inc()
		c.logger.Debug("Event requeued",
			"task_id", ev.Task(),
			"subject", msg.Subject(),
			"reason", err)
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK message", "error", err)
		}

	default:
		c.eventsFailed.Add(1)
		metricEventsFailed.Inc()
		c.logger.Error("Failed to handle event",
			"task_id", ev.Task(),
			"subject", msg.Subject(),
			"error", err)
		if err := msg.Nak(); err != nil {
			c.logger.Warn("Failed to NAK message", "error", err)
		}
	}
}

// isRequeueable reports whether the event should be redelivered rather
// than counted as a failure.
func isRequeueable(err error) bool {
	return errors.Is(err, engine.ErrBusy) ||
		errors.Is(err, task.ErrConflict) ||
		errors.Is(err, broker.ErrConflict)
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

	c.logger.Info("coordinator stopped",
		"events_processed", c.eventsProcessed.Load(),
		"events_requeued", c.eventsRequeued.Load(),
		"events_failed", c.eventsFailed.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "coordinator",
		Type:        "processor",
		Description: "Drives tasks through the workflow state machine from lifecycle events",
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
	return coordinatorSchema
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
		ErrorCount: int(c.eventsFailed.Load()),
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
		LastActivity:      c.getLastActivity(),
	}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
