package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/taskpilot/agent"
	"github.com/c360studio/taskpilot/broker"
	"github.com/c360studio/taskpilot/collab"
	"github.com/c360studio/taskpilot/config"
	"github.com/c360studio/taskpilot/engine"
	"github.com/c360studio/taskpilot/queue"
	"github.com/c360studio/taskpilot/retry"
	"github.com/c360studio/taskpilot/task"
	"github.com/c360studio/taskpilot/workspace"
)

// App wires NATS and the task infrastructure for the CLI and the service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	embeddedServer *server.Server
	natsClient     *natsclient.Client
	js             jetstream.JetStream
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}
}

// Start connects to NATS (embedded or external) and ensures the task stream.
func (a *App) Start(ctx context.Context) error {
	if err := a.startNATS(ctx); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}
	if err := a.ensureStream(ctx); err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}
	return nil
}

func (a *App) startNATS(ctx context.Context) error {
	url := a.cfg.NATS.URL

	if url == "" || a.cfg.NATS.Embedded {
		// Start embedded NATS server
		a.logger.Info("Starting embedded NATS server")
		opts := &server.Options{
			Port:      -1, // Random available port
			JetStream: true,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}

		go ns.Start()

		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}

		a.embeddedServer = ns
		url = ns.ClientURL()
	}

	client, err := natsclient.NewClient(url,
		natsclient.WithName("taskpilot"),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("wait for NATS connection: %w", err)
	}

	js, err := client.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	a.natsClient = client
	a.js = js
	a.logger.Info("Connected to NATS", "url", url)
	return nil
}

// ensureStream creates or updates the task lifecycle stream.
func (a *App) ensureStream(ctx context.Context) error {
	_, err := a.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        queue.StreamName,
		Description: "Task lifecycle events",
		Subjects:    queue.StreamSubjects,
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", queue.StreamName, err)
	}
	return nil
}

// Scheduler returns a NATS-backed task scheduler.
func (a *App) Scheduler() *queue.NATS {
	return queue.NewNATS(a.natsClient, "cli", a.logger)
}

// TaskStore opens the JetStream-backed task store.
func (a *App) TaskStore(ctx context.Context) (task.Store, error) {
	return task.NewKVStore(ctx, a.js)
}

// Engine assembles a workflow engine against the app's NATS connection.
// The CLI uses it for task submission; stage execution stays with the
// coordinator processor.
func (a *App) Engine(ctx context.Context) (*engine.Engine, error) {
	taskStore, err := task.NewKVStore(ctx, a.js)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	requestStore, err := broker.NewKVStore(ctx, a.js)
	if err != nil {
		return nil, fmt.Errorf("open request store: %w", err)
	}

	gh := collab.WithRetry(collab.NewGitHub(a.cfg.Repo.Path, a.logger), retry.DefaultConfig())

	agents := make(map[task.AgentKind]agent.Invoker, len(a.cfg.Agents.Endpoints))
	for kind, endpoint := range a.cfg.Agents.Endpoints {
		agents[task.AgentKind(kind)] = agent.NewClient(endpoint, agent.WithLogger(a.logger))
	}

	policy := engine.DefaultPolicy()
	if a.cfg.Workflow.Policy != nil {
		policy = *a.cfg.Workflow.Policy
	}

	return engine.New(engine.Config{
		Store:  taskStore,
		Broker: broker.New(requestStore, gh, a.logger),
		Agents: agents,
		Collab: gh,
		WS:     workspace.NewLocal(a.cfg.Repo.Path, a.logger),
		Queue:  a.Scheduler(),
		Policy: policy,
		Limits: engine.NewRateLimiters(a.cfg.Agents.RequestsPerMinute, a.cfg.Agents.Burst),
		Logger: a.logger,
	})
}

// Shutdown gracefully stops NATS.
func (a *App) Shutdown(ctx context.Context) {
	if a.natsClient != nil {
		a.natsClient.Close(ctx)
	}
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}
}
