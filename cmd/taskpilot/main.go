// Package main provides the taskpilot binary entry point.
// Taskpilot coordinates AI coding agents through a staged workflow with
// human checkpoints, using NATS JetStream for state and events.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	// Register LLM providers via init()
	_ "github.com/c360studio/taskpilot/agent/providers"

	"github.com/c360studio/semstreams/component"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c360studio/taskpilot/config"
	"github.com/c360studio/taskpilot/processor/coordinator"
	requestsweeper "github.com/c360studio/taskpilot/processor/request-sweeper"
	"github.com/c360studio/taskpilot/queue"
	"github.com/c360studio/taskpilot/task"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "taskpilot"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "taskpilot",
		Short: "Coding agent task coordinator",
		Long: `Taskpilot drives coding tasks through a staged workflow:
requirements analysis, planning, implementation, testing, and review,
pausing at human checkpoints when clarification or plan verification
is needed.

Tasks, pending input requests, and lifecycle events live in NATS
JetStream. Humans reply on GitHub issue threads using the structured
response protocol (APPROVAL / GUIDANCE / DECISION).`,
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(&logLevel))
	cmd.AddCommand(submitCmd(&logLevel))
	cmd.AddCommand(statusCmd(&logLevel))
	cmd.AddCommand(respondCmd(&logLevel))
	cmd.AddCommand(reviewCmd(&logLevel))
	cmd.AddCommand(mergeCmd(&logLevel))
	cmd.AddCommand(cancelCmd(&logLevel))

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func newLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	return config.NewLoader(logger).Load()
}

// startApp loads config and brings up the NATS layer shared by every command.
func startApp(ctx context.Context, logLevel string) (*App, *config.Config, *slog.Logger, error) {
	logger := newLogger(logLevel)
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	app := NewApp(cfg, logger)
	if err := app.Start(ctx); err != nil {
		return nil, nil, nil, err
	}
	return app, cfg, logger, nil
}

func serveCmd(logLevel *string) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator and request sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			app, cfg, logger, err := startApp(ctx, *logLevel)
			if err != nil {
				return err
			}
			defer app.Shutdown(ctx)

			return serve(ctx, app, cfg, logger, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Prometheus metrics listen address")
	return cmd
}

func serve(ctx context.Context, app *App, cfg *config.Config, logger *slog.Logger, metricsAddr string) error {
	// Register component factories so the config schema surface is
	// discoverable, then build the two processors.
	registry := component.NewRegistry()
	if err := coordinator.Register(registry); err != nil {
		return fmt.Errorf("register coordinator: %w", err)
	}
	if err := requestsweeper.Register(registry); err != nil {
		return fmt.Errorf("register request-sweeper: %w", err)
	}

	deps := component.Dependencies{
		NATSClient: app.natsClient,
		Logger:     logger,
	}

	coordCfg := coordinator.Config{
		AckWait:           cfg.Workflow.AckWait.String(),
		MaxDeliver:        cfg.Workflow.MaxDeliver,
		WorkDir:           cfg.Repo.Path,
		Agents:            cfg.Agents.Endpoints,
		RequestsPerMinute: cfg.Agents.RequestsPerMinute,
		Burst:             cfg.Agents.Burst,
		Policy:            cfg.Workflow.Policy,
	}
	coordRaw, err := json.Marshal(coordCfg)
	if err != nil {
		return fmt.Errorf("marshal coordinator config: %w", err)
	}

	sweepCfg := requestsweeper.Config{
		CheckInterval: cfg.Workflow.SweepInterval,
		MaxAge:        cfg.Workflow.RequestMaxAge,
		WorkDir:       cfg.Repo.Path,
	}
	sweepRaw, err := json.Marshal(sweepCfg)
	if err != nil {
		return fmt.Errorf("marshal sweeper config: %w", err)
	}

	components := make([]component.LifecycleComponent, 0, 2)
	for _, entry := range []struct {
		name    string
		factory func(json.RawMessage, component.Dependencies) (component.Discoverable, error)
		raw     json.RawMessage
	}{
		{"coordinator", coordinator.NewComponent, coordRaw},
		{"request-sweeper", requestsweeper.NewComponent, sweepRaw},
	} {
		raw, err := entry.factory(entry.raw, deps)
		if err != nil {
			return fmt.Errorf("create %s: %w", entry.name, err)
		}
		comp, ok := raw.(component.LifecycleComponent)
		if !ok {
			return fmt.Errorf("component %s does not implement lifecycle", entry.name)
		}
		if err := comp.Initialize(); err != nil {
			return fmt.Errorf("initialize %s: %w", entry.name, err)
		}
		components = append(components, comp)
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	for _, comp := range components {
		if err := comp.Start(signalCtx); err != nil {
			return fmt.Errorf("start %s: %w", comp.Meta().Name, err)
		}
	}

	// Metrics and health endpoints
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		for _, comp := range components {
			if !comp.Health().Healthy {
				http.Error(w, comp.Meta().Name+" unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	logger.Info("Taskpilot ready",
		"version", Version,
		"metrics_addr", metricsAddr,
		"checkout", cfg.Repo.Path)

	<-signalCtx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	for _, comp := range components {
		if err := comp.Stop(30 * time.Second); err != nil {
			logger.Error("Error stopping component", "component", comp.Meta().Name, "error", err)
		}
	}

	logger.Info("Taskpilot shutdown complete")
	return nil
}

func submitCmd(logLevel *string) *cobra.Command {
	var (
		repoURL  string
		branch   string
		kind     string
		priority string
	)

	cmd := &cobra.Command{
		Use:   "submit <description>",
		Short: "Submit a coding task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			app, _, _, err := startApp(ctx, *logLevel)
			if err != nil {
				return err
			}
			defer app.Shutdown(ctx)

			eng, err := app.Engine(ctx)
			if err != nil {
				return err
			}

			t, err := eng.CreateTask(ctx, args[0],
				task.Repository{URL: repoURL, Branch: branch},
				task.AgentKind(kind), task.Priority(priority))
			if err != nil {
				return err
			}

			fmt.Printf("Task %s submitted\n", t.ID)
			fmt.Printf("  Stage:  %s\n", t.Stage)
			fmt.Printf("  Thread: %s\n", t.Context.ThreadRef)
			return nil
		},
	}

	cmd.Flags().StringVar(&repoURL, "repo", "", "Repository URL (required)")
	cmd.Flags().StringVar(&branch, "branch", "", "Base branch (default: repository default)")
	cmd.Flags().StringVar(&kind, "agent", string(task.AgentPrimary), "Agent kind (primary, secondary)")
	cmd.Flags().StringVar(&priority, "priority", string(task.PriorityMedium), "Priority (low, medium, high, urgent)")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func statusCmd(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			app, _, _, err := startApp(ctx, *logLevel)
			if err != nil {
				return err
			}
			defer app.Shutdown(ctx)

			store, err := app.TaskStore(ctx)
			if err != nil {
				return err
			}
			t, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Task %s\n", t.ID)
			fmt.Printf("  Stage:       %s\n", t.Stage)
			fmt.Printf("  Description: %s\n", t.Description)
			fmt.Printf("  Repository:  %s\n", t.Repository.URL)
			fmt.Printf("  Agent:       %s\n", t.AgentKind)
			fmt.Printf("  Priority:    %s\n", t.Priority)
			if t.Context.ThreadRef != "" {
				fmt.Printf("  Thread:      %s\n", t.Context.ThreadRef)
			}
			if t.Context.BranchName != "" {
				fmt.Printf("  Branch:      %s\n", t.Context.BranchName)
			}
			if t.Context.PullRequest != "" {
				fmt.Printf("  PR:          %s\n", t.Context.PullRequest)
			}
			if t.Context.LastError != "" {
				fmt.Printf("  Last error:  %s\n", t.Context.LastError)
			}
			for _, sc := range t.StageChanges {
				fmt.Printf("  %s  %s -> %s\n", sc.Timestamp.Format(time.RFC3339), sc.From, sc.To)
			}
			return nil
		},
	}
}

func respondCmd(logLevel *string) *cobra.Command {
	var author string

	cmd := &cobra.Command{
		Use:   "respond <task-id> <text>",
		Short: "Deliver a human reply to a waiting task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			app, _, _, err := startApp(ctx, *logLevel)
			if err != nil {
				return err
			}
			defer app.Shutdown(ctx)

			if err := app.Scheduler().PublishComment(ctx, &queue.CommentReceivedPayload{
				TaskID: args[0],
				Author: author,
				Body:   args[1],
			}); err != nil {
				return err
			}
			fmt.Printf("Reply delivered to %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&author, "author", "", "Author of the reply")
	return cmd
}

func reviewCmd(logLevel *string) *cobra.Command {
	var (
		approve  bool
		comments []string
	)

	cmd := &cobra.Command{
		Use:   "review <task-id>",
		Short: "Report a completed review round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !approve && len(comments) == 0 {
				return fmt.Errorf("either --approve or at least one --comment is required")
			}

			ctx := context.Background()
			app, _, _, err := startApp(ctx, *logLevel)
			if err != nil {
				return err
			}
			defer app.Shutdown(ctx)

			if err := app.Scheduler().PublishReview(ctx, &queue.ReviewCompletedPayload{
				TaskID:   args[0],
				Approved: approve,
				Comments: comments,
			}); err != nil {
				return err
			}
			fmt.Printf("Review reported for %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&approve, "approve", false, "Approve the pull request")
	cmd.Flags().StringArrayVar(&comments, "comment", nil, "Review comment to address (repeatable)")
	return cmd
}

func mergeCmd(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <task-id>",
		Short: "Report that the task's pull request was merged",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			app, _, _, err := startApp(ctx, *logLevel)
			if err != nil {
				return err
			}
			defer app.Shutdown(ctx)

			if err := app.Scheduler().PublishMerge(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Merge reported for %s\n", args[0])
			return nil
		},
	}
}

func cancelCmd(logLevel *string) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			app, _, _, err := startApp(ctx, *logLevel)
			if err != nil {
				return err
			}
			defer app.Shutdown(ctx)

			if err := app.Scheduler().PublishCancel(ctx, args[0], reason); err != nil {
				return err
			}
			fmt.Printf("Cancellation requested for %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "cancelled by operator", "Cancellation reason")
	return cmd
}
