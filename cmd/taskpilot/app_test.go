package main

import (
	"context"
	"testing"
	"time"

	"github.com/c360studio/taskpilot/config"
	"github.com/c360studio/taskpilot/queue"
	"github.com/c360studio/taskpilot/task"
)

func startTestApp(t *testing.T) (*App, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Repo.Path = t.TempDir()

	app := NewApp(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	if err := app.Start(ctx); err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	t.Cleanup(func() { app.Shutdown(context.Background()) })

	return app, ctx
}

func TestAppStartStop(t *testing.T) {
	app, ctx := startTestApp(t)

	if app.natsClient == nil {
		t.Error("NATS client not initialized")
	}
	if app.js == nil {
		t.Error("JetStream not initialized")
	}
	if app.embeddedServer == nil {
		t.Error("Embedded NATS server not started")
	}

	// The task stream must exist after Start
	if _, err := app.js.Stream(ctx, queue.StreamName); err != nil {
		t.Errorf("task stream not created: %v", err)
	}
}

func TestAppTaskStoreRoundTrip(t *testing.T) {
	app, ctx := startTestApp(t)

	store, err := app.TaskStore(ctx)
	if err != nil {
		t.Fatalf("open task store: %v", err)
	}

	created := task.New("add retry to the fetcher",
		task.Repository{URL: "https://github.com/acme/widgets.git"},
		task.AgentPrimary, task.PriorityHigh)
	if err := store.Create(ctx, created); err != nil {
		t.Fatalf("create task: %v", err)
	}

	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Description != created.Description {
		t.Errorf("description = %q, want %q", got.Description, created.Description)
	}
	if got.Stage != task.StageRequirementsAnalysis {
		t.Errorf("stage = %q, want requirements_analysis", got.Stage)
	}
}

func TestRootCmdSubcommands(t *testing.T) {
	cmd := rootCmd()

	want := []string{"serve", "submit", "status", "respond", "review", "merge", "cancel", "version"}
	for _, name := range want {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}
