// Package engine drives tasks through the workflow state machine: agent
// invocations stage by stage, human checkpoints through the input broker,
// and resumption from externally delivered events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/c360studio/taskpilot/agent"
	"github.com/c360studio/taskpilot/broker"
	"github.com/c360studio/taskpilot/collab"
	"github.com/c360studio/taskpilot/queue"
	"github.com/c360studio/taskpilot/task"
	"github.com/c360studio/taskpilot/workspace"
)

// ErrBusy is returned when another transition for the same task is in
// flight. The trigger should be redelivered by the queue layer, not dropped.
var ErrBusy = errors.New("task transition in flight")

// Engine is the workflow state machine. All task mutations go through it.
type Engine struct {
	store  task.Store
	broker *broker.Broker
	agents map[task.AgentKind]agent.Invoker
	collab collab.Client
	ws     workspace.Runner
	queue  queue.Scheduler
	policy Policy
	limits *RateLimiters
	locks  *task.Locks
	logger *slog.Logger
}

// Config assembles an Engine's collaborators.
type Config struct {
	Store  task.Store
	Broker *broker.Broker
	Agents map[task.AgentKind]agent.Invoker
	Collab collab.Client
	WS     workspace.Runner
	Queue  queue.Scheduler
	Policy Policy
	Limits *RateLimiters
	Logger *slog.Logger
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Broker == nil || cfg.Collab == nil || cfg.Queue == nil {
		return nil, fmt.Errorf("store, broker, collab, and queue are required")
	}
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("at least one agent is required")
	}
	if cfg.Policy.RiskKeywords == nil {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		store:  cfg.Store,
		broker: cfg.Broker,
		agents: cfg.Agents,
		collab: cfg.Collab,
		ws:     cfg.WS,
		queue:  cfg.Queue,
		policy: cfg.Policy,
		limits: cfg.Limits,
		locks:  task.NewLocks(),
		logger: cfg.Logger,
	}, nil
}

// CreateTask validates and stores a new task, opens its thread, and
// schedules the first stage. Configuration problems (bad repository URL,
// unknown agent kind) surface here; such a task never enters the workflow.
func (e *Engine) CreateTask(ctx context.Context, description string, repo task.Repository, kind task.AgentKind, priority task.Priority) (*task.Task, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("description is required")
	}
	if err := workspace.ValidateRepoURL(repo.URL); err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}

	t := task.New(description, repo, kind, priority)
	if _, ok := e.agents[t.AgentKind]; !ok {
		return nil, fmt.Errorf("no agent configured for kind %q", t.AgentKind)
	}

	// Open the human-facing thread first so every later stage has somewhere
	// to post. Thread creation failure is a hard error at submission time.
	repoName := repoShortName(repo.URL)
	ref, err := e.collab.CreateThread(ctx, repoName,
		fmt.Sprintf("Task %s: %s", t.ID, firstLine(description)),
		fmt.Sprintf("Automated coding task `%s`.\n\n%s", t.ID, description),
		[]string{"taskpilot"})
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	t.Context.ThreadRef = ref.String()

	if err := e.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("store task: %w", err)
	}

	if err := e.queue.Schedule(ctx, t.ID); err != nil {
		return nil, fmt.Errorf("schedule task: %w", err)
	}

	e.logger.Info("Task created",
		"task_id", t.ID,
		"agent_kind", t.AgentKind,
		"priority", t.Priority,
		"thread", t.Context.ThreadRef)
	return t, nil
}

// GetStatus returns the task's current state.
func (e *Engine) GetStatus(ctx context.Context, taskID string) (*task.Task, error) {
	return e.store.Get(ctx, taskID)
}

// Handle processes one external trigger. Per-task exclusivity: a second
// trigger for a task with a transition in flight gets ErrBusy so the queue
// layer redelivers it. Stale triggers (terminal task, already-resolved
// request) are no-ops, not errors.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	taskID := ev.Task()
	if taskID == "" {
		return fmt.Errorf("event names no task")
	}

	if !e.locks.TryAcquire(taskID) {
		return ErrBusy
	}
	defer e.locks.Release(taskID)

	t, err := e.store.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", taskID, err)
	}

	switch ev := ev.(type) {
	case TaskCreated, StageDue:
		return e.advance(ctx, t)
	case CommentReceived:
		return e.handleComment(ctx, t, ev)
	case ReviewCompleted:
		return e.handleReview(ctx, t, ev)
	case MergeCompleted:
		return e.handleMerge(ctx, t)
	case CancelRequested:
		return e.handleCancel(ctx, t, ev.Reason)
	case RequestTimedOut:
		return e.handleTimeout(ctx, t, ev)
	default:
		return fmt.Errorf("unknown event type %T", ev)
	}
}

// advance runs stages until the task pauses, finishes, or fails. Waiting
// stages return control immediately; resumption arrives as a later event.
func (e *Engine) advance(ctx context.Context, t *task.Task) error {
	for !t.Stage.Terminal() && !t.Stage.Waiting() {
		// Cancellation lands at transition boundaries.
		if err := ctx.Err(); err != nil {
			return err
		}

		next, err := e.runStage(ctx, t)
		if err != nil {
			if errors.Is(err, task.ErrConflict) {
				return err // another process advanced the task; redeliver
			}
			return e.failTask(ctx, t, err)
		}
		t = next
	}

	e.logger.Info("Task paused or finished", "task_id", t.ID, "stage", t.Stage)
	return nil
}

// runStage executes the current stage and persists its outcome.
func (e *Engine) runStage(ctx context.Context, t *task.Task) (*task.Task, error) {
	e.logger.Info("Running stage", "task_id", t.ID, "stage", t.Stage)

	var (
		next *task.Task
		err  error
	)
	switch t.Stage {
	case task.StageRequirementsAnalysis:
		next, err = e.runRequirementsAnalysis(ctx, t)
	case task.StageImplementationPlanning:
		next, err = e.runPlanning(ctx, t)
	case task.StageBranchCreation:
		next, err = e.runBranchCreation(ctx, t)
	case task.StageImplementation:
		next, err = e.runImplementation(ctx, t)
	case task.StageTesting:
		next, err = e.runTesting(ctx, t)
	case task.StagePullRequestCreation:
		next, err = e.runPullRequest(ctx, t)
	case task.StageAddressingFeedback:
		// Feedback rounds run inside handleReview; reaching here means a
		// crash mid-round. Return to waiting for the next review event.
		next, err = e.transition(ctx, t, task.StageAwaitingReview, nil)
	default:
		return nil, fmt.Errorf("no runner for stage %s", t.Stage)
	}
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", t.Stage, err)
	}

	e.report(ctx, next)
	return next, nil
}

// transition persists a stage change plus an optional context mutation.
func (e *Engine) transition(ctx context.Context, t *task.Task, to task.Stage, mutate func(*task.Task)) (*task.Task, error) {
	return e.store.Update(ctx, t.ID, func(cur *task.Task) error {
		if cur.Stage.Terminal() {
			return fmt.Errorf("task is %s", cur.Stage)
		}
		if mutate != nil {
			mutate(cur)
		}
		cur.SetStage(to)
		return nil
	})
}

// invokeAgent calls the task's agent behind the per-kind rate limit.
func (e *Engine) invokeAgent(ctx context.Context, t *task.Task, system, prompt string) (string, error) {
	inv, ok := e.agents[t.AgentKind]
	if !ok {
		return "", fmt.Errorf("no agent configured for kind %q", t.AgentKind)
	}

	if err := e.limits.Wait(ctx, t.AgentKind); err != nil {
		return "", err
	}

	resp, err := inv.Complete(ctx, agent.Request{
		Messages: []agent.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// failTask posts a human-readable failure summary to the thread, then marks
// the task failed. The comment goes first: a human should never need
// internal logs to learn a task died, but a posting failure must not keep
// the task out of its terminal state.
func (e *Engine) failTask(ctx context.Context, t *task.Task, cause error) error {
	e.logger.Error("Task failed", "task_id", t.ID, "stage", t.Stage, "error", cause)

	if ref, ok := parseThreadRef(t.Context.ThreadRef); ok {
		body := fmt.Sprintf("Task `%s` failed during **%s**:\n\n```\n%v\n```\n\nResubmit the task to retry.",
			t.ID, t.Stage, cause)
		if _, err := e.collab.PostComment(ctx, ref, body); err != nil {
			e.logger.Warn("Failed to post failure comment", "task_id", t.ID, "error", err)
		}
	}

	failed, err := e.transition(ctx, t, task.StageFailed, func(cur *task.Task) {
		cur.Context.LastError = cause.Error()
	})
	if err != nil {
		return fmt.Errorf("mark task failed: %w", err)
	}

	e.report(ctx, failed)
	return nil
}

// report publishes a status notification. Best-effort: status observers must
// not be able to abort a committed transition.
func (e *Engine) report(ctx context.Context, t *task.Task) {
	if err := e.queue.ReportStatus(ctx, t.ID, string(t.Stage), t.Context.LastError); err != nil {
		e.logger.Warn("Failed to report status", "task_id", t.ID, "error", err)
	}
}

// comment posts to the task's thread, best-effort.
func (e *Engine) comment(ctx context.Context, t *task.Task, body string) {
	ref, ok := parseThreadRef(t.Context.ThreadRef)
	if !ok {
		return
	}
	if _, err := e.collab.PostComment(ctx, ref, body); err != nil {
		e.logger.Warn("Failed to post comment", "task_id", t.ID, "error", err)
	}
}

// parseThreadRef parses "owner/repo#N" back into a ThreadRef.
func parseThreadRef(s string) (collab.ThreadRef, bool) {
	idx := strings.LastIndex(s, "#")
	if idx <= 0 {
		return collab.ThreadRef{}, false
	}
	num, err := strconv.Atoi(s[idx+1:])
	if err != nil || num <= 0 {
		return collab.ThreadRef{}, false
	}
	return collab.ThreadRef{Repo: s[:idx], Number: num}, true
}

// repoShortName reduces a clone URL to "owner/name" for the collaborator API.
func repoShortName(url string) string {
	s := strings.TrimSuffix(url, ".git")
	if idx := strings.LastIndex(s, ":"); idx >= 0 && strings.HasPrefix(s, "git@") {
		return s[idx+1:]
	}
	parts := strings.Split(s, "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2] + "/" + parts[len(parts)-1]
	}
	return s
}

// firstLine returns the first line of s, bounded for titles.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 80 {
		s = strings.TrimSpace(s[:80])
	}
	return s
}
