package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/c360studio/taskpilot/agent"
	"github.com/c360studio/taskpilot/broker"
	"github.com/c360studio/taskpilot/protocol"
	"github.com/c360studio/taskpilot/task"
)

// analysisVerdict is the JSON shape the analysis stage expects back.
type analysisVerdict struct {
	Clear     bool     `json:"clear"`
	Questions []string `json:"questions"`
}

// runRequirementsAnalysis classifies the task as clear or ambiguous. Clear
// requirements flow straight into planning with no pause.
func (e *Engine) runRequirementsAnalysis(ctx context.Context, t *task.Task) (*task.Task, error) {
	content, err := e.invokeAgent(ctx, t, systemAnalyst, analysisPrompt(t))
	if err != nil {
		return nil, err
	}

	var verdict analysisVerdict
	raw := agent.ExtractJSON(content)
	if raw == "" || json.Unmarshal([]byte(raw), &verdict) != nil {
		// An unparseable verdict means the agent couldn't confirm clarity;
		// treat the requirements as clear rather than inventing questions.
		verdict.Clear = true
	}

	if verdict.Clear || len(verdict.Questions) == 0 {
		return e.transition(ctx, t, task.StageImplementationPlanning, nil)
	}

	paused, err := e.transition(ctx, t, task.StageAwaitingClarification, func(cur *task.Task) {
		cur.Context.ClarifyingQuestions = verdict.Questions
	})
	if err != nil {
		return nil, err
	}

	if err := e.requestClarification(ctx, paused); err != nil {
		return nil, err
	}
	return paused, nil
}

// requestClarification opens the clarification checkpoint.
func (e *Engine) requestClarification(ctx context.Context, t *task.Task) error {
	ref, _ := parseThreadRef(t.Context.ThreadRef)
	_, err := e.broker.RequestInput(ctx, broker.InputRequest{
		TaskID:     t.ID,
		AgentID:    string(t.AgentKind),
		Checkpoint: broker.CheckpointClarification,
		Thread:     ref,
		Situation:  fmt.Sprintf("The requirements for task `%s` are ambiguous.", t.ID),
		Question:   "Please answer the following before work continues:",
		Options:    t.Context.ClarifyingQuestions,
		Urgency:    broker.UrgencyBlocking,
	})
	return err
}

// runPlanning produces an implementation plan and decides whether a human
// must approve it before implementation.
func (e *Engine) runPlanning(ctx context.Context, t *task.Task) (*task.Task, error) {
	content, err := e.invokeAgent(ctx, t, systemPlanner, planningPrompt(t))
	if err != nil {
		return nil, err
	}

	plan := parsePlan(content)

	if e.policy.RequiresVerification(t.Description, plan) {
		paused, err := e.transition(ctx, t, task.StageAwaitingVerification, func(cur *task.Task) {
			cur.Context.Plan = plan
			cur.Context.RevisionFeedback = ""
		})
		if err != nil {
			return nil, err
		}
		if err := e.requestVerification(ctx, paused); err != nil {
			return nil, err
		}
		return paused, nil
	}

	return e.transition(ctx, t, task.StageBranchCreation, func(cur *task.Task) {
		cur.Context.Plan = plan
		cur.Context.RevisionFeedback = ""
	})
}

// parsePlan extracts a structured plan from the agent response, always
// preserving the raw text.
func parsePlan(content string) *task.Plan {
	plan := &task.Plan{Raw: content}
	if raw := agent.ExtractJSON(content); raw != "" {
		// A parse failure leaves the structured fields empty; the raw text
		// still carries the plan for humans and later prompts.
		_ = json.Unmarshal([]byte(raw), plan)
		plan.Raw = content
	}
	return plan
}

// requestVerification opens the plan-approval checkpoint.
func (e *Engine) requestVerification(ctx context.Context, t *task.Task) error {
	ref, _ := parseThreadRef(t.Context.ThreadRef)

	situation := fmt.Sprintf("Task `%s` produced an implementation plan that needs approval before work begins.", t.ID)
	question := "Approve this plan?"
	if t.Context.Plan != nil {
		question = fmt.Sprintf("Approve this plan?\n\n```\n%s\n```", summarizePlan(t.Context.Plan))
	}

	_, err := e.broker.RequestInput(ctx, broker.InputRequest{
		TaskID:     t.ID,
		AgentID:    string(t.AgentKind),
		Checkpoint: broker.CheckpointVerification,
		Thread:     ref,
		Situation:  situation,
		Question:   question,
		Urgency:    broker.UrgencyBlocking,
	})
	return err
}

// summarizePlan renders the plan fields humans care about when approving.
func summarizePlan(p *task.Plan) string {
	var sb strings.Builder
	if p.Approach != "" {
		fmt.Fprintf(&sb, "Approach: %s\n", p.Approach)
	}
	if len(p.Files) > 0 {
		fmt.Fprintf(&sb, "Files: %s\n", strings.Join(p.Files, ", "))
	}
	if len(p.Steps) > 0 {
		sb.WriteString("Steps:\n")
		for i, step := range p.Steps {
			fmt.Fprintf(&sb, "  %d. %s\n", i+1, step)
		}
	}
	if p.Risks != "" {
		fmt.Fprintf(&sb, "Risks: %s\n", p.Risks)
	}
	if sb.Len() == 0 {
		return p.Raw
	}
	return sb.String()
}

// runBranchCreation derives the branch name and creates it in the workspace.
func (e *Engine) runBranchCreation(ctx context.Context, t *task.Task) (*task.Task, error) {
	name := BranchName(t)
	if err := e.ws.CreateBranch(ctx, name, t.Repository.Branch); err != nil {
		return nil, fmt.Errorf("create branch %s: %w", name, err)
	}

	return e.transition(ctx, t, task.StageImplementation, func(cur *task.Task) {
		cur.Context.BranchName = name
	})
}

// runImplementation has the agent apply the plan, then commits the result.
func (e *Engine) runImplementation(ctx context.Context, t *task.Task) (*task.Task, error) {
	if _, err := e.invokeAgent(ctx, t, systemImplementer, implementationPrompt(t)); err != nil {
		return nil, err
	}

	if err := e.ws.Commit(ctx, CommitMessage(t)); err != nil {
		return nil, fmt.Errorf("commit changes: %w", err)
	}

	return e.transition(ctx, t, task.StageTesting, nil)
}

// runTesting runs the test command, allowing a bounded number of agent
// fix-and-rerun rounds. The stage records pass/fail and proceeds either way;
// a red test run is surfaced on the PR, not a dead end.
func (e *Engine) runTesting(ctx context.Context, t *task.Task) (*task.Task, error) {
	cmd := e.policy.TestCommand
	if len(cmd) == 0 {
		cmd = DefaultPolicy().TestCommand
	}

	result, err := e.ws.Exec(ctx, cmd[0], cmd[1:]...)
	if err != nil {
		return nil, fmt.Errorf("run tests: %w", err)
	}

	for attempt := 0; result.ExitCode != 0 && attempt < e.policy.TestFixAttempts; attempt++ {
		output := result.Stdout + result.Stderr
		if _, err := e.invokeAgent(ctx, t, systemFixer, testFixPrompt(t, output)); err != nil {
			return nil, err
		}
		if err := e.ws.Commit(ctx, fmt.Sprintf("fix: address failing tests for %s", t.ID)); err != nil {
			return nil, fmt.Errorf("commit test fix: %w", err)
		}

		result, err = e.ws.Exec(ctx, cmd[0], cmd[1:]...)
		if err != nil {
			return nil, fmt.Errorf("rerun tests: %w", err)
		}
	}

	passed := result.ExitCode == 0
	output := result.Stdout + result.Stderr
	if len(output) > 4000 {
		output = output[len(output)-4000:]
	}

	return e.transition(ctx, t, task.StagePullRequestCreation, func(cur *task.Task) {
		cur.Context.TestsPassed = &passed
		cur.Context.TestOutput = output
	})
}

// runPullRequest opens the PR and parks the task awaiting review.
func (e *Engine) runPullRequest(ctx context.Context, t *task.Task) (*task.Task, error) {
	repoName := repoShortName(t.Repository.URL)
	base := t.Repository.Branch
	if base == "" {
		base = "main"
	}

	title := CommitMessage(t)
	url, err := e.collab.CreatePullRequest(ctx, repoName, t.Context.BranchName, base, title, pullRequestBody(t))
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}

	next, err := e.transition(ctx, t, task.StageAwaitingReview, func(cur *task.Task) {
		cur.Context.PullRequest = url
	})
	if err != nil {
		return nil, err
	}

	e.comment(ctx, next, fmt.Sprintf("Opened pull request for task `%s`: %s", t.ID, url))
	return next, nil
}

// handleComment resolves a human reply against the pending request for the
// task's current checkpoint, then resumes the workflow.
func (e *Engine) handleComment(ctx context.Context, t *task.Task, ev CommentReceived) error {
	if t.Stage.Terminal() {
		e.logger.Debug("Comment for finished task ignored", "task_id", t.ID, "stage", t.Stage)
		return nil
	}

	res, err := e.broker.Resolve(ctx, t.ID, ev.Text)
	if err != nil {
		if errors.Is(err, broker.ErrNotFound) {
			// Stale or duplicate delivery after resolution; swallow it.
			e.logger.Debug("No pending request for comment", "task_id", t.ID, "author", ev.Author)
			return nil
		}
		return err
	}

	switch res.Request.Checkpoint {
	case broker.CheckpointClarification:
		return e.resumeFromClarification(ctx, t, res)
	case broker.CheckpointVerification:
		return e.resumeFromVerification(ctx, t, res)
	default:
		return fmt.Errorf("unknown checkpoint %q", res.Request.Checkpoint)
	}
}

// resumeFromClarification merges the answers and replans.
func (e *Engine) resumeFromClarification(ctx context.Context, t *task.Task, res *broker.Resolution) error {
	if t.Stage != task.StageAwaitingClarification {
		e.logger.Debug("Clarification reply for non-waiting task ignored", "task_id", t.ID, "stage", t.Stage)
		return nil
	}

	answers := res.Response.Content
	if answers == "" {
		answers = strings.TrimSpace(res.Request.Response)
	}

	next, err := e.transition(ctx, t, task.StageImplementationPlanning, func(cur *task.Task) {
		cur.Context.ClarificationAnswers = answers
	})
	if err != nil {
		return err
	}
	return e.advance(ctx, next)
}

// resumeFromVerification applies the approval verdict. Anything that isn't a
// clear approval or rejection re-prompts instead of guessing.
func (e *Engine) resumeFromVerification(ctx context.Context, t *task.Task, res *broker.Resolution) error {
	if t.Stage != task.StageAwaitingVerification {
		e.logger.Debug("Verification reply for non-waiting task ignored", "task_id", t.ID, "stage", t.Stage)
		return nil
	}

	resp := res.Response
	if resp.Type != protocol.TypeApproval {
		e.logger.Info("Non-approval reply at verification, re-prompting",
			"task_id", t.ID, "response_type", resp.Type)
		return e.requestVerification(ctx, t)
	}

	if resp.Approved {
		next, err := e.transition(ctx, t, task.StageBranchCreation, nil)
		if err != nil {
			return err
		}
		return e.advance(ctx, next)
	}

	// Rejected: regenerate the plan carrying the feedback. The old plan is
	// superseded wholesale.
	next, err := e.transition(ctx, t, task.StageImplementationPlanning, func(cur *task.Task) {
		cur.Context.RevisionFeedback = resp.Feedback
		cur.Context.Plan = nil
	})
	if err != nil {
		return err
	}
	return e.advance(ctx, next)
}

// handleReview folds one review round into the branch and returns the task
// to awaiting_review. The loop is re-entrant: each round is its own event.
func (e *Engine) handleReview(ctx context.Context, t *task.Task, ev ReviewCompleted) error {
	if t.Stage != task.StageAwaitingReview {
		e.logger.Debug("Review event for non-waiting task ignored", "task_id", t.ID, "stage", t.Stage)
		return nil
	}
	if len(ev.Comments) == 0 {
		return nil
	}

	working, err := e.transition(ctx, t, task.StageAddressingFeedback, nil)
	if err != nil {
		return err
	}
	e.report(ctx, working)

	if _, err := e.invokeAgent(ctx, working, systemReviewer, reviewPrompt(working, ev.Comments)); err != nil {
		return e.failTask(ctx, working, err)
	}
	if err := e.ws.Commit(ctx, fmt.Sprintf("fix: address review feedback for %s", working.ID)); err != nil {
		return e.failTask(ctx, working, fmt.Errorf("commit review fixes: %w", err))
	}

	// Acknowledge each comment on the thread, best-effort.
	for i := range ev.Comments {
		e.comment(ctx, working, fmt.Sprintf("Addressed review comment %d/%d on `%s`.",
			i+1, len(ev.Comments), working.Context.BranchName))
	}

	back, err := e.transition(ctx, working, task.StageAwaitingReview, func(cur *task.Task) {
		cur.Context.ReviewRounds++
	})
	if err != nil {
		return err
	}

	e.report(ctx, back)
	return nil
}

// handleMerge completes the task on merge notification.
func (e *Engine) handleMerge(ctx context.Context, t *task.Task) error {
	if t.Stage.Terminal() {
		return nil
	}
	if t.Stage != task.StageAwaitingReview && t.Stage != task.StageAddressingFeedback {
		e.logger.Debug("Merge event for task not under review ignored", "task_id", t.ID, "stage", t.Stage)
		return nil
	}

	done, err := e.transition(ctx, t, task.StageCompleted, nil)
	if err != nil {
		return err
	}

	e.comment(ctx, done, fmt.Sprintf("Task `%s` completed: pull request merged.", done.ID))
	e.report(ctx, done)
	return nil
}

// handleCancel marks the task cancelled and withdraws its pending requests.
// Further triggers for the task become no-ops against the terminal stage.
func (e *Engine) handleCancel(ctx context.Context, t *task.Task, reason string) error {
	if t.Stage.Terminal() {
		return nil
	}
	if reason == "" {
		reason = "cancelled by request"
	}

	cancelled, err := e.transition(ctx, t, task.StageCancelled, func(cur *task.Task) {
		cur.Context.LastError = reason
	})
	if err != nil {
		return err
	}

	if err := e.broker.CancelForTask(ctx, t.ID, reason); err != nil {
		e.logger.Warn("Failed to cancel pending requests", "task_id", t.ID, "error", err)
	}

	e.comment(ctx, cancelled, fmt.Sprintf("Task `%s` cancelled: %s", t.ID, reason))
	e.report(ctx, cancelled)
	return nil
}

// handleTimeout fails a task whose checkpoint went unanswered past the age
// limit. A task that already moved on ignores the sweep notice.
func (e *Engine) handleTimeout(ctx context.Context, t *task.Task, ev RequestTimedOut) error {
	if !t.Stage.Waiting() {
		e.logger.Debug("Timeout notice for non-waiting task ignored", "task_id", t.ID, "stage", t.Stage)
		return nil
	}

	return e.failTask(ctx, t, fmt.Errorf("no human response at checkpoint %s within the allowed time", ev.Checkpoint))
}
