// Package task defines the coding-task model and its state store.
//
// A Task moves through the workflow state machine one stage at a time. Only
// the workflow engine mutates a task, always through Store.Update, which is
// atomic per task: concurrent callers for the same task are serialized, and
// the loser of a conflicting update gets ErrConflict so the queue layer can
// redeliver its trigger.
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage is a position in the workflow state machine.
type Stage string

const (
	StageRequirementsAnalysis   Stage = "requirements_analysis"
	StageAwaitingClarification  Stage = "awaiting_clarification"
	StageImplementationPlanning Stage = "implementation_planning"
	StageAwaitingVerification   Stage = "awaiting_verification"
	StageBranchCreation         Stage = "branch_creation"
	StageImplementation         Stage = "implementation"
	StageTesting                Stage = "testing"
	StagePullRequestCreation    Stage = "pull_request_creation"
	StageAwaitingReview         Stage = "awaiting_review"
	StageAddressingFeedback     Stage = "addressing_feedback"
	StageCompleted              Stage = "completed"
	StageFailed                 Stage = "failed"
	StageCancelled              Stage = "cancelled"
)

// Terminal reports whether a task in this stage is finished.
func (s Stage) Terminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageCancelled:
		return true
	}
	return false
}

// Waiting reports whether this stage pauses for an external trigger
// (a human reply, a review event, or a merge notification).
func (s Stage) Waiting() bool {
	switch s {
	case StageAwaitingClarification, StageAwaitingVerification, StageAwaitingReview:
		return true
	}
	return false
}

// AgentKind selects which agent profile executes the task.
type AgentKind string

const (
	AgentPrimary   AgentKind = "primary"
	AgentSecondary AgentKind = "secondary"
)

// Priority orders tasks for dispatch.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Repository identifies the Git repository a task operates on.
type Repository struct {
	URL    string `json:"url"`
	Branch string `json:"branch,omitempty"`
}

// Plan is the implementation plan produced by the planning stage.
// A revision supersedes the previous plan wholesale; plans are never merged.
type Plan struct {
	Approach        string   `json:"approach"`
	Files           []string `json:"files,omitempty"`
	Steps           []string `json:"steps,omitempty"`
	TestingStrategy string   `json:"testing_strategy,omitempty"`
	Risks           string   `json:"risks,omitempty"`
	ExpectedOutcome string   `json:"expected_outcome,omitempty"`

	// Raw preserves the full unparsed plan text for audit and display.
	Raw string `json:"raw,omitempty"`
}

// Context accumulates stage-produced artifacts over the task's lifetime.
type Context struct {
	ClarifyingQuestions  []string `json:"clarifying_questions,omitempty"`
	ClarificationAnswers string   `json:"clarification_answers,omitempty"`
	Plan                 *Plan    `json:"plan,omitempty"`

	// RevisionFeedback carries a rejected verification's feedback into the
	// next planning attempt, then is cleared.
	RevisionFeedback string `json:"revision_feedback,omitempty"`

	BranchName  string `json:"branch_name,omitempty"`
	TestsPassed *bool  `json:"tests_passed,omitempty"`
	TestOutput  string `json:"test_output,omitempty"`

	// PullRequest references the opened pull request (e.g. "owner/repo#42").
	PullRequest  string `json:"pull_request,omitempty"`
	ReviewRounds int    `json:"review_rounds,omitempty"`

	// ThreadRef is the originating issue thread used for human-visible
	// status and failure comments.
	ThreadRef string `json:"thread_ref,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// StageChange records a stage transition for audit.
type StageChange struct {
	From      Stage     `json:"from"`
	To        Stage     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is a unit of agent-executed work on a repository.
type Task struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Repository  Repository `json:"repository"`
	AgentKind   AgentKind  `json:"agent_kind"`
	Priority    Priority   `json:"priority"`

	Stage   Stage   `json:"stage"`
	Context Context `json:"context"`

	StageChanges []StageChange `json:"stage_changes,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a task in the requirements_analysis stage with a generated ID.
func New(description string, repo Repository, kind AgentKind, priority Priority) *Task {
	now := time.Now().UTC()
	if kind == "" {
		kind = AgentPrimary
	}
	if priority == "" {
		priority = PriorityMedium
	}
	return &Task{
		ID:          fmt.Sprintf("t-%s", uuid.New().String()[:8]),
		Description: description,
		Repository:  repo,
		AgentKind:   kind,
		Priority:    priority,
		Stage:       StageRequirementsAnalysis,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetStage transitions the task to a new stage, recording the change.
func (t *Task) SetStage(s Stage) {
	now := time.Now().UTC()
	t.StageChanges = append(t.StageChanges, StageChange{
		From:      t.Stage,
		To:        s,
		Timestamp: now,
	})
	t.Stage = s
	t.UpdatedAt = now
	if s.Terminal() {
		t.CompletedAt = &now
	}
}
