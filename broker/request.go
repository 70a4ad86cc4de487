// Package broker manages human-in-the-loop input requests: posting them to
// the task's thread, matching replies back, and sweeping stale requests.
package broker

import (
	"fmt"
	"time"

	"github.com/c360studio/taskpilot/collab"
	"github.com/google/uuid"
)

// Status represents the lifecycle state of an input request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusResponded Status = "responded"
	StatusCancelled Status = "cancelled"
)

// Urgency represents how urgently a human response is needed.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyBlocking Urgency = "blocking"
)

// Checkpoint identifies the workflow point waiting on human input.
type Checkpoint string

const (
	// CheckpointClarification is the requirements stage asking follow-up questions.
	CheckpointClarification Checkpoint = "clarification"

	// CheckpointVerification is the plan approval gate before implementation.
	CheckpointVerification Checkpoint = "verification"
)

// PendingRequest is one outstanding ask for human input. At most one
// request per (task, checkpoint) exists at a time.
type PendingRequest struct {
	// ID uniquely identifies this request (format: req-{uuid})
	ID string `json:"id"`

	// TaskID is the task waiting on this input.
	TaskID string `json:"task_id"`

	// AgentID identifies which agent asked (primary or secondary).
	AgentID string `json:"agent_id"`

	// Checkpoint is the workflow point that is blocked.
	Checkpoint Checkpoint `json:"checkpoint"`

	// Thread is where the request was posted.
	Thread collab.ThreadRef `json:"thread"`

	// Comment is the posted request comment, if posting succeeded.
	Comment collab.CommentRef `json:"comment,omitempty"`

	// Situation and Question are what was asked.
	Situation string   `json:"situation,omitempty"`
	Question  string   `json:"question"`
	Options   []string `json:"options,omitempty"`

	// Urgency indicates how urgent the request is.
	Urgency Urgency `json:"urgency"`

	// Status is the current state of the request.
	Status Status `json:"status"`

	// Response is the parsed reply text, set when Status is responded.
	Response string `json:"response,omitempty"`

	// CancelReason is set when Status is cancelled ("timeout", "superseded", ...).
	CancelReason string `json:"cancel_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// NewPendingRequest creates a pending request with a generated ID.
func NewPendingRequest(taskID, agentID string, checkpoint Checkpoint) *PendingRequest {
	return &PendingRequest{
		ID:         fmt.Sprintf("req-%s", uuid.New().String()[:8]),
		TaskID:     taskID,
		AgentID:    agentID,
		Checkpoint: checkpoint,
		Urgency:    UrgencyNormal,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}

// Key returns the store key for this request. One key per (task, checkpoint)
// is what makes RequestInput idempotent.
func (r *PendingRequest) Key() string {
	return RequestKey(r.TaskID, r.Checkpoint)
}

// RequestKey builds the store key for a (task, checkpoint) pair.
func RequestKey(taskID string, checkpoint Checkpoint) string {
	return fmt.Sprintf("%s.%s", taskID, checkpoint)
}

// Age returns how long the request has been open.
func (r *PendingRequest) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}
