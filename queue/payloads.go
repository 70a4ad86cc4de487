// Package queue carries task lifecycle events over JetStream. Payloads
// follow the platform payload registration contract so consumers can
// deserialize by message type.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
)

func init() {
	registrations := []*component.PayloadRegistration{
		{
			Domain:      "task",
			Category:    "created",
			Version:     "v1",
			Description: "New task submitted for coordination",
			Factory:     func() any { return &TaskCreatedPayload{} },
		},
		{
			Domain:      "task",
			Category:    "comment",
			Version:     "v1",
			Description: "Human comment received on a task thread",
			Factory:     func() any { return &CommentReceivedPayload{} },
		},
		{
			Domain:      "task",
			Category:    "review",
			Version:     "v1",
			Description: "Code review completed on a task's pull request",
			Factory:     func() any { return &ReviewCompletedPayload{} },
		},
		{
			Domain:      "task",
			Category:    "merge",
			Version:     "v1",
			Description: "Pull request merged for a task",
			Factory:     func() any { return &MergeCompletedPayload{} },
		},
		{
			Domain:      "task",
			Category:    "cancel",
			Version:     "v1",
			Description: "Task cancellation requested",
			Factory:     func() any { return &CancelPayload{} },
		},
		{
			Domain:      "task",
			Category:    "stage",
			Version:     "v1",
			Description: "Task ready to advance through workflow stages",
			Factory:     func() any { return &StageDuePayload{} },
		},
		{
			Domain:      "task",
			Category:    "timeout",
			Version:     "v1",
			Description: "Pending human-input request exceeded its age limit",
			Factory:     func() any { return &RequestTimedOutPayload{} },
		},
		{
			Domain:      "task",
			Category:    "status",
			Version:     "v1",
			Description: "Task stage transition notification",
			Factory:     func() any { return &StatusPayload{} },
		},
	}

	for _, reg := range registrations {
		if err := component.RegisterPayload(reg); err != nil {
			panic(fmt.Sprintf("failed to register task.%s payload: %v", reg.Category, err))
		}
	}
}

// Message types for task lifecycle events.
var (
	TaskCreatedType     = message.Type{Domain: "task", Category: "created", Version: "v1"}
	CommentReceivedType = message.Type{Domain: "task", Category: "comment", Version: "v1"}
	ReviewCompletedType = message.Type{Domain: "task", Category: "review", Version: "v1"}
	MergeCompletedType  = message.Type{Domain: "task", Category: "merge", Version: "v1"}
	CancelType          = message.Type{Domain: "task", Category: "cancel", Version: "v1"}
	StageDueType        = message.Type{Domain: "task", Category: "stage", Version: "v1"}
	RequestTimedOutType = message.Type{Domain: "task", Category: "timeout", Version: "v1"}
	StatusType          = message.Type{Domain: "task", Category: "status", Version: "v1"}
)

// TaskCreatedPayload announces a newly submitted task.
type TaskCreatedPayload struct {
	TaskID string `json:"task_id"`
}

// Schema returns the message type for this payload.
func (p *TaskCreatedPayload) Schema() message.Type { return TaskCreatedType }

// Validate validates the payload.
func (p *TaskCreatedPayload) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *TaskCreatedPayload) MarshalJSON() ([]byte, error) {
	type Alias TaskCreatedPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *TaskCreatedPayload) UnmarshalJSON(data []byte) error {
	type Alias TaskCreatedPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// CommentReceivedPayload carries a human comment from a task thread.
type CommentReceivedPayload struct {
	TaskID    string `json:"task_id"`
	Author    string `json:"author,omitempty"`
	Body      string `json:"body"`
	CommentID int64  `json:"comment_id,omitempty"`
}

// Schema returns the message type for this payload.
func (p *CommentReceivedPayload) Schema() message.Type { return CommentReceivedType }

// Validate validates the payload.
func (p *CommentReceivedPayload) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if p.Body == "" {
		return fmt.Errorf("body is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *CommentReceivedPayload) MarshalJSON() ([]byte, error) {
	type Alias CommentReceivedPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *CommentReceivedPayload) UnmarshalJSON(data []byte) error {
	type Alias CommentReceivedPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// ReviewCompletedPayload reports the outcome of a PR review round.
type ReviewCompletedPayload struct {
	TaskID   string   `json:"task_id"`
	Approved bool     `json:"approved"`
	Comments []string `json:"comments,omitempty"`
}

// Schema returns the message type for this payload.
func (p *ReviewCompletedPayload) Schema() message.Type { return ReviewCompletedType }

// Validate validates the payload.
func (p *ReviewCompletedPayload) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *ReviewCompletedPayload) MarshalJSON() ([]byte, error) {
	type Alias ReviewCompletedPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *ReviewCompletedPayload) UnmarshalJSON(data []byte) error {
	type Alias ReviewCompletedPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// MergeCompletedPayload reports that a task's PR was merged.
type MergeCompletedPayload struct {
	TaskID string `json:"task_id"`
}

// Schema returns the message type for this payload.
func (p *MergeCompletedPayload) Schema() message.Type { return MergeCompletedType }

// Validate validates the payload.
func (p *MergeCompletedPayload) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *MergeCompletedPayload) MarshalJSON() ([]byte, error) {
	type Alias MergeCompletedPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *MergeCompletedPayload) UnmarshalJSON(data []byte) error {
	type Alias MergeCompletedPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// CancelPayload requests cancellation of a task.
type CancelPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

// Schema returns the message type for this payload.
func (p *CancelPayload) Schema() message.Type { return CancelType }

// Validate validates the payload.
func (p *CancelPayload) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *CancelPayload) MarshalJSON() ([]byte, error) {
	type Alias CancelPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *CancelPayload) UnmarshalJSON(data []byte) error {
	type Alias CancelPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// StageDuePayload asks the coordinator to resume advancing a task.
type StageDuePayload struct {
	TaskID string `json:"task_id"`
}

// Schema returns the message type for this payload.
func (p *StageDuePayload) Schema() message.Type { return StageDueType }

// Validate validates the payload.
func (p *StageDuePayload) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *StageDuePayload) MarshalJSON() ([]byte, error) {
	type Alias StageDuePayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *StageDuePayload) UnmarshalJSON(data []byte) error {
	type Alias StageDuePayload
	return json.Unmarshal(data, (*Alias)(p))
}

// RequestTimedOutPayload reports a swept human-input request.
type RequestTimedOutPayload struct {
	RequestID  string        `json:"request_id"`
	TaskID     string        `json:"task_id"`
	Checkpoint string        `json:"checkpoint"`
	Age        time.Duration `json:"age"`
}

// Schema returns the message type for this payload.
func (p *RequestTimedOutPayload) Schema() message.Type { return RequestTimedOutType }

// Validate validates the payload.
func (p *RequestTimedOutPayload) Validate() error {
	if p.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if p.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *RequestTimedOutPayload) MarshalJSON() ([]byte, error) {
	type Alias RequestTimedOutPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *RequestTimedOutPayload) UnmarshalJSON(data []byte) error {
	type Alias RequestTimedOutPayload
	return json.Unmarshal(data, (*Alias)(p))
}

// StatusPayload announces a stage transition for observers.
type StatusPayload struct {
	TaskID string `json:"task_id"`
	Stage  string `json:"stage"`
	Detail string `json:"detail,omitempty"`
}

// Schema returns the message type for this payload.
func (p *StatusPayload) Schema() message.Type { return StatusType }

// Validate validates the payload.
func (p *StatusPayload) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if p.Stage == "" {
		return fmt.Errorf("stage is required")
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *StatusPayload) MarshalJSON() ([]byte, error) {
	type Alias StatusPayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *StatusPayload) UnmarshalJSON(data []byte) error {
	type Alias StatusPayload
	return json.Unmarshal(data, (*Alias)(p))
}
