package coordinator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/taskpilot/engine"
	"github.com/c360studio/taskpilot/queue"
)

// decodeEvent converts a raw stream message into the engine event it
// represents. The subject decides the event kind; the payload carries
// the details.
func decodeEvent(subject string, data []byte) (engine.Event, error) {
	var baseMsg message.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	payloadBytes, err := json.Marshal(baseMsg.Payload())
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	switch {
	case hasPrefix(subject, queue.SubjectCreated):
		var p queue.TaskCreatedPayload
		if err := json.Unmarshal(payloadBytes, &p); err != nil {
			return nil, fmt.Errorf("unmarshal created payload: %w", err)
		}
		return engine.TaskCreated{TaskID: p.TaskID}, nil

	case hasPrefix(subject, queue.SubjectComment):
		var p queue.CommentReceivedPayload
		if err := json.Unmarshal(payloadBytes, &p); err != nil {
			return nil, fmt.Errorf("unmarshal comment payload: %w", err)
		}
		return engine.CommentReceived{TaskID: p.TaskID, Author: p.Author, Text: p.Body}, nil

	case hasPrefix(subject, queue.SubjectReview):
		var p queue.ReviewCompletedPayload
		if err := json.Unmarshal(payloadBytes, &p); err != nil {
			return nil, fmt.Errorf("unmarshal review payload: %w", err)
		}
		if p.Approved {
			return engine.ReviewCompleted{TaskID: p.TaskID}, nil
		}
		return engine.ReviewCompleted{TaskID: p.TaskID, Comments: p.Comments}, nil

	case hasPrefix(subject, queue.SubjectMerge):
		var p queue.MergeCompletedPayload
		if err := json.Unmarshal(payloadBytes, &p); err != nil {
			return nil, fmt.Errorf("unmarshal merge payload: %w", err)
		}
		return engine.MergeCompleted{TaskID: p.TaskID}, nil

	case hasPrefix(subject, queue.SubjectCancel):
		var p queue.CancelPayload
		if err := json.Unmarshal(payloadBytes, &p); err != nil {
			return nil, fmt.Errorf("unmarshal cancel payload: %w", err)
		}
		return engine.CancelRequested{TaskID: p.TaskID, Reason: p.Reason}, nil

	case hasPrefix(subject, queue.SubjectStageDue):
		var p queue.StageDuePayload
		if err := json.Unmarshal(payloadBytes, &p); err != nil {
			return nil, fmt.Errorf("unmarshal stage payload: %w", err)
		}
		return engine.StageDue{TaskID: p.TaskID}, nil

	case hasPrefix(subject, queue.SubjectTimeout):
		var p queue.RequestTimedOutPayload
		if err := json.Unmarshal(payloadBytes, &p); err != nil {
			return nil, fmt.Errorf("unmarshal timeout payload: %w", err)
		}
		return engine.RequestTimedOut{TaskID: p.TaskID, RequestID: p.RequestID, Checkpoint: p.Checkpoint}, nil
	}

	return nil, fmt.Errorf("unhandled subject %q", subject)
}

func hasPrefix(subject, prefix string) bool {
	return subject == prefix || strings.HasPrefix(subject, prefix+".")
}
