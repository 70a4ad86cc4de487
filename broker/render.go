package broker

import (
	"fmt"
	"strings"
)

// RenderRequest formats an input request as a markdown comment for the task
// thread. The reply-format section mirrors what the response grammar accepts.
func RenderRequest(r *PendingRequest) string {
	var sb strings.Builder

	switch r.Checkpoint {
	case CheckpointVerification:
		sb.WriteString("## Approval needed\n\n")
	default:
		sb.WriteString("## Input needed\n\n")
	}

	if r.Situation != "" {
		sb.WriteString(r.Situation)
		sb.WriteString("\n\n")
	}

	sb.WriteString(r.Question)
	sb.WriteString("\n")

	if len(r.Options) > 0 {
		sb.WriteString("\n")
		for i, opt := range r.Options {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, opt)
		}
	}

	sb.WriteString("\n---\n")
	switch r.Checkpoint {
	case CheckpointVerification:
		sb.WriteString("Reply with `APPROVAL: Yes` to proceed, or `APPROVAL: No` ")
		sb.WriteString("followed by `FEEDBACK: <what to change>`.\n")
	default:
		sb.WriteString("Reply with `GUIDANCE: <your answer>`, or `DECISION: <option>` ")
		sb.WriteString("to pick one of the options above.\n")
	}

	if r.Urgency == UrgencyBlocking || r.Urgency == UrgencyHigh {
		fmt.Fprintf(&sb, "\n*Urgency: %s. Work on this task is paused until you reply.*\n", r.Urgency)
	}

	return sb.String()
}

// RenderAck formats a short acknowledgement comment for a resolved request.
func RenderAck(r *PendingRequest, responseType string) string {
	return fmt.Sprintf("Received your %s response, resuming work on `%s`.", responseType, r.TaskID)
}

// RenderCancelled formats the withdrawal notice for a cancelled request.
func RenderCancelled(r *PendingRequest) string {
	reason := r.CancelReason
	if reason == "" {
		reason = "cancelled"
	}
	return fmt.Sprintf("This request is no longer waiting for input (%s). No reply is needed for `%s`.", reason, r.TaskID)
}
