package queue

import "fmt"

// StreamName is the JetStream stream holding all task lifecycle events.
const StreamName = "TASKPILOT_TASKS"

// StreamSubjects is the subject space captured by the stream.
var StreamSubjects = []string{"task.>"}

// Subject prefixes for task lifecycle events. Each event is published to
// {prefix}.{taskID} so consumers can filter per task or per event type.
const (
	SubjectCreated  = "task.event.created"
	SubjectComment  = "task.event.comment"
	SubjectReview   = "task.event.review"
	SubjectMerge    = "task.event.merge"
	SubjectCancel   = "task.event.cancel"
	SubjectStageDue = "task.stage.advance"
	SubjectTimeout  = "task.request.timeout"
	SubjectStatus   = "task.status"
)

// EventSubjects is the filter covering every subject the coordinator consumes.
// Status notifications are excluded so observers don't feed back into the engine.
var EventSubjects = []string{
	SubjectCreated + ".>",
	SubjectComment + ".>",
	SubjectReview + ".>",
	SubjectMerge + ".>",
	SubjectCancel + ".>",
	SubjectStageDue + ".>",
	SubjectTimeout + ".>",
}

// TaskSubject builds the per-task subject under a prefix.
func TaskSubject(prefix, taskID string) string {
	return fmt.Sprintf("%s.%s", prefix, taskID)
}
