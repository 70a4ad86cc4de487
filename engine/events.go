package engine

// Event is an external trigger routed into the engine. Each event names the
// task it concerns; Handle serializes events per task.
type Event interface {
	Task() string
}

// TaskCreated starts the workflow for a newly submitted task.
type TaskCreated struct {
	TaskID string
}

// StageDue resumes advancing a task, typically after a pause resolved.
type StageDue struct {
	TaskID string
}

// CommentReceived carries a human reply from the task's thread. Author is
// who wrote it, kept for logging; replies match pending requests by task,
// not by author.
type CommentReceived struct {
	TaskID string
	Author string
	Text   string
}

// ReviewCompleted reports a finished review round on the task's PR.
type ReviewCompleted struct {
	TaskID   string
	Comments []string
}

// MergeCompleted reports that the task's PR was merged.
type MergeCompleted struct {
	TaskID string
}

// CancelRequested asks for the task to be cancelled.
type CancelRequested struct {
	TaskID string
	Reason string
}

// RequestTimedOut reports that a pending input request was swept.
type RequestTimedOut struct {
	TaskID     string
	RequestID  string
	Checkpoint string
}

func (e TaskCreated) Task() string     { return e.TaskID }
func (e StageDue) Task() string        { return e.TaskID }
func (e CommentReceived) Task() string { return e.TaskID }
func (e ReviewCompleted) Task() string { return e.TaskID }
func (e MergeCompleted) Task() string  { return e.TaskID }
func (e CancelRequested) Task() string { return e.TaskID }
func (e RequestTimedOut) Task() string { return e.TaskID }
