package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
)

// Scheduler is how the engine hands work back to the queue: scheduling a
// task for (re)processing and reporting stage transitions.
type Scheduler interface {
	// Schedule enqueues a stage-advance event for the task.
	Schedule(ctx context.Context, taskID string) error

	// ReportStatus publishes a stage transition notification.
	ReportStatus(ctx context.Context, taskID, stage, detail string) error
}

// NATS publishes task events to the JetStream task stream.
type NATS struct {
	client *natsclient.Client
	source string
	logger *slog.Logger
}

// NewNATS creates a NATS-backed scheduler. source names the publishing
// component in message envelopes.
func NewNATS(client *natsclient.Client, source string, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{client: client, source: source, logger: logger}
}

// Schedule implements Scheduler.
func (n *NATS) Schedule(ctx context.Context, taskID string) error {
	return n.publish(ctx, TaskSubject(SubjectStageDue, taskID), &StageDuePayload{TaskID: taskID})
}

// ReportStatus implements Scheduler.
func (n *NATS) ReportStatus(ctx context.Context, taskID, stage, detail string) error {
	return n.publish(ctx, TaskSubject(SubjectStatus, taskID), &StatusPayload{
		TaskID: taskID,
		Stage:  stage,
		Detail: detail,
	})
}

// PublishCreated announces a new task.
func (n *NATS) PublishCreated(ctx context.Context, taskID string) error {
	return n.publish(ctx, TaskSubject(SubjectCreated, taskID), &TaskCreatedPayload{TaskID: taskID})
}

// PublishComment forwards a human comment into the task stream.
func (n *NATS) PublishComment(ctx context.Context, p *CommentReceivedPayload) error {
	return n.publish(ctx, TaskSubject(SubjectComment, p.TaskID), p)
}

// PublishReview forwards a review outcome into the task stream.
func (n *NATS) PublishReview(ctx context.Context, p *ReviewCompletedPayload) error {
	return n.publish(ctx, TaskSubject(SubjectReview, p.TaskID), p)
}

// PublishMerge forwards a merge event into the task stream.
func (n *NATS) PublishMerge(ctx context.Context, taskID string) error {
	return n.publish(ctx, TaskSubject(SubjectMerge, taskID), &MergeCompletedPayload{TaskID: taskID})
}

// PublishCancel requests task cancellation.
func (n *NATS) PublishCancel(ctx context.Context, taskID, reason string) error {
	return n.publish(ctx, TaskSubject(SubjectCancel, taskID), &CancelPayload{TaskID: taskID, Reason: reason})
}

// PublishTimeout reports a swept human-input request.
func (n *NATS) PublishTimeout(ctx context.Context, p *RequestTimedOutPayload) error {
	return n.publish(ctx, TaskSubject(SubjectTimeout, p.TaskID), p)
}

func (n *NATS) publish(ctx context.Context, subject string, payload message.Payload) error {
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("invalid payload for %s: %w", subject, err)
	}

	baseMsg := message.NewBaseMessage(payload.Schema(), payload, n.source)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := n.client.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	n.logger.Debug("Published task event", "subject", subject)
	return nil
}
