package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/c360studio/taskpilot/collab"
	"github.com/c360studio/taskpilot/protocol"
)

// InputRequest describes an ask for human input at a workflow checkpoint.
type InputRequest struct {
	TaskID     string
	AgentID    string
	Checkpoint Checkpoint
	Thread     collab.ThreadRef
	Situation  string
	Question   string
	Options    []string
	Urgency    Urgency
}

// Resolution pairs a resolved request with the parsed human response.
type Resolution struct {
	Request  *PendingRequest
	Response *protocol.Response
}

// Broker posts input requests to task threads and matches replies back.
// State is written before any outward post, so a failed post never loses
// a request.
type Broker struct {
	store  Store
	collab collab.Client
	logger *slog.Logger
}

// New creates a Broker.
func New(store Store, client collab.Client, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{store: store, collab: client, logger: logger}
}

// RequestInput opens an input request for (task, checkpoint) and posts it to
// the task thread. Calling it again while a request is still pending returns
// the existing one without posting a duplicate. A request whose predecessor
// was already resolved or cancelled replaces it.
func (b *Broker) RequestInput(ctx context.Context, req InputRequest) (*PendingRequest, error) {
	if req.TaskID == "" || req.Question == "" {
		return nil, fmt.Errorf("task_id and question are required")
	}
	if req.Urgency == "" {
		req.Urgency = UrgencyNormal
	}

	existing, err := b.store.Get(ctx, req.TaskID, req.Checkpoint)
	switch {
	case err == nil && existing.Status == StatusPending:
		b.logger.Debug("Input request already pending",
			"task_id", req.TaskID,
			"checkpoint", req.Checkpoint,
			"request_id", existing.ID)
		return existing, nil
	case err == nil:
		// Previous request at this checkpoint finished; start a fresh round.
		fresh := b.fill(req)
		updated, err := b.store.Update(ctx, req.TaskID, req.Checkpoint, func(r *PendingRequest) error {
			*r = *fresh
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("replace request: %w", err)
		}
		return b.post(ctx, updated)
	case errors.Is(err, ErrNotFound):
		fresh := b.fill(req)
		if err := b.store.Create(ctx, fresh); err != nil {
			if errors.Is(err, ErrConflict) {
				// Lost a create race; the winner's request is the one.
				return b.store.Get(ctx, req.TaskID, req.Checkpoint)
			}
			return nil, fmt.Errorf("create request: %w", err)
		}
		return b.post(ctx, fresh)
	default:
		return nil, err
	}
}

// fill builds a PendingRequest from an InputRequest.
func (b *Broker) fill(req InputRequest) *PendingRequest {
	r := NewPendingRequest(req.TaskID, req.AgentID, req.Checkpoint)
	r.Thread = req.Thread
	r.Situation = req.Situation
	r.Question = req.Question
	r.Options = req.Options
	r.Urgency = req.Urgency
	return r
}

// post publishes the request to the task thread and records the comment ref.
// A posting failure leaves the request pending without a comment; the state
// write already happened, so nothing is lost.
func (b *Broker) post(ctx context.Context, r *PendingRequest) (*PendingRequest, error) {
	if r.Thread.IsZero() {
		return r, nil
	}

	comment, err := b.collab.PostComment(ctx, r.Thread, RenderRequest(r))
	if err != nil {
		b.logger.Warn("Failed to post input request",
			"request_id", r.ID,
			"task_id", r.TaskID,
			"thread", r.Thread.String(),
			"error", err)
		return r, nil
	}

	updated, err := b.store.Update(ctx, r.TaskID, r.Checkpoint, func(stored *PendingRequest) error {
		if stored.ID != r.ID {
			return nil // replaced in the meantime; don't attach a stale comment
		}
		stored.Comment = comment
		return nil
	})
	if err != nil {
		b.logger.Warn("Failed to record comment ref", "request_id", r.ID, "error", err)
		return r, nil
	}

	b.logger.Info("Posted input request",
		"request_id", r.ID,
		"task_id", r.TaskID,
		"checkpoint", r.Checkpoint,
		"thread", r.Thread.String())
	return updated, nil
}

// Resolve matches a human reply to the task's oldest pending request and
// marks it responded. Any human may answer; requests are keyed by task, not
// by who replies. Exactly one caller wins for a given request; stale or
// duplicate replies get ErrNotFound.
func (b *Broker) Resolve(ctx context.Context, taskID, text string) (*Resolution, error) {
	pending, err := b.store.ListPending(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	if len(pending) == 0 {
		return nil, ErrNotFound
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	target := pending[0]

	parsed := protocol.Parse(text)
	now := time.Now().UTC()

	resolved, err := b.store.Update(ctx, target.TaskID, target.Checkpoint, func(r *PendingRequest) error {
		if r.ID != target.ID || r.Status != StatusPending {
			return ErrNotFound
		}
		r.Status = StatusResponded
		r.Response = text
		r.RespondedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("Resolved input request",
		"request_id", resolved.ID,
		"task_id", resolved.TaskID,
		"checkpoint", resolved.Checkpoint,
		"response_type", parsed.Type)

	// Acknowledge on the thread so the human knows the reply landed.
	if !resolved.Thread.IsZero() {
		if _, err := b.collab.PostComment(ctx, resolved.Thread, RenderAck(resolved, string(parsed.Type))); err != nil {
			b.logger.Warn("Failed to post ack comment", "request_id", resolved.ID, "error", err)
		}
	}

	return &Resolution{Request: resolved, Response: parsed}, nil
}

// Cancel marks a pending request cancelled with the given reason.
// Returns ErrNotFound if the request is unknown or no longer pending.
func (b *Broker) Cancel(ctx context.Context, requestID, reason string) error {
	pending, err := b.store.ListPending(ctx, "")
	if err != nil {
		return fmt.Errorf("list pending requests: %w", err)
	}

	for _, r := range pending {
		if r.ID != requestID {
			continue
		}
		cancelled, err := b.store.Update(ctx, r.TaskID, r.Checkpoint, func(stored *PendingRequest) error {
			if stored.ID != requestID || stored.Status != StatusPending {
				return ErrNotFound
			}
			stored.Status = StatusCancelled
			stored.CancelReason = reason
			return nil
		})
		if err != nil {
			return err
		}

		b.notifyCancelled(ctx, cancelled)
		b.logger.Info("Cancelled input request",
			"request_id", requestID,
			"task_id", r.TaskID,
			"reason", reason)
		return nil
	}

	return ErrNotFound
}

// notifyCancelled posts a withdrawal notice to the request's thread so the
// human is not left staring at an open question. Best-effort; the state
// change already committed.
func (b *Broker) notifyCancelled(ctx context.Context, r *PendingRequest) {
	if r.Thread.IsZero() {
		return
	}
	if _, err := b.collab.PostComment(ctx, r.Thread, RenderCancelled(r)); err != nil {
		b.logger.Warn("Failed to post cancellation notice", "request_id", r.ID, "error", err)
	}
}

// CancelForTask cancels every pending request for a task, typically when
// the task itself is cancelled. Requests already resolved are left alone.
func (b *Broker) CancelForTask(ctx context.Context, taskID, reason string) error {
	pending, err := b.store.ListPending(ctx, taskID)
	if err != nil {
		return fmt.Errorf("list pending requests: %w", err)
	}

	for _, r := range pending {
		if err := b.Cancel(ctx, r.ID, reason); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// Sweep cancels every pending request older than maxAge with reason
// "timeout" and returns the swept requests. Requests that lose a concurrent
// update race are skipped; a later sweep gets them if still stale.
func (b *Broker) Sweep(ctx context.Context, maxAge time.Duration) ([]*PendingRequest, error) {
	pending, err := b.store.ListPending(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}

	now := time.Now().UTC()
	var swept []*PendingRequest
	for _, r := range pending {
		if r.Age(now) <= maxAge {
			continue
		}

		cancelled, err := b.store.Update(ctx, r.TaskID, r.Checkpoint, func(stored *PendingRequest) error {
			if stored.ID != r.ID || stored.Status != StatusPending {
				return ErrNotFound
			}
			stored.Status = StatusCancelled
			stored.CancelReason = "timeout"
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
				continue
			}
			return swept, err
		}

		b.notifyCancelled(ctx, cancelled)
		b.logger.Info("Swept stale input request",
			"request_id", cancelled.ID,
			"task_id", cancelled.TaskID,
			"checkpoint", cancelled.Checkpoint,
			"age", r.Age(now))
		swept = append(swept, cancelled)
	}

	return swept, nil
}
