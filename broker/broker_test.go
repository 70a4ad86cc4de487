package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/c360studio/taskpilot/broker"
	"github.com/c360studio/taskpilot/collab"
	"github.com/c360studio/taskpilot/collab/collabtest"
	"github.com/c360studio/taskpilot/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) (*broker.Broker, *collabtest.Fake, collab.ThreadRef) {
	t.Helper()
	fake := collabtest.NewFake()
	ref, err := fake.CreateThread(context.Background(), "acme/widgets", "Task thread", "", nil)
	require.NoError(t, err)
	return broker.New(broker.NewMemStore(), fake, nil), fake, ref
}

func TestRequestInput_Idempotent(t *testing.T) {
	b, fake, ref := newTestBroker(t)
	ctx := context.Background()

	req := broker.InputRequest{
		TaskID:     "t-1",
		AgentID:    "primary",
		Checkpoint: broker.CheckpointClarification,
		Thread:     ref,
		Question:   "Which database should this target?",
	}

	first, err := b.RequestInput(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusPending, first.Status)

	second, err := b.RequestInput(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Only one comment posted for the two calls.
	thread := fake.Thread(ref)
	require.NotNil(t, thread)
	assert.Len(t, thread.Comments, 1)
}

func TestRequestInput_ReplacesFinishedRequest(t *testing.T) {
	b, _, ref := newTestBroker(t)
	ctx := context.Background()

	req := broker.InputRequest{
		TaskID:     "t-1",
		Checkpoint: broker.CheckpointVerification,
		Thread:     ref,
		Question:   "Approve this plan?",
	}

	first, err := b.RequestInput(ctx, req)
	require.NoError(t, err)

	_, err = b.Resolve(ctx, "t-1", "APPROVAL: No\nFEEDBACK: use smaller steps")
	require.NoError(t, err)

	// Re-requesting the same checkpoint opens a fresh round.
	second, err := b.RequestInput(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, broker.StatusPending, second.Status)
}

func TestRequestInput_PostFailureKeepsState(t *testing.T) {
	fake := collabtest.NewFake()
	ref, err := fake.CreateThread(context.Background(), "acme/widgets", "Task thread", "", nil)
	require.NoError(t, err)
	fake.PostCommentErr = errors.New("rate limited")

	store := broker.NewMemStore()
	b := broker.New(store, fake, nil)

	r, err := b.RequestInput(context.Background(), broker.InputRequest{
		TaskID:     "t-1",
		Checkpoint: broker.CheckpointClarification,
		Thread:     ref,
		Question:   "Which branch is the base?",
	})
	require.NoError(t, err)

	// The request survives the failed post and is still resolvable.
	stored, err := store.Get(context.Background(), "t-1", broker.CheckpointClarification)
	require.NoError(t, err)
	assert.Equal(t, r.ID, stored.ID)
	assert.Equal(t, broker.StatusPending, stored.Status)
}

func TestResolve_ExactlyOnce(t *testing.T) {
	b, _, ref := newTestBroker(t)
	ctx := context.Background()

	_, err := b.RequestInput(ctx, broker.InputRequest{
		TaskID:     "t-1",
		AgentID:    "primary",
		Checkpoint: broker.CheckpointVerification,
		Thread:     ref,
		Question:   "Approve this plan?",
	})
	require.NoError(t, err)

	res, err := b.Resolve(ctx, "t-1", "APPROVAL: Yes, looks good")
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeApproval, res.Response.Type)
	assert.True(t, res.Response.Approved)
	assert.Equal(t, broker.StatusResponded, res.Request.Status)

	// Second reply for the same request is stale.
	_, err = b.Resolve(ctx, "t-1", "APPROVAL: Yes")
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestResolve_AnyHumanMayAnswer(t *testing.T) {
	// Requests record which agent asked, but replies match by task: a reply
	// written by any human resolves the agent's request.
	b, _, ref := newTestBroker(t)
	ctx := context.Background()

	_, err := b.RequestInput(ctx, broker.InputRequest{
		TaskID:     "t-1",
		AgentID:    "primary",
		Checkpoint: broker.CheckpointVerification,
		Thread:     ref,
		Question:   "Approve this plan?",
	})
	require.NoError(t, err)

	res, err := b.Resolve(ctx, "t-1", "APPROVAL: Yes")
	require.NoError(t, err)
	assert.Equal(t, "primary", res.Request.AgentID)
	assert.True(t, res.Response.Approved)
}

func TestResolve_NoPendingRequest(t *testing.T) {
	b, _, _ := newTestBroker(t)

	_, err := b.Resolve(context.Background(), "t-unknown", "GUIDANCE: use postgres")
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestResolve_OldestFirst(t *testing.T) {
	store := broker.NewMemStore()
	b := broker.New(store, collabtest.NewFake(), nil)
	ctx := context.Background()

	older := broker.NewPendingRequest("t-1", "primary", broker.CheckpointClarification)
	older.Question = "first"
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.Create(ctx, older))

	newer := broker.NewPendingRequest("t-1", "primary", broker.CheckpointVerification)
	newer.Question = "second"
	require.NoError(t, store.Create(ctx, newer))

	res, err := b.Resolve(ctx, "t-1", "GUIDANCE: answer to first")
	require.NoError(t, err)
	assert.Equal(t, older.ID, res.Request.ID)
}

func TestCancel(t *testing.T) {
	b, fake, ref := newTestBroker(t)
	ctx := context.Background()

	r, err := b.RequestInput(ctx, broker.InputRequest{
		TaskID:     "t-1",
		Checkpoint: broker.CheckpointClarification,
		Thread:     ref,
		Question:   "Still needed?",
	})
	require.NoError(t, err)

	require.NoError(t, b.Cancel(ctx, r.ID, "task cancelled"))

	// The human gets a withdrawal notice on the thread: the request comment
	// plus the notice.
	thread := fake.Thread(ref)
	require.NotNil(t, thread)
	require.Len(t, thread.Comments, 2)
	assert.Contains(t, thread.Comments[1], "no longer waiting")
	assert.Contains(t, thread.Comments[1], "task cancelled")

	// Cancelled requests can't be resolved or re-cancelled.
	_, err = b.Resolve(ctx, "t-1", "GUIDANCE: too late")
	assert.ErrorIs(t, err, broker.ErrNotFound)
	assert.ErrorIs(t, b.Cancel(ctx, r.ID, "again"), broker.ErrNotFound)
}

func TestSweep(t *testing.T) {
	store := broker.NewMemStore()
	fake := collabtest.NewFake()
	ref, err := fake.CreateThread(context.Background(), "acme/widgets", "Task thread", "", nil)
	require.NoError(t, err)
	b := broker.New(store, fake, nil)
	ctx := context.Background()

	stale := broker.NewPendingRequest("t-1", "primary", broker.CheckpointClarification)
	stale.Question = "old"
	stale.Thread = ref
	stale.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.Create(ctx, stale))

	fresh := broker.NewPendingRequest("t-2", "primary", broker.CheckpointClarification)
	fresh.Question = "new"
	require.NoError(t, store.Create(ctx, fresh))

	swept, err := b.Sweep(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, stale.ID, swept[0].ID)
	assert.Equal(t, broker.StatusCancelled, swept[0].Status)
	assert.Equal(t, "timeout", swept[0].CancelReason)

	// The stale request's thread gets a withdrawal notice.
	thread := fake.Thread(ref)
	require.NotNil(t, thread)
	require.Len(t, thread.Comments, 1)
	assert.Contains(t, thread.Comments[0], "timeout")

	// Fresh request untouched and still resolvable.
	res, err := b.Resolve(ctx, "t-2", "GUIDANCE: still here")
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, res.Request.ID)
}

func TestRenderRequest(t *testing.T) {
	r := broker.NewPendingRequest("t-1", "primary", broker.CheckpointVerification)
	r.Situation = "The plan touches the auth module."
	r.Question = "Approve this plan?"
	r.Options = []string{"Approve as-is", "Request changes"}
	r.Urgency = broker.UrgencyBlocking

	body := broker.RenderRequest(r)
	assert.Contains(t, body, "Approval needed")
	assert.Contains(t, body, "APPROVAL: Yes")
	assert.Contains(t, body, "1. Approve as-is")
	assert.Contains(t, body, "paused until you reply")
}
