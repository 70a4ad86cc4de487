package engine_test

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/c360studio/taskpilot/agent"
	"github.com/c360studio/taskpilot/agent/agenttest"
	"github.com/c360studio/taskpilot/broker"
	"github.com/c360studio/taskpilot/collab"
	"github.com/c360studio/taskpilot/collab/collabtest"
	"github.com/c360studio/taskpilot/engine"
	"github.com/c360studio/taskpilot/queue/queuetest"
	"github.com/c360studio/taskpilot/task"
	"github.com/c360studio/taskpilot/workspace/workspacetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const repoURL = "https://github.com/acme/widgets.git"

type harness struct {
	engine *engine.Engine
	store  *task.MemStore
	agent  *agenttest.MockInvoker
	collab *collabtest.Fake
	ws     *workspacetest.FakeRunner
	queue  *queuetest.FakeScheduler
	broker *broker.Broker
	reqs   *broker.MemStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:  task.NewMemStore(),
		agent:  &agenttest.MockInvoker{},
		collab: collabtest.NewFake(),
		ws:     workspacetest.NewFakeRunner(),
		queue:  queuetest.NewFakeScheduler(),
		reqs:   broker.NewMemStore(),
	}
	h.broker = broker.New(h.reqs, h.collab, nil)

	eng, err := engine.New(engine.Config{
		Store:  h.store,
		Broker: h.broker,
		Agents: map[task.AgentKind]agent.Invoker{task.AgentPrimary: h.agent},
		Collab: h.collab,
		WS:     h.ws,
		Queue:  h.queue,
		Policy: engine.DefaultPolicy(),
	})
	require.NoError(t, err)
	h.engine = eng
	return h
}

const (
	clearVerdict = `{"clear": true}`
	smallPlan    = `{"approach": "add the endpoint", "files": ["routes.go"], "steps": ["add handler"], "testing_strategy": "unit test", "risks": "", "expected_outcome": "endpoint works"}`
)

func (h *harness) createTask(t *testing.T, description string) *task.Task {
	t.Helper()
	created, err := h.engine.CreateTask(context.Background(), description, task.Repository{URL: repoURL}, task.AgentPrimary, task.PriorityMedium)
	require.NoError(t, err)
	return created
}

func (h *harness) pendingRequests(t *testing.T, taskID string) []*broker.PendingRequest {
	t.Helper()
	pending, err := h.reqs.ListPending(context.Background(), taskID)
	require.NoError(t, err)
	return pending
}

// Scenario: unambiguous description, one-file plan, no risk keywords. The
// task flows to awaiting_review in a single pass with no human checkpoint.
func TestStraightThroughFlow(t *testing.T) {
	h := newHarness(t)
	h.agent.Script(clearVerdict).Script(smallPlan).Script("applied the plan")

	created := h.createTask(t, "Add a goodbye endpoint to the HTTP server")

	require.NoError(t, h.engine.Handle(context.Background(), engine.TaskCreated{TaskID: created.ID}))

	got, err := h.engine.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StageAwaitingReview, got.Stage)
	assert.Empty(t, h.pendingRequests(t, created.ID))

	// Branch, commit, and PR all happened.
	assert.NotEmpty(t, got.Context.BranchName)
	assert.NotEmpty(t, got.Context.PullRequest)
	require.NotNil(t, got.Context.TestsPassed)
	assert.True(t, *got.Context.TestsPassed)
	assert.NotEmpty(t, h.ws.Branches())
	assert.NotEmpty(t, h.ws.Commits())
	require.Len(t, h.collab.PullRequests(), 1)
	assert.Equal(t, got.Context.BranchName, h.collab.PullRequests()[0].Head)
}

// Scenario: "security" in the description forces plan verification.
func TestVerificationApproved(t *testing.T) {
	h := newHarness(t)
	h.agent.Script(clearVerdict).Script(smallPlan).Script("applied the plan")

	created := h.createTask(t, "Harden the security of the login endpoint")

	require.NoError(t, h.engine.Handle(context.Background(), engine.TaskCreated{TaskID: created.ID}))

	got, err := h.engine.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StageAwaitingVerification, got.Stage)

	pending := h.pendingRequests(t, created.ID)
	require.Len(t, pending, 1)
	assert.Equal(t, broker.CheckpointVerification, pending[0].Checkpoint)

	// Approval resumes the flow all the way to awaiting_review.
	require.NoError(t, h.engine.Handle(context.Background(), engine.CommentReceived{
		TaskID: created.ID,
		Author: "alice",
		Text:   "APPROVAL: Yes, proceed",
	}))

	got, err = h.engine.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StageAwaitingReview, got.Stage)
}

func TestVerificationRejectedRegeneratesPlan(t *testing.T) {
	h := newHarness(t)
	revisedPlan := `{"approach": "use OAuth", "files": ["auth.go"], "risks": ""}`
	h.agent.Script(clearVerdict).Script(smallPlan).Script(revisedPlan)

	created := h.createTask(t, "Improve security of session handling")
	require.NoError(t, h.engine.Handle(context.Background(), engine.TaskCreated{TaskID: created.ID}))

	require.NoError(t, h.engine.Handle(context.Background(), engine.CommentReceived{
		TaskID: created.ID,
		Author: "alice",
		Text:   "APPROVAL: No\nFEEDBACK: redo with OAuth",
	}))

	// Replanning happened and the new plan is waiting for approval again.
	got, err := h.engine.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StageAwaitingVerification, got.Stage)
	require.NotNil(t, got.Context.Plan)
	assert.Equal(t, "use OAuth", got.Context.Plan.Approach)

	// The feedback reached the replanning prompt.
	reqs := h.agent.Requests()
	last := reqs[len(reqs)-1]
	assert.Contains(t, last.Messages[1].Content, "redo with OAuth")
}

// A reply that isn't an approval verdict re-prompts instead of guessing.
func TestVerificationRepromptOnGeneralReply(t *testing.T) {
	h := newHarness(t)
	h.agent.Script(clearVerdict).Script(smallPlan)

	created := h.createTask(t, "Tighten API security checks")
	require.NoError(t, h.engine.Handle(context.Background(), engine.TaskCreated{TaskID: created.ID}))

	require.NoError(t, h.engine.Handle(context.Background(), engine.CommentReceived{
		TaskID: created.ID,
		Author: "bob",
		Text:   "hmm, let me think about this",
	}))

	got, err := h.engine.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StageAwaitingVerification, got.Stage)

	// A fresh pending request replaced the resolved one.
	pending := h.pendingRequests(t, created.ID)
	require.Len(t, pending, 1)
	assert.Equal(t, broker.CheckpointVerification, pending[0].Checkpoint)
}

func TestClarificationFlow(t *testing.T) {
	h := newHarness(t)
	h.agent.
		Script(`{"clear": false, "questions": ["Which database?", "Which API version?"]}`).
		Script(smallPlan).
		Script("applied the plan")

	created := h.createTask(t, "Add a goodbye endpoint")
	require.NoError(t, h.engine.Handle(context.Background(), engine.TaskCreated{TaskID: created.ID}))

	got, err := h.engine.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StageAwaitingClarification, got.Stage)
	assert.Len(t, got.Context.ClarifyingQuestions, 2)

	require.NoError(t, h.engine.Handle(context.Background(), engine.CommentReceived{
		TaskID: created.ID,
		Author: "alice",
		Text:   "GUIDANCE: postgres, v2 of the API",
	}))

	got, err = h.engine.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StageAwaitingReview, got.Stage)
	assert.Contains(t, got.Context.ClarificationAnswers, "postgres")
}

func TestStaleCommentIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.agent.Script(clearVerdict).Script(smallPlan).Script("applied")

	created := h.createTask(t, "Add a goodbye endpoint")
	require.NoError(t, h.engine.Handle(context.Background(), engine.TaskCreated{TaskID: created.ID}))

	// No pending request exists; a late webhook replay must not error.
	require.NoError(t, h.engine.Handle(context.Background(), engine.CommentReceived{
		TaskID: created.ID,
		Text:   "APPROVAL: Yes",
	}))
}

func TestReviewLoopAndMerge(t *testing.T) {
	h := newHarness(t)
	h.agent.Script(clearVerdict).Script(smallPlan).Script("applied").Script("addressed comments")

	created := h.createTask(t, "Add a goodbye endpoint")
	require.NoError(t, h.engine.Handle(context.Background(), engine.TaskCreated{TaskID: created.ID}))

	require.NoError(t, h.engine.Handle(context.Background(), engine.ReviewCompleted{
		TaskID:   created.ID,
		Comments: []string{"rename the handler", "add a test"},
	}))

	got, err := h.engine.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StageAwaitingReview, got.Stage)
	assert.Equal(t, 1, got.Context.ReviewRounds)

	require.NoError(t, h.engine.Handle(context.Background(), engine.MergeCompleted{TaskID: created.ID}))

	got, err = h.engine.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StageCompleted, got.Stage)
	assert.NotNil(t, got.CompletedAt)
}

func TestCancelStopsFurtherTransitions(t *testing.T) {
	h := newHarness(t)
	h.agent.Script(`{"clear": false, "questions": ["Which database?"]}`)

	created := h.createTask(t, "Add a goodbye endpoint")
	require.NoError(t, h.engine.Handle(context.Background(), engine.TaskCreated{TaskID: created.ID}))

	require.NoError(t, h.engine.Handle(context.Background(), engine.CancelRequested{
		TaskID: created.ID,
		Reason: "requester closed the issue",
	}))

	got, err := h.engine.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StageCancelled, got.Stage)
	assert.Empty(t, h.pendingRequests(t, created.ID))

	// The withdrawn request records the task's cancellation reason.
	withdrawn, err := h.reqs.Get(context.Background(), created.ID, broker.CheckpointClarification)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusCancelled, withdrawn.Status)
	assert.Equal(t, "requester closed the issue", withdrawn.CancelReason)

	// Later triggers are no-ops against the terminal stage.
	require.NoError(t, h.engine.Handle(context.Background(), engine.CommentReceived{
		TaskID: created.ID,
		Text:   "GUIDANCE: too late",
	}))
	got, err = h.engine.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StageCancelled, got.Stage)
}

func TestTimeoutFailsWaitingTask(t *testing.T) {
	h := newHarness(t)
	h.agent.Script(`{"clear": false, "questions": ["Which database?"]}`)

	created := h.createTask(t, "Add a goodbye endpoint")
	require.NoError(t, h.engine.Handle(context.Background(), engine.TaskCreated{TaskID: created.ID}))

	require.NoError(t, h.engine.Handle(context.Background(), engine.RequestTimedOut{
		TaskID:     created.ID,
		RequestID:  "req-x",
		Checkpoint: string(broker.CheckpointClarification),
	}))

	got, err := h.engine.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StageFailed, got.Stage)
	assert.Contains(t, got.Context.LastError, "clarification")
}

func TestAgentFailureFailsTaskWithComment(t *testing.T) {
	h := newHarness(t)
	h.agent.Err = assert.AnError

	created := h.createTask(t, "Add a goodbye endpoint")
	ref, _ := h.findThread(created)

	require.NoError(t, h.engine.Handle(context.Background(), engine.TaskCreated{TaskID: created.ID}))

	got, err := h.engine.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StageFailed, got.Stage)
	assert.NotEmpty(t, got.Context.LastError)

	// The failure summary reached the thread.
	thread := h.collab.Thread(ref)
	require.NotNil(t, thread)
	require.NotEmpty(t, thread.Comments)
	assert.Contains(t, thread.Comments[len(thread.Comments)-1], "failed")
}

// Two concurrent triggers for the same task never both mutate it; the loser
// reports ErrBusy for redelivery.
func TestConcurrentHandleSerialized(t *testing.T) {
	h := newHarness(t)
	h.agent.Script(clearVerdict).Script(smallPlan).Script("applied")

	created := h.createTask(t, "Add a goodbye endpoint")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.engine.Handle(context.Background(), engine.StageDue{TaskID: created.ID})
		}(i)
	}
	wg.Wait()

	// Losers report ErrBusy for redelivery; nothing else may fail.
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, engine.ErrBusy)
		}
	}

	// The winner left the task in a coherent stage, not an interleaving.
	got, err := h.engine.GetStatus(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StageAwaitingReview, got.Stage)
}

func TestCreateTaskRejectsBadRepo(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.CreateTask(context.Background(), "do things",
		task.Repository{URL: "file:///etc/passwd"}, task.AgentPrimary, task.PriorityLow)
	require.Error(t, err)
}

// findThread locates the collaborator thread created for a task.
func (h *harness) findThread(created *task.Task) (collab.ThreadRef, bool) {
	return parseRef(created.Context.ThreadRef)
}

func parseRef(s string) (collab.ThreadRef, bool) {
	idx := strings.LastIndex(s, "#")
	if idx <= 0 {
		return collab.ThreadRef{}, false
	}
	num, err := strconv.Atoi(s[idx+1:])
	if err != nil || num <= 0 {
		return collab.ThreadRef{}, false
	}
	return collab.ThreadRef{Repo: s[:idx], Number: num}, true
}
