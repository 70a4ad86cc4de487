package engine

import (
	"fmt"
	"strings"

	"github.com/c360studio/taskpilot/task"
)

// System prompts framing each agent invocation.
const (
	systemAnalyst = `You are a software requirements analyst. Given a task description,
decide whether the requirements are clear enough to implement without guessing.
Respond with JSON only: {"clear": true} or {"clear": false, "questions": ["...", "..."]}.`

	systemPlanner = `You are a senior software engineer writing an implementation plan.
Respond with JSON only, using this shape:
{"approach": "...", "files": ["..."], "steps": ["..."], "testing_strategy": "...",
 "risks": "...", "expected_outcome": "..."}.`

	systemImplementer = `You are a software engineer implementing an approved plan.
Apply the changes described in the plan to the working tree. Describe each change
you make. Do not change anything outside the plan's scope.`

	systemFixer = `You are a software engineer fixing a failing test run. Given the
test output, identify the cause and apply the smallest fix that makes the tests
pass. Describe the change you make.`

	systemReviewer = `You are a software engineer addressing pull request review
comments. Apply the requested changes and describe what you changed for each
comment.`
)

// analysisPrompt asks whether the task requirements are clear.
func analysisPrompt(t *task.Task) string {
	return fmt.Sprintf("Task description:\n\n%s\n\nRepository: %s\n\nAre these requirements clear enough to implement?",
		t.Description, t.Repository.URL)
}

// planningPrompt asks for an implementation plan, folding in clarification
// answers and any verification feedback from a rejected plan.
func planningPrompt(t *task.Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write an implementation plan for this task.\n\nTask description:\n%s\n", t.Description)

	if t.Context.ClarificationAnswers != "" {
		fmt.Fprintf(&sb, "\nClarifications from the requester:\n%s\n", t.Context.ClarificationAnswers)
	}
	if t.Context.RevisionFeedback != "" {
		fmt.Fprintf(&sb, "\nA previous plan was rejected with this feedback; produce a new plan that addresses it:\n%s\n", t.Context.RevisionFeedback)
	}

	fmt.Fprintf(&sb, "\nRepository: %s", t.Repository.URL)
	return sb.String()
}

// implementationPrompt asks for the code changes for the approved plan.
func implementationPrompt(t *task.Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Implement this task on branch %s.\n\nTask description:\n%s\n", t.Context.BranchName, t.Description)
	if t.Context.Plan != nil {
		fmt.Fprintf(&sb, "\nApproved plan:\n%s\n", t.Context.Plan.Raw)
	}
	return sb.String()
}

// testFixPrompt asks for a fix for a failing test run.
func testFixPrompt(t *task.Task, testOutput string) string {
	return fmt.Sprintf("The test run for task %s failed.\n\nTest output:\n%s\n\nFix the failure.",
		t.ID, testOutput)
}

// reviewPrompt asks for revisions addressing review comments.
func reviewPrompt(t *task.Task, comments []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Address these review comments on pull request %s (branch %s):\n",
		t.Context.PullRequest, t.Context.BranchName)
	for i, c := range comments {
		fmt.Fprintf(&sb, "\n%d. %s\n", i+1, c)
	}
	return sb.String()
}

// pullRequestBody summarizes the task for the PR description.
func pullRequestBody(t *task.Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", t.Description)

	if t.Context.Plan != nil && t.Context.Plan.Approach != "" {
		fmt.Fprintf(&sb, "\n## Approach\n\n%s\n", t.Context.Plan.Approach)
	}
	if t.Context.TestsPassed != nil {
		status := "failing"
		if *t.Context.TestsPassed {
			status = "passing"
		}
		fmt.Fprintf(&sb, "\n## Tests\n\nTest run %s at time of PR creation.\n", status)
	}
	if ref := issueRef(t.Context.ThreadRef); ref != "" {
		fmt.Fprintf(&sb, "\nCloses %s\n", ref)
	}
	return sb.String()
}
