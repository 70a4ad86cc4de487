package engine

import (
	"strings"
	"testing"

	"github.com/c360studio/taskpilot/task"
	"github.com/c360studio/taskpilot/workspace"
)

func TestBranchName(t *testing.T) {
	feature := &task.Task{ID: "t-abc12345", Description: "Add pagination to the listing endpoint"}
	name := BranchName(feature)
	if !strings.HasPrefix(name, "feature/") {
		t.Errorf("expected feature/ prefix, got %q", name)
	}
	if !strings.HasSuffix(name, "-abc12345") {
		t.Errorf("expected task-id suffix, got %q", name)
	}

	bugfix := &task.Task{ID: "t-def67890", Description: "Fix crash when the result set is empty"}
	if got := BranchName(bugfix); !strings.HasPrefix(got, "bugfix/") {
		t.Errorf("expected bugfix/ prefix, got %q", got)
	}

	// Deterministic: same inputs, same name.
	if BranchName(feature) != name {
		t.Error("branch name is not deterministic")
	}

	// Bounded: a long description never produces an unbounded slug.
	long := &task.Task{ID: "t-lng00001", Description: strings.Repeat("very long description ", 20)}
	if got := BranchName(long); len(got) > len("feature/")+maxSlugLength+len("-lng00001")+1 {
		t.Errorf("branch name too long: %q", got)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Add a /goodbye endpoint!", "add-a-goodbye-endpoint"},
		{"  spaces   everywhere  ", "spaces-everywhere"},
		{"ALL CAPS", "all-caps"},
		{"---", ""},
	}
	for _, tt := range tests {
		if got := slugify(tt.in, 40); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCommitMessage(t *testing.T) {
	tk := &task.Task{ID: "t-abc12345", Description: "Fix crash in empty result handling"}
	tk.Context.ThreadRef = "acme/widgets#42"

	msg := CommitMessage(tk)
	if !strings.HasPrefix(msg, "fix: ") {
		t.Errorf("expected fix: prefix, got %q", msg)
	}
	if !strings.Contains(msg, "#42") {
		t.Errorf("expected issue reference, got %q", msg)
	}
	if !workspace.ValidateConventionalCommit(msg) {
		t.Errorf("not a conventional commit: %q", msg)
	}

	feat := CommitMessage(&task.Task{ID: "t-x", Description: "Add pagination"})
	if !strings.HasPrefix(feat, "feat: ") {
		t.Errorf("expected feat: prefix, got %q", feat)
	}
	if !workspace.ValidateConventionalCommit(feat) {
		t.Errorf("not a conventional commit: %q", feat)
	}
}

func TestRequiresVerification(t *testing.T) {
	p := DefaultPolicy()

	smallPlan := &task.Plan{Files: []string{"a.go"}, Raw: "add one handler"}
	if p.RequiresVerification("Add a goodbye endpoint", smallPlan) {
		t.Error("small riskless plan should not require verification")
	}

	if !p.RequiresVerification("Improve security of sessions", smallPlan) {
		t.Error("risk keyword in description should require verification")
	}

	riskyPlan := &task.Plan{Files: []string{"a.go"}, Raw: "this needs a database migration"}
	if !p.RequiresVerification("Add a goodbye endpoint", riskyPlan) {
		t.Error("risk keyword in plan should require verification")
	}

	widePlan := &task.Plan{Files: []string{"a.go", "b.go", "c.go", "d.go"}, Raw: "touch four spots"}
	if !p.RequiresVerification("Add a goodbye endpoint", widePlan) {
		t.Error("plan exceeding the file threshold should require verification")
	}

	longRisks := &task.Plan{Files: []string{"a.go"}, Risks: strings.Repeat("r", 250), Raw: "ok"}
	if !p.RequiresVerification("Add a goodbye endpoint", longRisks) {
		t.Error("long risks section should require verification")
	}
}
