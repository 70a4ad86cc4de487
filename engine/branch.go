package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/taskpilot/task"
)

// fixKeywords mark a task as bug-fix work for branch and commit naming.
var fixKeywords = []string{"fix", "bug", "broken", "crash", "error", "regression", "defect"}

// maxSlugLength bounds the description part of a branch name.
const maxSlugLength = 40

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// isFixWork reports whether the description reads like bug-fix work.
func isFixWork(description string) bool {
	lower := strings.ToLower(description)
	for _, kw := range fixKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// BranchName derives a deterministic branch name from the task. The task ID
// suffix keeps branches unique across similar descriptions.
func BranchName(t *task.Task) string {
	prefix := "feature"
	if isFixWork(t.Description) {
		prefix = "bugfix"
	}

	slug := slugify(t.Description, maxSlugLength)
	if slug == "" {
		slug = "task"
	}

	return fmt.Sprintf("%s/%s-%s", prefix, slug, strings.TrimPrefix(t.ID, "t-"))
}

// slugify lowercases, replaces runs of non-alphanumerics with hyphens, and
// truncates to maxLen without leaving a trailing hyphen.
func slugify(s string, maxLen int) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(s), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxLen {
		slug = slug[:maxLen]
		slug = strings.TrimRight(slug, "-")
	}
	return slug
}

// CommitMessage builds a conventional-commit message for the task's changes,
// referencing the originating thread when known.
func CommitMessage(t *task.Task) string {
	kind := "feat"
	if isFixWork(t.Description) {
		kind = "fix"
	}

	summary := strings.TrimSpace(t.Description)
	if idx := strings.IndexAny(summary, "\r\n"); idx >= 0 {
		summary = summary[:idx]
	}
	if len(summary) > 60 {
		summary = strings.TrimSpace(summary[:60])
	}
	if summary == "" {
		summary = "apply task changes"
	}

	msg := fmt.Sprintf("%s: %s", kind, summary)
	if ref := issueRef(t.Context.ThreadRef); ref != "" {
		msg += fmt.Sprintf(" (%s)", ref)
	}
	return msg
}

// issueRef extracts "#N" from a thread ref like "owner/repo#N".
func issueRef(threadRef string) string {
	idx := strings.LastIndex(threadRef, "#")
	if idx < 0 || idx == len(threadRef)-1 {
		return ""
	}
	return threadRef[idx:]
}
