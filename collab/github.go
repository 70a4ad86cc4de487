package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// GitHub implements Client via the gh CLI. Authentication and host
// selection are whatever gh is configured with.
type GitHub struct {
	workDir string
	logger  *slog.Logger
}

// NewGitHub creates a GitHub client. workDir is the directory gh runs in;
// empty means the process working directory.
func NewGitHub(workDir string, logger *slog.Logger) *GitHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHub{workDir: workDir, logger: logger}
}

// CreateThread opens a GitHub issue and returns its ref.
func (g *GitHub) CreateThread(ctx context.Context, repo, title, body string, labels []string) (ThreadRef, error) {
	args := []string{"issue", "create", "--repo", repo, "--title", title, "--body", body}
	for _, label := range labels {
		args = append(args, "--label", label)
	}

	output, err := g.runGH(ctx, args...)
	if err != nil {
		return ThreadRef{}, classifyGHError("create issue", output, err)
	}

	// gh prints the issue URL: https://github.com/owner/repo/issues/123
	url := strings.TrimSpace(output)
	number := extractIssueNumber(url)
	if number == 0 {
		return ThreadRef{}, fmt.Errorf("create issue: could not parse issue number from %q", url)
	}

	g.logger.Info("Created thread", "repo", repo, "number", number)
	return ThreadRef{Repo: repo, Number: number}, nil
}

// PostComment adds a comment to an issue.
func (g *GitHub) PostComment(ctx context.Context, ref ThreadRef, body string) (CommentRef, error) {
	output, err := g.runGH(ctx, "issue", "comment", strconv.Itoa(ref.Number),
		"--repo", ref.Repo, "--body", body)
	if err != nil {
		return CommentRef{}, classifyGHError("post comment", output, err)
	}

	// gh prints the comment URL ending in #issuecomment-<id>
	url := strings.TrimSpace(output)
	return CommentRef{ID: extractCommentID(url), URL: url}, nil
}

// AddLabels applies labels to an issue.
func (g *GitHub) AddLabels(ctx context.Context, ref ThreadRef, labels ...string) error {
	if len(labels) == 0 {
		return nil
	}

	args := []string{"issue", "edit", strconv.Itoa(ref.Number), "--repo", ref.Repo}
	for _, label := range labels {
		args = append(args, "--add-label", label)
	}

	output, err := g.runGH(ctx, args...)
	if err != nil {
		return classifyGHError("add labels", output, err)
	}
	return nil
}

// CreatePullRequest opens a PR from head into base and returns its URL.
func (g *GitHub) CreatePullRequest(ctx context.Context, repo, head, base, title, body string) (string, error) {
	output, err := g.runGH(ctx, "pr", "create", "--repo", repo,
		"--head", head, "--base", base, "--title", title, "--body", body)
	if err != nil {
		return "", classifyGHError("create pull request", output, err)
	}
	return strings.TrimSpace(output), nil
}

// ViewThread fetches an issue's current state as raw JSON.
func (g *GitHub) ViewThread(ctx context.Context, ref ThreadRef) (json.RawMessage, error) {
	output, err := g.runGH(ctx, "issue", "view", strconv.Itoa(ref.Number),
		"--repo", ref.Repo, "--json", "number,title,state,body,url,labels")
	if err != nil {
		return nil, classifyGHError("view issue", output, err)
	}
	return json.RawMessage(output), nil
}

// runGH executes a gh command in the work directory.
func (g *GitHub) runGH(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = g.workDir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: %s", err, string(output))
	}
	return string(output), nil
}

// classifyGHError maps gh CLI failures onto the package error taxonomy.
// gh reports failures as text, so classification is by output inspection.
func classifyGHError(op, output string, err error) error {
	lower := strings.ToLower(output)

	switch {
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "secondary rate"):
		return &RateLimitError{RetryAfter: time.Minute, err: fmt.Errorf("%s: %w", op, err)}
	case strings.Contains(lower, "could not resolve"), strings.Contains(lower, "not found"),
		strings.Contains(lower, "404"):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case strings.Contains(lower, "authentication"), strings.Contains(lower, "auth login"),
		strings.Contains(lower, "bad credentials"), strings.Contains(lower, "401"):
		return &AuthError{err: fmt.Errorf("%s: %w", op, err)}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// extractIssueNumber extracts the issue number from a GitHub issue URL.
func extractIssueNumber(url string) int {
	// URL format: https://github.com/owner/repo/issues/123
	parts := strings.Split(url, "/")
	if len(parts) == 0 {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
	return n
}

// extractCommentID extracts the comment ID from a comment URL fragment.
func extractCommentID(url string) int64 {
	const marker = "#issuecomment-"
	idx := strings.LastIndex(url, marker)
	if idx < 0 {
		return 0
	}
	id, _ := strconv.ParseInt(url[idx+len(marker):], 10, 64)
	return id
}
