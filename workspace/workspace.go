// Package workspace runs git and shell commands inside a task's checked-out
// repository. The engine uses it for branch creation, commits, and test runs.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// ExecResult captures the outcome of a command run in the workspace.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes commands in a task workspace.
type Runner interface {
	// Exec runs a command and returns its result. A non-zero exit code is
	// reported in the result, not as an error; errors mean the command
	// could not run at all.
	Exec(ctx context.Context, name string, args ...string) (*ExecResult, error)

	// CreateBranch creates and switches to a branch, from base if non-empty.
	CreateBranch(ctx context.Context, name, base string) error

	// Commit stages all changes and commits with the given message.
	Commit(ctx context.Context, message string) error

	// CurrentBranch returns the checked-out branch name.
	CurrentBranch(ctx context.Context) (string, error)
}

// allowedProtocols for clone URLs.
var allowedProtocols = map[string]bool{
	"https": true,
	"git":   true,
	"ssh":   true,
}

// ValidateRepoURL checks that a git URL uses an allowed protocol.
func ValidateRepoURL(rawURL string) error {
	// SSH shorthand (git@github.com:owner/repo.git)
	if strings.HasPrefix(rawURL, "git@") {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !allowedProtocols[scheme] {
		return fmt.Errorf("protocol %q not allowed; must be https, git, or ssh", scheme)
	}

	return nil
}

// conventionalCommitPattern matches conventional commit format
var conventionalCommitPattern = regexp.MustCompile(`^(feat|fix|docs|style|refactor|test|chore|perf|ci|build|revert)(\([a-zA-Z0-9_-]+\))?: .+`)

// ValidateConventionalCommit checks if a message follows conventional commit format.
func ValidateConventionalCommit(message string) bool {
	return conventionalCommitPattern.MatchString(message)
}

// Local runs commands in a directory on the local filesystem.
type Local struct {
	root   string
	logger *slog.Logger
}

// NewLocal creates a runner rooted at dir.
func NewLocal(dir string, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{root: dir, logger: logger}
}

// Exec implements Runner.
func (l *Local) Exec(ctx context.Context, name string, args ...string) (*ExecResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = l.root

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("exec %s: %w", name, err)
	}

	return result, nil
}

// CreateBranch implements Runner. Switches to the branch if it already exists.
func (l *Local) CreateBranch(ctx context.Context, name, base string) error {
	if _, err := l.runGit(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name); err == nil {
		_, err := l.runGit(ctx, "checkout", name)
		return err
	}

	args := []string{"checkout", "-b", name}
	if base != "" {
		args = append(args, base)
	}
	_, err := l.runGit(ctx, args...)
	return err
}

// Commit implements Runner.
func (l *Local) Commit(ctx context.Context, message string) error {
	if !ValidateConventionalCommit(message) {
		return fmt.Errorf("commit message does not follow conventional format: %q", message)
	}

	if _, err := l.runGit(ctx, "add", "-A"); err != nil {
		return err
	}
	_, err := l.runGit(ctx, "commit", "-m", message)
	return err
}

// CurrentBranch implements Runner.
func (l *Local) CurrentBranch(ctx context.Context) (string, error) {
	out, err := l.runGit(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// runGit executes a git command in the workspace root.
func (l *Local) runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = l.root

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: %s", err, string(output))
	}
	return string(output), nil
}
