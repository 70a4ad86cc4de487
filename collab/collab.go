// Package collab abstracts the human collaboration surface: issue threads,
// comments, labels, and pull requests on a code host.
package collab

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ThreadRef identifies a conversation thread (a GitHub issue) where the
// coordinator talks to humans about a task.
type ThreadRef struct {
	Repo   string `json:"repo"`   // "owner/name"
	Number int    `json:"number"` // issue number
}

func (r ThreadRef) String() string {
	return fmt.Sprintf("%s#%d", r.Repo, r.Number)
}

// IsZero reports whether the ref has not been assigned.
func (r ThreadRef) IsZero() bool {
	return r.Repo == "" && r.Number == 0
}

// CommentRef identifies a posted comment.
type CommentRef struct {
	ID  int64  `json:"id,omitempty"`
	URL string `json:"url,omitempty"`
}

// Client is the collaboration surface the coordinator posts through.
type Client interface {
	// CreateThread opens a new conversation thread for a task.
	CreateThread(ctx context.Context, repo, title, body string, labels []string) (ThreadRef, error)

	// PostComment adds a comment to an existing thread.
	PostComment(ctx context.Context, ref ThreadRef, body string) (CommentRef, error)

	// AddLabels applies labels to a thread.
	AddLabels(ctx context.Context, ref ThreadRef, labels ...string) error

	// CreatePullRequest opens a PR and returns its URL.
	CreatePullRequest(ctx context.Context, repo, head, base, title, body string) (string, error)
}

// ErrNotFound indicates the thread or comment does not exist.
var ErrNotFound = errors.New("collab: not found")

// RateLimitError indicates the host rejected the call for rate limiting.
// Callers may retry after RetryAfter.
type RateLimitError struct {
	RetryAfter time.Duration
	err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("collab: rate limited (retry after %s): %v", e.RetryAfter, e.err)
}

func (e *RateLimitError) Unwrap() error {
	return e.err
}

// AuthError indicates missing or rejected credentials. Not retryable.
type AuthError struct {
	err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("collab: authentication failed: %v", e.err)
}

func (e *AuthError) Unwrap() error {
	return e.err
}

// IsRetryable reports whether the operation may succeed if repeated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var auth *AuthError
	if errors.As(err, &auth) {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	// Unknown failures (network, host hiccups) are worth one more try.
	return true
}
