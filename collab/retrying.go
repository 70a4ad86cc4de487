package collab

import (
	"context"

	"github.com/c360studio/taskpilot/retry"
)

// retrying wraps a Client so every call is retried with backoff while
// IsRetryable holds. Rate limits and transient host failures get bounded
// retries; auth and not-found errors fail immediately.
type retrying struct {
	inner Client
	cfg   retry.Config
}

// WithRetry decorates a client with the shared retry policy. Callers get a
// Client; individual call sites never carry their own retry loops.
func WithRetry(inner Client, cfg retry.Config) Client {
	return &retrying{inner: inner, cfg: cfg}
}

func (r *retrying) CreateThread(ctx context.Context, repo, title, body string, labels []string) (ThreadRef, error) {
	var ref ThreadRef
	err := retry.Do(ctx, r.cfg, IsRetryable, func() error {
		var doErr error
		ref, doErr = r.inner.CreateThread(ctx, repo, title, body, labels)
		return doErr
	})
	return ref, err
}

func (r *retrying) PostComment(ctx context.Context, ref ThreadRef, body string) (CommentRef, error) {
	var comment CommentRef
	err := retry.Do(ctx, r.cfg, IsRetryable, func() error {
		var doErr error
		comment, doErr = r.inner.PostComment(ctx, ref, body)
		return doErr
	})
	return comment, err
}

func (r *retrying) AddLabels(ctx context.Context, ref ThreadRef, labels ...string) error {
	return retry.Do(ctx, r.cfg, IsRetryable, func() error {
		return r.inner.AddLabels(ctx, ref, labels...)
	})
}

func (r *retrying) CreatePullRequest(ctx context.Context, repo, head, base, title, body string) (string, error) {
	var url string
	err := retry.Do(ctx, r.cfg, IsRetryable, func() error {
		var doErr error
		url, doErr = r.inner.CreatePullRequest(ctx, repo, head, base, title, body)
		return doErr
	})
	return url, err
}
