package collab

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/c360studio/taskpilot/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyClient fails each call with the scripted errors, in order, before
// succeeding.
type flakyClient struct {
	errs  []error
	calls int
}

func (f *flakyClient) next() error {
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *flakyClient) CreateThread(context.Context, string, string, string, []string) (ThreadRef, error) {
	if err := f.next(); err != nil {
		return ThreadRef{}, err
	}
	return ThreadRef{Repo: "acme/widgets", Number: 7}, nil
}

func (f *flakyClient) PostComment(context.Context, ThreadRef, string) (CommentRef, error) {
	if err := f.next(); err != nil {
		return CommentRef{}, err
	}
	return CommentRef{ID: 1}, nil
}

func (f *flakyClient) AddLabels(context.Context, ThreadRef, ...string) error {
	return f.next()
}

func (f *flakyClient) CreatePullRequest(context.Context, string, string, string, string, string) (string, error) {
	if err := f.next(); err != nil {
		return "", err
	}
	return "https://github.com/acme/widgets/pull/1", nil
}

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func TestWithRetry_RateLimitedPullRequestSucceeds(t *testing.T) {
	inner := &flakyClient{errs: []error{
		&RateLimitError{RetryAfter: time.Second, err: errors.New("slow down")},
		&RateLimitError{RetryAfter: time.Second, err: errors.New("slow down")},
	}}
	client := WithRetry(inner, fastRetry())

	url, err := client.CreatePullRequest(context.Background(), "acme/widgets", "feature/x", "main", "title", "body")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets/pull/1", url)
	assert.Equal(t, 3, inner.calls)
}

func TestWithRetry_AuthErrorNotRetried(t *testing.T) {
	inner := &flakyClient{errs: []error{
		&AuthError{err: errors.New("bad token")},
	}}
	client := WithRetry(inner, fastRetry())

	_, err := client.PostComment(context.Background(), ThreadRef{Repo: "acme/widgets", Number: 7}, "hi")
	require.Error(t, err)
	var auth *AuthError
	assert.ErrorAs(t, err, &auth)
	assert.Equal(t, 1, inner.calls)
}

func TestWithRetry_NotFoundNotRetried(t *testing.T) {
	inner := &flakyClient{errs: []error{ErrNotFound}}
	client := WithRetry(inner, fastRetry())

	err := client.AddLabels(context.Background(), ThreadRef{Repo: "acme/widgets", Number: 7}, "taskpilot")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, inner.calls)
}
