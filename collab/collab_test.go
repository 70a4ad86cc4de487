package collab

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyGHError(t *testing.T) {
	base := errors.New("exit status 1")

	tests := []struct {
		name   string
		output string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "rate limit",
			output: "GraphQL: API rate limit exceeded",
			check: func(t *testing.T, err error) {
				var rl *RateLimitError
				assert.True(t, errors.As(err, &rl))
				assert.True(t, IsRetryable(err))
			},
		},
		{
			name:   "not found",
			output: "could not resolve to an Issue with the number of 999",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNotFound)
				assert.False(t, IsRetryable(err))
			},
		},
		{
			name:   "auth",
			output: "HTTP 401: Bad credentials",
			check: func(t *testing.T, err error) {
				var auth *AuthError
				assert.True(t, errors.As(err, &auth))
				assert.False(t, IsRetryable(err))
			},
		},
		{
			name:   "unknown is retryable",
			output: "dial tcp: connection reset by peer",
			check: func(t *testing.T, err error) {
				assert.True(t, IsRetryable(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, classifyGHError("op", tt.output, base))
		})
	}
}

func TestExtractIssueNumber(t *testing.T) {
	assert.Equal(t, 123, extractIssueNumber("https://github.com/acme/widgets/issues/123"))
	assert.Equal(t, 0, extractIssueNumber("not a url"))
}

func TestExtractCommentID(t *testing.T) {
	url := "https://github.com/acme/widgets/issues/12#issuecomment-456789"
	assert.Equal(t, int64(456789), extractCommentID(url))
	assert.Equal(t, int64(0), extractCommentID("https://github.com/acme/widgets/issues/12"))
}

func TestThreadRefString(t *testing.T) {
	ref := ThreadRef{Repo: "acme/widgets", Number: 42}
	assert.Equal(t, "acme/widgets#42", ref.String())
	assert.False(t, ref.IsZero())
	assert.True(t, ThreadRef{}.IsZero())
}
