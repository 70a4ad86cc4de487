package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360studio/taskpilot/agent"
	_ "github.com/c360studio/taskpilot/agent/providers" // Register providers
	"github.com/c360studio/taskpilot/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAISuccess(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-123",
		"object":  "chat.completion",
		"created": 1677652288,
		"model":   "test-model",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     10,
			"completion_tokens": 8,
			"total_tokens":      18,
		},
	}
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAISuccess("Hello! How can I help you?"))
	}))
	defer server.Close()

	client := agent.NewClient(agent.Endpoint{
		Provider: "ollama",
		URL:      server.URL,
		Model:    "test-model",
	})

	resp, err := client.Complete(context.Background(), agent.Request{
		Messages: []agent.Message{
			{Role: "user", Content: "Hello"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello! How can I help you?", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestClient_Complete_RetryOnTransientError(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("service temporarily unavailable"))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAISuccess("recovered"))
	}))
	defer server.Close()

	client := agent.NewClient(agent.Endpoint{
		Provider: "ollama",
		URL:      server.URL,
		Model:    "test-model",
	}, agent.WithRetryConfig(retry.Config{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        10 * time.Millisecond,
	}))

	resp, err := client.Complete(context.Background(), agent.Request{
		Messages: []agent.Message{{Role: "user", Content: "Hello"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_Complete_FatalErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid api key"))
	}))
	defer server.Close()

	client := agent.NewClient(agent.Endpoint{
		Provider: "ollama",
		URL:      server.URL,
		Model:    "test-model",
	}, agent.WithRetryConfig(retry.Config{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        10 * time.Millisecond,
	}))

	_, err := client.Complete(context.Background(), agent.Request{
		Messages: []agent.Message{{Role: "user", Content: "Hello"}},
	})

	require.Error(t, err)
	assert.True(t, agent.IsFatal(err))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestClient_Complete_RequiresMessages(t *testing.T) {
	client := agent.NewClient(agent.Endpoint{Provider: "ollama", Model: "test-model"})

	_, err := client.Complete(context.Background(), agent.Request{})
	require.Error(t, err)
}

func TestClient_Complete_UnknownProvider(t *testing.T) {
	client := agent.NewClient(agent.Endpoint{Provider: "nope", Model: "test-model"})

	_, err := client.Complete(context.Background(), agent.Request{
		Messages: []agent.Message{{Role: "user", Content: "Hello"}},
	})
	require.Error(t, err)
	assert.True(t, agent.IsFatal(err))
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, agent.IsRetryable(agent.Transient(base)))
	assert.False(t, agent.IsFatal(agent.Transient(base)))
	assert.True(t, agent.IsFatal(agent.Fatal(base)))
	assert.False(t, agent.IsRetryable(base))
}
