// Package agent provides a provider-agnostic client for invoking coding
// agents over HTTP, with retry support and structured-output helpers.
package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/taskpilot/retry"
)

// maxResponseSize limits the agent response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Request defines an agent completion request.
type Request struct {
	// Messages is the chat history to send to the agent.
	Messages []Message

	// Temperature controls randomness. nil uses endpoint default, 0 is deterministic.
	Temperature *float64

	// MaxTokens limits response length. 0 uses endpoint default.
	MaxTokens int
}

// TokenUsage represents token consumption details for an agent call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the agent completion result.
type Response struct {
	// Content is the generated text.
	Content string

	// Model is the actual model that was used.
	Model string

	// Usage contains token consumption metrics, when the provider reports them.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// Invoker is the interface the workflow engine uses to call an agent.
// Client implements it; agenttest provides a scripted mock.
type Invoker interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Endpoint describes how to reach a single agent backend.
type Endpoint struct {
	Provider    string   `json:"provider" yaml:"provider"`
	URL         string   `json:"url,omitempty" yaml:"url,omitempty"`
	Model       string   `json:"model" yaml:"model"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
}

// Client is a provider-agnostic agent client with retry support.
type Client struct {
	endpoint    Endpoint
	httpClient  *http.Client
	retryConfig retry.Config
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg retry.Config) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a new agent client for the given endpoint.
func NewClient(endpoint Endpoint, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		retryConfig: retry.DefaultConfig(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for long agent responses
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Complete sends a completion request, retrying transient failures.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	// Endpoint defaults apply when the request leaves them unset.
	if req.Temperature == nil {
		req.Temperature = c.endpoint.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.endpoint.MaxTokens
	}

	var resp *Response
	err := retry.Do(ctx, c.retryConfig, IsRetryable, func() error {
		var doErr error
		resp, doErr = c.doRequest(ctx, req)
		return doErr
	})
	if err != nil {
		return nil, fmt.Errorf("agent request failed (provider %s): %w", c.endpoint.Provider, err)
	}
	return resp, nil
}

// doRequest executes a single HTTP request to the agent endpoint.
func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	provider, ok := LookupProvider(c.endpoint.Provider)
	if !ok {
		return nil, Fatal(fmt.Errorf("unknown provider: %s", c.endpoint.Provider))
	}

	url := provider.BuildURL(c.endpoint.URL)

	body, err := provider.BuildRequestBody(c.endpoint.Model, req.Messages, req.Temperature, req.MaxTokens)
	if err != nil {
		return nil, Fatal(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("Sending agent request",
		"provider", c.endpoint.Provider,
		"model", c.endpoint.Model,
		"url", url,
		"messages", len(req.Messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Fatal(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient
		return nil, Transient(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	// Read response body with size limit to prevent memory exhaustion
	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, Transient(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	return provider.ParseResponse(respBody, c.endpoint.Model)
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("agent API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		// Rate limiting is transient
		return Transient(err)
	case statusCode >= 500:
		// Server errors are transient
		return Transient(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		// Auth errors are fatal
		return Fatal(err)
	case statusCode == http.StatusBadRequest:
		// Bad requests are fatal
		return Fatal(err)
	default:
		// Unknown errors default to fatal
		return Fatal(err)
	}
}
