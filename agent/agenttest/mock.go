// Package agenttest provides test utilities for the agent package.
package agenttest

import (
	"context"
	"sync"

	"github.com/c360studio/taskpilot/agent"
)

// MockInvoker is a thread-safe scripted agent for testing.
// It returns configured responses in sequence and records every request,
// so tests can assert on the prompts the engine built.
type MockInvoker struct {
	mu            sync.Mutex
	Responses     []*agent.Response // Responses to return in sequence
	Err           error             // Error to return (takes precedence over Responses)
	requests      []agent.Request
	responseIndex int
}

// Complete implements agent.Invoker.
// Returns the next response from Responses, or Err if set.
func (m *MockInvoker) Complete(_ context.Context, req agent.Request) (*agent.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if m.Err != nil {
		return nil, m.Err
	}

	if m.responseIndex < len(m.Responses) {
		resp := m.Responses[m.responseIndex]
		m.responseIndex++
		return resp, nil
	}

	// Default response if no responses configured
	return &agent.Response{Content: "", Model: "test-model"}, nil
}

// Script appends a plain-text response to the mock's response sequence.
func (m *MockInvoker) Script(content string) *MockInvoker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, &agent.Response{Content: content, Model: "test-model"})
	return m
}

// Requests returns a copy of all requests seen so far.
func (m *MockInvoker) Requests() []agent.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]agent.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns the number of times Complete was called.
func (m *MockInvoker) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Reset clears recorded requests and rewinds the response sequence.
func (m *MockInvoker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.responseIndex = 0
}
