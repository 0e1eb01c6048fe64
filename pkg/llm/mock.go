package llm

import (
	"context"
	"sync"
)

// MockClient is a scriptable Client for tests. Responses and errors are
// consumed in order; when the script runs out the last response repeats.
type MockClient struct {
	mu        sync.Mutex
	responses []Response
	errors    []error
	requests  []Request
	calls     int
}

// NewMockClient creates a mock that returns the given responses in order.
func NewMockClient(responses ...Response) *MockClient {
	return &MockClient{responses: responses}
}

// NewMockClientWithText is a convenience for single-text-response mocks.
func NewMockClientWithText(texts ...string) *MockClient {
	responses := make([]Response, len(texts))
	for i, t := range texts {
		responses[i] = Response{Content: t, Usage: Usage{InputTokens: 10, OutputTokens: 10}}
	}
	return &MockClient{responses: responses}
}

// QueueError schedules err to be returned for the call at the given position
// in the script (before any remaining responses are consumed).
func (m *MockClient) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}

// Complete implements Client.
func (m *MockClient) Complete(_ context.Context, req Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	m.calls++

	if len(m.errors) > 0 {
		err := m.errors[0]
		m.errors = m.errors[1:]
		return Response{}, err
	}
	if len(m.responses) == 0 {
		return Response{}, NewError(ErrorTypeEmptyResponse, "mock has no scripted responses")
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

// ModelName implements Client.
func (m *MockClient) ModelName() string {
	return "mock"
}

// Calls returns how many times Complete was invoked.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of all requests seen so far.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}
