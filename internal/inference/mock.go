package inference

import (
	"context"
	"sync"
)

// MockClient implements Client for testing purposes. It allows scripting
// response sequences, simulating errors, and tracking calls for
// verification.
type MockClient struct {
	mu sync.Mutex

	// Configured behavior
	responses []string
	respondFn func(req Request) (string, error)
	err       error
	available bool

	// Call tracking
	Calls []Request

	next int
}

// NewMockClient creates a new MockClient with default settings.
// By default it is available and returns empty responses.
func NewMockClient() *MockClient {
	return &MockClient{
		available: true,
		Calls:     make([]Request, 0),
	}
}

// WithResponses configures a sequence of responses returned in order.
// The last response repeats once the sequence is exhausted.
func (m *MockClient) WithResponses(responses ...string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.next = 0
	return m
}

// WithRespondFunc configures a function invoked per request, overriding any
// scripted responses.
func (m *MockClient) WithRespondFunc(fn func(req Request) (string, error)) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respondFn = fn
	return m
}

// WithError configures the error returned by Complete.
func (m *MockClient) WithError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithAvailable configures whether Available() returns true or false.
func (m *MockClient) WithAvailable(available bool) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
	return m
}

// Complete implements Client.Complete. It records the call and returns the
// configured response or error.
func (m *MockClient) Complete(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if m.err != nil {
		return "", m.err
	}

	if m.respondFn != nil {
		return m.respondFn(req)
	}

	if len(m.responses) == 0 {
		return "", nil
	}
	resp := m.responses[m.next]
	if m.next < len(m.responses)-1 {
		m.next++
	}
	return resp, nil
}

// Available implements Client.Available.
func (m *MockClient) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// CallCount returns the number of times Complete was called.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears all call tracking and configured behavior.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = nil
	m.respondFn = nil
	m.err = nil
	m.available = true
	m.next = 0
	m.Calls = make([]Request, 0)
}
