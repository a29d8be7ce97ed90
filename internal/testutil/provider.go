package testutil

import (
	"context"
	"sync"
)

// MockProvider is a scripted text-generation provider for tests. Queued
// errors are returned before responses; once both queues are drained it
// returns Default.
type MockProvider struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string

	// Default is returned when the response queue is empty.
	Default string
}

// NewMockProvider creates a provider that replies with fallback once the
// queued responses run out.
func NewMockProvider(fallback string) *MockProvider {
	return &MockProvider{Default: fallback}
}

// QueueResponse appends a canned response.
func (m *MockProvider) QueueResponse(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, text)
}

// QueueError appends an error to return before any queued responses.
func (m *MockProvider) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

// Complete records the prompt and returns the next scripted result.
func (m *MockProvider) Complete(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	if len(m.responses) > 0 {
		resp := m.responses[0]
		m.responses = m.responses[1:]
		return resp, nil
	}
	return m.Default, nil
}

// Calls returns how many times Complete was invoked.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns a copy of every prompt seen, in order.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}
