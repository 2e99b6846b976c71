package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient provides a controllable Client implementation for testing.
// Each call consumes the next scripted outcome: a non-nil error fails the
// call, otherwise the next scripted event sequence (or response) is served.
type MockClient struct {
	mu        sync.Mutex
	responses []Response
	events    [][]Event
	errors    []error
	calls     int
}

// NewMockClient creates a mock that serves the given responses in order.
// Stream calls convert each response into a single text event followed by
// EventDone.
func NewMockClient(responses []Response, errs []error) *MockClient {
	return &MockClient{
		responses: responses,
		errors:    errs,
	}
}

// NewMockStreamClient creates a mock that serves full scripted event
// sequences, one per Stream call.
func NewMockStreamClient(events [][]Event, errs []error) *MockClient {
	return &MockClient{
		events: events,
		errors: errs,
	}
}

// Calls returns how many times the mock has been invoked.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// nextError pops the scripted error for the current call, if any.
// Caller must hold m.mu.
func (m *MockClient) nextError(call int) error {
	if call < len(m.errors) {
		return m.errors[call]
	}
	return nil
}

// Complete returns the next scripted response or error.
func (m *MockClient) Complete(_ context.Context, _ Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.calls
	m.calls++

	if err := m.nextError(call); err != nil {
		return Response{}, err
	}

	idx := m.successIndex(call)
	if idx >= len(m.responses) {
		return Response{}, fmt.Errorf("mock client: no more responses")
	}
	return m.responses[idx], nil
}

// Stream returns a channel serving the next scripted event sequence.
func (m *MockClient) Stream(_ context.Context, _ Request) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.calls
	m.calls++

	if err := m.nextError(call); err != nil {
		return nil, err
	}

	idx := m.successIndex(call)

	var sequence []Event
	switch {
	case m.events != nil:
		if idx >= len(m.events) {
			return nil, fmt.Errorf("mock client: no more event sequences")
		}
		sequence = m.events[idx]
	default:
		if idx >= len(m.responses) {
			return nil, fmt.Errorf("mock client: no more responses")
		}
		sequence = []Event{
			{Kind: EventText, Text: m.responses[idx].Content},
			{Kind: EventDone},
		}
	}

	ch := make(chan Event, len(sequence))
	for _, ev := range sequence {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// ModelName implements Client.
func (m *MockClient) ModelName() string {
	return "mock"
}

// successIndex maps an absolute call number to an index into the scripted
// success outcomes, skipping calls that were consumed by scripted errors.
// Caller must hold m.mu.
func (m *MockClient) successIndex(call int) int {
	idx := 0
	for i := 0; i < call && i < len(m.errors); i++ {
		if m.errors[i] == nil {
			idx++
		}
	}
	if call >= len(m.errors) {
		idx += call - len(m.errors)
	}
	return idx
}

var _ Client = (*MockClient)(nil)
