package rpc

import (
	"context"
	"fmt"
	"sync"
)

// MockHandler answers one request of a MockTransport.
type MockHandler func(ctx context.Context, req Request) (any, error)

// MockTransport implements Transport by delegating to a handler while
// recording every request for inspection. Results are passed through the wire
// codec so callers decode them as they would a real response.
type MockTransport struct {
	mu      sync.Mutex
	handler MockHandler
	calls   []Request
}

func NewMockTransport(h MockHandler) *MockTransport {
	return &MockTransport{handler: h}
}

// SetHandler swaps the handler for subsequent calls.
func (m *MockTransport) SetHandler(h MockHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *MockTransport) Invoke(ctx context.Context, req Request) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	h := m.handler
	m.mu.Unlock()

	if h == nil {
		return nil, fmt.Errorf("mock transport: no handler for %s %s", req.Service, req.Operation)
	}
	res, err := h(ctx, req)
	if err != nil {
		return nil, err
	}
	return normalize(res)
}

// Calls returns a snapshot of recorded requests in order.
func (m *MockTransport) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsTo returns the recorded requests for one service and operation.
func (m *MockTransport) CallsTo(service, operation string) []Request {
	var out []Request
	for _, c := range m.Calls() {
		if c.Service == service && c.Operation == operation {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the call log.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
