package apiclient

import (
	"context"
	"sync"
)

// Mock records every Send call and returns a scripted Response/error,
// letting handler tests assert on POST ordering and payload shape
// without a live HTTP server.
type Mock struct {
	mu    sync.Mutex
	calls []Request

	// Responder, if set, is called for each Send to compute the result.
	// Otherwise DefaultResponse/DefaultErr apply to every call.
	Responder      func(req Request) (Response, error)
	DefaultResponse Response
	DefaultErr      error
}

func NewMock() *Mock {
	return &Mock{DefaultResponse: Response{Success: true}}
}

func (m *Mock) Send(_ context.Context, req Request) (Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	responder := m.Responder
	m.mu.Unlock()

	if responder != nil {
		return responder(req)
	}
	return m.DefaultResponse, m.DefaultErr
}

// Calls returns every request Send received so far, in order.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}
