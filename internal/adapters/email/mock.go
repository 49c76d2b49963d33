package email

import (
	"context"
	"sync"

	"github.com/priceleap/enq/internal/domain"
)

// Mock is the in-memory transport the test harness drives (spec §4.7:
// "additional test hooks: Seed, Clear, and IsProcessed"). Seeding an
// e-mail id that was already marked processed is a no-op for
// GetNewMessages, which is what gives the idempotence property in
// spec §8 ("re-seeding the same e-mail id after it was marked processed
// must not produce a second round of API calls").
type Mock struct {
	mu        sync.Mutex
	inbox     []domain.Email
	processed map[string]bool
	replies   []Reply
}

// Reply records one SendReply call for assertions in tests.
type Reply struct {
	EmailID string
	Body    string
}

func NewMock() *Mock {
	return &Mock{processed: make(map[string]bool)}
}

// Seed adds an e-mail to the inbox, filtering its attachments to CSVs
// per spec §3. A message whose id is already processed is not re-added.
func (m *Mock) Seed(msg domain.Email) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed[msg.ID] {
		return
	}
	msg.Attachments = FilterCSVAttachments(msg.Attachments)
	for i, existing := range m.inbox {
		if existing.ID == msg.ID {
			m.inbox[i] = msg
			return
		}
	}
	m.inbox = append(m.inbox, msg)
}

// Clear empties the inbox and processed set.
func (m *Mock) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox = nil
	m.processed = make(map[string]bool)
	m.replies = nil
}

// IsProcessed reports whether id has been marked processed.
func (m *Mock) IsProcessed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[id]
}

// Replies returns every SendReply call recorded so far, for assertions.
func (m *Mock) Replies() []Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Reply, len(m.replies))
	copy(out, m.replies)
	return out
}

func (m *Mock) GetNewMessages(_ context.Context) ([]domain.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Email
	for _, msg := range m.inbox {
		if !m.processed[msg.ID] {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *Mock) SendReply(_ context.Context, id, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, Reply{EmailID: id, Body: body})
	return nil
}

func (m *Mock) MarkProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[id] = true
	return nil
}

func (m *Mock) Identity() string { return "mock" }
