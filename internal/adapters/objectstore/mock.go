package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// Mock is an in-memory Store for tests and for local development without
// an S3-compatible backend. Round-tripping bytes through Put/Get must be
// bit-exact (spec §8), which a plain byte-slice map gives for free.
type Mock struct {
	layout KeyLayout

	mu   sync.Mutex
	data map[string][]byte
}

func NewMock(layout KeyLayout) *Mock {
	return &Mock{layout: layout, data: make(map[string][]byte)}
}

func (m *Mock) Put(_ context.Context, name string, data []byte) (string, error) {
	key := m.layout.Build(name)
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = cp
	return key, nil
}

func (m *Mock) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("objectstore: mock: key %q not found", key)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

func (m *Mock) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	b, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *Mock) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
