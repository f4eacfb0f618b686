package attachments

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"gastos/internal/core"
)

// MemoryBlobStore is an in-process BlobStore for tests and ephemeral runs.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, ctxReader{ctx: ctx, r: r})
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.blobs[key] = buf.Bytes()
	m.mu.Unlock()
	return n, nil
}

func (m *MemoryBlobStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	b, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("attachment %q: %w", key, core.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *MemoryBlobStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *MemoryBlobStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.blobs, key)
	m.mu.Unlock()
	return nil
}

// Len reports how many blobs are stored.
func (m *MemoryBlobStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
