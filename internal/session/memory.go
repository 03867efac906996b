package session

import (
	"context"
	"sync"
)

// MemoryBackend keeps the session in process memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string][]byte)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (b *MemoryBackend) Apply(_ context.Context, puts map[string][]byte, deletes []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range deletes {
		delete(b.values, k)
	}
	for k, v := range puts {
		c := make([]byte, len(v))
		copy(c, v)
		b.values[k] = c
	}
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
