package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps the archive for the life of the process.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
	seen    map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string][]Record),
		seen:    make(map[string]struct{}),
	}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if _, dup := s.seen[record.ID]; dup {
		return nil
	}
	if record.SentAt.IsZero() {
		record.SentAt = time.Now().UTC()
	}
	s.seen[record.ID] = struct{}{}
	s.records[record.IssueID] = append(s.records[record.IssueID], record)
	return nil
}

func (s *InMemoryStore) Turns(_ context.Context, issueID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[issueID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Record, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
