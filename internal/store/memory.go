package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/duetlabs/duet/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore implements ConversationStore in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	logs  map[string][]domain.Message
	order []string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]domain.Message)}
}

// Ping implements ConversationStore.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements ConversationStore.
func (s *MemoryStore) Close() error { return nil }

// CreateConversation implements ConversationStore.
func (s *MemoryStore) CreateConversation(context.Context) (string, error) {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[id] = []domain.Message{}
	s.order = append(s.order, id)
	return id, nil
}

// AppendMessages implements ConversationStore.
func (s *MemoryStore) AppendMessages(_ context.Context, id string, msgs []domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	for _, m := range msgs {
		log = append(log, m.Clone())
	}
	s.logs[id] = log
	return nil
}

// LoadMessages implements ConversationStore.
func (s *MemoryStore) LoadMessages(_ context.Context, id string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.logs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	out := make([]domain.Message, len(log))
	for i, m := range log {
		out[i] = m.Clone()
	}
	return out, nil
}

// LatestConversationID implements ConversationStore.
func (s *MemoryStore) LatestConversationID(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return "", nil
	}
	return s.order[len(s.order)-1], nil
}
