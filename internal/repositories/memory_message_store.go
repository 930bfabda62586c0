package repositories

import (
	"context"
	"sync"

	"househub-chat/internal/models"
)

// MemoryMessageStore keeps messages in process memory. It backs local
// development and tests; nothing survives a restart.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string][]models.ChatMessage
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{messages: make(map[string][]models.ChatMessage)}
}

func (s *MemoryMessageStore) RecentHistory(ctx context.Context, houseID string, limit int) ([]models.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("memory history", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[houseID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]models.ChatMessage, len(all))
	copy(out, all)
	return out, nil
}

func (s *MemoryMessageStore) Append(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return models.ChatMessage{}, storeError("memory append", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.HouseID] = append(s.messages[msg.HouseID], msg)
	return msg, nil
}
