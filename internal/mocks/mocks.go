package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"househub-chat/internal/models"
	"househub-chat/internal/repositories"
)

type MessageStoreMock struct {
	mock.Mock
}

func (m *MessageStoreMock) RecentHistory(ctx context.Context, houseID string, limit int) ([]models.ChatMessage, error) {
	args := m.Called(ctx, houseID, limit)
	var msgs []models.ChatMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.ChatMessage)
	}
	return msgs, args.Error(1)
}

func (m *MessageStoreMock) Append(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	args := m.Called(ctx, msg)
	var stored models.ChatMessage
	if val := args.Get(0); val != nil {
		stored = val.(models.ChatMessage)
	}
	return stored, args.Error(1)
}

var _ repositories.MessageStore = (*MessageStoreMock)(nil)
