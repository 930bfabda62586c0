package repositories

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"househub-chat/internal/models"
)

func TestMemoryStoreHistoryIsOldestFirstAndLimited(t *testing.T) {
	s := NewMemoryMessageStore()
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		_, err := s.Append(ctx, models.ChatMessage{ID: fmt.Sprint(i), HouseID: "h1"})
		require.NoError(t, err)
	}
	_, err := s.Append(ctx, models.ChatMessage{ID: "other", HouseID: "h2"})
	require.NoError(t, err)

	msgs, err := s.RecentHistory(ctx, "h1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"3", "4", "5"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})

	empty, err := s.RecentHistory(ctx, "h3", 3)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	s := NewMemoryMessageStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Append(ctx, models.ChatMessage{ID: "1", HouseID: "h1"})
	assert.ErrorIs(t, err, ErrStore)
}
