package repositories

import (
	"context"
	"errors"
	"fmt"

	"househub-chat/internal/models"
)

// ErrStore marks every failure of the persistence engine.
var ErrStore = errors.New("message store unavailable")

// StoreError wraps an engine failure. errors.Is(err, ErrStore) holds for it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrStore, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// MessageStore persists household chat messages. Messages are immutable once written.
type MessageStore interface {
	// RecentHistory returns at most limit messages, oldest first.
	RecentHistory(ctx context.Context, houseID string, limit int) ([]models.ChatMessage, error)
	// Append persists msg and returns the stored record.
	Append(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error)
}

func reverse(msgs []models.ChatMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
