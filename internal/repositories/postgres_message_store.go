package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"househub-chat/internal/models"
)

// PostgresMessageStore is a sqlx-backed MessageStore.
type PostgresMessageStore struct {
	db *sqlx.DB
}

// NewPostgresMessageStore constructs PostgresMessageStore.
func NewPostgresMessageStore(db *sqlx.DB) *PostgresMessageStore {
	return &PostgresMessageStore{db: db}
}

// RecentHistory returns the latest messages of a household, oldest first.
func (r *PostgresMessageStore) RecentHistory(ctx context.Context, houseID string, limit int) ([]models.ChatMessage, error) {
	query := `SELECT id, house_id, user_id, username, message, created_at FROM (
            SELECT seq, id, house_id, user_id, username, message, created_at
            FROM chat_messages
            WHERE house_id=$1
            ORDER BY seq DESC
            LIMIT $2
        ) recent
        ORDER BY seq ASC`
	msgs := []models.ChatMessage{}
	if err := r.db.SelectContext(ctx, &msgs, query, houseID, limit); err != nil {
		return nil, storeError("postgres select history", err)
	}
	return msgs, nil
}

// Append stores a message and returns the row as written.
func (r *PostgresMessageStore) Append(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	var stored models.ChatMessage
	err := r.db.QueryRowxContext(ctx, `INSERT INTO chat_messages (id, house_id, user_id, username, message, created_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, house_id, user_id, username, message, created_at`,
		msg.ID, msg.HouseID, msg.UserID, msg.Username, msg.Message, msg.Timestamp.UTC()).
		StructScan(&stored)
	if err != nil {
		return models.ChatMessage{}, storeError("postgres insert message", err)
	}
	return stored, nil
}
