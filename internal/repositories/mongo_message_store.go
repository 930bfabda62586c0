package repositories

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"househub-chat/internal/models"
)

const chatCollection = "chats"

// MongoMessageStore implements MessageStore on a MongoDB collection.
type MongoMessageStore struct {
	coll *mongo.Collection
}

// NewMongoMessageStore constructs MongoMessageStore.
func NewMongoMessageStore(db *mongo.Database) *MongoMessageStore {
	return &MongoMessageStore{coll: db.Collection(chatCollection)}
}

// EnsureIndexes creates the index backing the history query.
func (s *MongoMessageStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "houseID", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	return storeError("mongo create index", err)
}

// RecentHistory returns the latest messages of a household, oldest first.
func (s *MongoMessageStore) RecentHistory(ctx context.Context, houseID string, limit int) ([]models.ChatMessage, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.coll.Find(ctx, bson.M{"houseID": houseID}, opts)
	if err != nil {
		return nil, storeError("mongo find history", err)
	}
	msgs := []models.ChatMessage{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, storeError("mongo decode history", err)
	}
	reverse(msgs)
	return msgs, nil
}

// Append inserts one message document.
func (s *MongoMessageStore) Append(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	msg.Timestamp = msg.Timestamp.UTC()
	if _, err := s.coll.InsertOne(ctx, msg); err != nil {
		return models.ChatMessage{}, storeError("mongo insert message", err)
	}
	return msg, nil
}
