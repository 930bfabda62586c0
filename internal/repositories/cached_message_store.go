package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"househub-chat/internal/models"
)

const historyCacheTTL = 10 * time.Minute

// CachedMessageStore keeps the tail of each household's history in a Redis
// list in front of another MessageStore. The wrapped store stays the source
// of truth; cache failures are logged and never returned.
type CachedMessageStore struct {
	next     MessageStore
	client   redis.Cmdable
	capacity int
	log      zerolog.Logger
}

// NewCachedMessageStore wraps next with a Redis cache holding capacity messages per household.
func NewCachedMessageStore(next MessageStore, client redis.Cmdable, capacity int, log zerolog.Logger) *CachedMessageStore {
	return &CachedMessageStore{next: next, client: client, capacity: capacity, log: log}
}

func historyKey(houseID string) string {
	return "chat:history:" + houseID
}

// RecentHistory serves from the cache when it can hold the request, falling back to the store.
func (c *CachedMessageStore) RecentHistory(ctx context.Context, houseID string, limit int) ([]models.ChatMessage, error) {
	if limit <= c.capacity {
		if msgs, ok := c.cached(ctx, houseID, limit); ok {
			return msgs, nil
		}
	}

	msgs, err := c.next.RecentHistory(ctx, houseID, max(limit, c.capacity))
	if err != nil {
		return nil, err
	}
	c.fill(ctx, houseID, msgs)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Append writes through to the store, then extends an existing cache entry.
func (c *CachedMessageStore) Append(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	stored, err := c.next.Append(ctx, msg)
	if err != nil {
		return models.ChatMessage{}, err
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		c.log.Warn().Err(err).Msg("history cache encode failed")
		return stored, nil
	}
	key := historyKey(stored.HouseID)
	_, err = c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPushX(ctx, key, raw)
		p.LTrim(ctx, key, int64(-c.capacity), -1)
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("house_id", stored.HouseID).Msg("history cache append failed")
	}
	return stored, nil
}

func (c *CachedMessageStore) cached(ctx context.Context, houseID string, limit int) ([]models.ChatMessage, bool) {
	raws, err := c.client.LRange(ctx, historyKey(houseID), int64(-limit), -1).Result()
	if err != nil {
		c.log.Warn().Err(err).Str("house_id", houseID).Msg("history cache read failed")
		return nil, false
	}
	if len(raws) == 0 {
		return nil, false
	}
	msgs := make([]models.ChatMessage, 0, len(raws))
	for _, raw := range raws {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			c.log.Warn().Err(err).Str("house_id", houseID).Msg("history cache entry corrupt")
			return nil, false
		}
		msgs = append(msgs, msg)
	}
	return msgs, true
}

func (c *CachedMessageStore) fill(ctx context.Context, houseID string, msgs []models.ChatMessage) {
	if len(msgs) == 0 {
		return
	}
	values := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			return
		}
		values = append(values, raw)
	}
	key := historyKey(houseID)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.RPush(ctx, key, values...)
		p.LTrim(ctx, key, int64(-c.capacity), -1)
		p.Expire(ctx, key, historyCacheTTL)
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("house_id", houseID).Msg("history cache fill failed")
	}
}
