// Package redisqueue is a redis/go-redis/v9-backed alternative implementation
// of mcpstorage.MessageStore, for deployments that want the per-session FIFO
// queue on Redis instead of Postgres (e.g. to offload high-churn queue
// traffic from the durable store). It implements only the message-queue
// slice of the contract; pair it with pgstore or memstore for the rest via
// mcpstorage.Store composition at the call site.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Queue is a Redis-backed mcpstorage.MessageStore. Each session's queue is a
// Redis list at key "mcp:queue:<sessionID>"; individual messages are
// JSON-encoded string values at "mcp:msg:<id>" so Delete can remove a
// specific message by ID without
// scanning the list.
type Queue struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps an existing *redis.Client. ttl bounds how long an unread message
// survives in Redis (0 disables expiry).
func New(rdb *redis.Client, ttl time.Duration) *Queue {
	return &Queue{rdb: rdb, ttl: ttl}
}

func queueKey(sessionID string) string { return "mcp:queue:" + sessionID }
func msgKey(id string) string          { return "mcp:msg:" + id }

func (q *Queue) Enqueue(ctx context.Context, sessionID string, payload json.RawMessage) (*mcpstorage.Message, error) {
	m := &mcpstorage.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, msgKey(m.ID), data, q.ttl)
	pipe.RPush(ctx, queueKey(sessionID), m.ID)
	if q.ttl > 0 {
		pipe.Expire(ctx, queueKey(sessionID), q.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redisqueue: enqueue: %w", err)
	}
	return m, nil
}

func (q *Queue) List(ctx context.Context, sessionID string) ([]*mcpstorage.Message, error) {
	ids, err := q.rdb.LRange(ctx, queueKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisqueue: list ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = msgKey(id)
	}
	raws, err := q.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redisqueue: mget: %w", err)
	}

	out := make([]*mcpstorage.Message, 0, len(raws))
	for i, raw := range raws {
		if raw == nil {
			// Message TTL'd out from under the list; drop the dangling id.
			q.rdb.LRem(ctx, queueKey(sessionID), 1, ids[i])
			continue
		}
		m := &mcpstorage.Message{}
		if err := json.Unmarshal([]byte(raw.(string)), m); err != nil {
			return nil, fmt.Errorf("redisqueue: decode message %s: %w", ids[i], err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (q *Queue) Delete(ctx context.Context, messageID string) error {
	raw, err := q.rdb.Get(ctx, msgKey(messageID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redisqueue: get for delete: %w", err)
	}
	m := &mcpstorage.Message{}
	if err := json.Unmarshal([]byte(raw), m); err != nil {
		return fmt.Errorf("redisqueue: decode for delete: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, msgKey(messageID))
	pipe.LRem(ctx, queueKey(m.SessionID), 1, messageID)
	_, err = pipe.Exec(ctx)
	return err
}

var _ mcpstorage.MessageStore = (*Queue)(nil)
