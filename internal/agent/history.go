package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/internal/tenant"
	"github.com/kailera/acertaia-api/pkg/logger"
)

// History keeps the recent turns of each conversation so an executor can
// answer in context.
type History interface {
	Load(ctx context.Context, conversationID string) ([]Message, error)
	Append(ctx context.Context, conversationID string, turns ...Message) error
}

// NoopHistory remembers nothing. Used when redis is disabled.
type NoopHistory struct{}

func (NoopHistory) Load(context.Context, string) ([]Message, error)  { return nil, nil }
func (NoopHistory) Append(context.Context, string, ...Message) error { return nil }

const historyKeyPrefix = "acertaia:history:"

// RedisHistory stores turns in a capped redis list per owner and conversation.
type RedisHistory struct {
	rdb  redis.Cmdable
	size int64
	ttl  time.Duration
}

// NewRedisHistory keeps the last size turns of each conversation for ttl.
func NewRedisHistory(rdb redis.Cmdable, size int, ttl time.Duration) *RedisHistory {
	if size <= 0 {
		size = 20
	}
	return &RedisHistory{rdb: rdb, size: int64(size), ttl: ttl}
}

// historyKey scopes a conversation to the owner in ctx, so tenants that
// share a conversation id (the WhatsApp fallback id, a replayed web id)
// never read each other's turns. Calls without an owner share the "_" scope.
func historyKey(ctx context.Context, conversationID string) string {
	owner, err := tenant.OwnerID(ctx)
	if err != nil {
		owner = "_"
	}
	return historyKeyPrefix + owner + ":" + conversationID
}

// Load returns the stored turns, oldest first. Undecodable entries are skipped.
func (h *RedisHistory) Load(ctx context.Context, conversationID string) ([]Message, error) {
	raw, err := h.rdb.LRange(ctx, historyKey(ctx, conversationID), -h.size, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	turns := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			logger.FromContext(ctx).Warn("Skipping undecodable history entry",
				zap.String("conversation_id", conversationID), zap.Error(err))
			continue
		}
		turns = append(turns, m)
	}
	return turns, nil
}

// Append pushes turns, trims the list to size and refreshes its expiry.
func (h *RedisHistory) Append(ctx context.Context, conversationID string, turns ...Message) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(turns))
	for _, m := range turns {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode history entry: %w", err)
		}
		values = append(values, string(data))
	}

	key := historyKey(ctx, conversationID)
	_, err := h.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, -h.size, -1)
		if h.ttl > 0 {
			pipe.Expire(ctx, key, h.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}
