package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/duetlabs/duet/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	conversationIndexKey = "duet:conversations"
	messagesKeyPrefix    = "duet:conversation:"
)

// RedisStore implements ConversationStore with a sorted-set index and one list per conversation.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed store. A zero ttl keeps logs forever.
func NewRedis(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) messagesKey(id string) string {
	return messagesKeyPrefix + id + ":messages"
}

// Ping implements ConversationStore.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements ConversationStore.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// CreateConversation implements ConversationStore.
func (s *RedisStore) CreateConversation(ctx context.Context) (string, error) {
	id := uuid.NewString()
	err := s.client.ZAdd(ctx, conversationIndexKey, redis.Z{
		Score:  float64(nowMillis()),
		Member: id,
	}).Err()
	if err != nil {
		return "", fmt.Errorf("index conversation: %w", err)
	}
	return id, nil
}

func (s *RedisStore) exists(ctx context.Context, id string) error {
	err := s.client.ZScore(ctx, conversationIndexKey, id).Err()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup conversation: %w", err)
	}
	return nil
}

// AppendMessages implements ConversationStore.
func (s *RedisStore) AppendMessages(ctx context.Context, id string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := s.exists(ctx, id); err != nil {
		return err
	}

	values := make([]any, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		values = append(values, b)
	}

	key := s.messagesKey(id)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("push messages: %w", err)
	}
	return nil
}

// LoadMessages implements ConversationStore.
func (s *RedisStore) LoadMessages(ctx context.Context, id string) ([]domain.Message, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, s.messagesKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	msgs := make([]domain.Message, 0, len(raw))
	for _, r := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// LatestConversationID implements ConversationStore.
func (s *RedisStore) LatestConversationID(ctx context.Context) (string, error) {
	ids, err := s.client.ZRevRange(ctx, conversationIndexKey, 0, 0).Result()
	if err != nil {
		return "", fmt.Errorf("read conversation index: %w", err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}
