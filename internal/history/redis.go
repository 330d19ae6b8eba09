package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// DefaultRedisKey is the list holding the shared history.
const DefaultRedisKey = "chatroom:history"

// RedisOptions locates the redis list.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisStore keeps the log in a redis list shared by every server instance.
//
// The list is newest-first: Append pushes on the left and trims to the first
// limit entries. The push and the trim are pipelined, not transactional.
type RedisStore struct {
	client *redis.Client
	key    string
	limit  int
	log    *slog.Logger
}

// OpenRedisStore connects and pings the server.
func OpenRedisStore(ctx context.Context, opts RedisOptions, limit int, log *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis history at %s: %w", opts.Addr, err)
	}
	return NewRedisStore(client, opts.Key, limit, log), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, key string, limit int, log *slog.Logger) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if limit <= 0 {
		limit = chat.DefaultHistoryLimit
	}
	return &RedisStore{client: client, key: key, limit: limit, log: log}
}

func (s *RedisStore) Append(ctx context.Context, message chat.Message) error {
	value, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", message.ID, err)
	}
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, value)
		pipe.LTrim(ctx, s.key, 0, int64(s.limit-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("push message %s: %w", message.ID, err)
	}
	return nil
}

// Recent reads the newest limit entries and returns them oldest first.
func (s *RedisStore) Recent(ctx context.Context) ([]chat.Message, error) {
	values, err := s.client.LRange(ctx, s.key, 0, int64(s.limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read history list %s: %w", s.key, err)
	}
	slices.Reverse(values)
	raw := lo.Map(values, func(v string, _ int) []byte { return []byte(v) })
	return decodeMessages(raw, s.log), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
