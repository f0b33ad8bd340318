package chatIO

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrRedisNotReady = errors.New("redis is not ready")

// RedisSessionStore keeps the session key in Redis, under prefix + SessionKeyName.
type RedisSessionStore struct {
	client redis.Cmdable
	key    string
}

func NewRedisSessionStore(client redis.Cmdable, prefix string) *RedisSessionStore {
	return &RedisSessionStore{
		client: client,
		key:    prefix + SessionKeyName,
	}
}

// OpenRedisSessionStore parses redisURL, checks the server answers and
// returns a store on top of the new client.
func OpenRedisSessionStore(ctx context.Context, redisURL string, prefix string) (*RedisSessionStore, *redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, errors.Join(ErrRedisNotReady, err)
	}

	return NewRedisSessionStore(client, prefix), client, nil
}

func (s *RedisSessionStore) Get(ctx context.Context) (string, error) {
	sessionKey, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session store: %w", err)
	}
	return sessionKey, nil
}

func (s *RedisSessionStore) Set(ctx context.Context, sessionKey string) error {
	if err := s.client.Set(ctx, s.key, sessionKey, 0).Err(); err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	return nil
}
