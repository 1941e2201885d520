package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rrens/zyra/internal/domain"
	"github.com/redis/go-redis/v9"
)

const kvPrefix = "zyra:kv:"

// Store implements domain.KVStore on Redis strings without expiry.
// The client is shared with the rate limiter and closed by its owner.
type Store struct {
	client *Client
}

// NewStore creates a KV store on client
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

func kvKey(key string) string {
	return kvPrefix + key
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.rdb.Get(ctx, kvKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.rdb.Set(ctx, kvKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.rdb.Del(ctx, kvKey(key)).Err()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Store) Close() error { return nil }
