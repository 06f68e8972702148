package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/crawler-sentinel/internal/kv"
)

// Store implements kv.Store with plain string keys and native Redis expiry.
type Store struct {
	client *Client
}

// NewStore creates a Redis-backed key/value store.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// Get decodes the value stored under key.
func (s *Store) Get(ctx context.Context, key string, dst any) error {
	data, err := s.client.rdb.Get(ctx, s.client.key("kv", key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return kv.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Set stores value with a TTL; ttl <= 0 keeps the key until deleted.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.rdb.Set(ctx, s.client.key("kv", key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.rdb.Del(ctx, s.client.key("kv", key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
