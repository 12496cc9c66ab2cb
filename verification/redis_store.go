package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares nonce and receipt state between instances. Keys expire
// through Redis TTLs; SetIfAbsent maps to SETNX.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) encode(value string) ([]byte, error) {
	return json.Marshal(Record{Value: value, CreatedAt: s.now().UTC()})
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("redis get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode record %s: %w", key, err)
	}
	return rec, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	data, err := s.encode(value)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	data, err := s.encode(value)
	if err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, s.key(key), data, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}
