package entitycache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "entity:"

// RedisStore keeps entries as plain keys with a PX TTL and tracks tag
// membership in sets. Tag sets live at least as long as their longest entry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) valueKey(key string) string { return s.prefix + "v:" + key }

func (s *RedisStore) tagKey(tag string) string { return s.prefix + "t:" + tag }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.valueKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cache entry: %w", err)
	}
	return data, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.valueKey(key), value, ttl)
		for _, tag := range tags {
			tk := s.tagKey(tag)
			pipe.SAdd(ctx, tk, key)
			pipe.ExpireNX(ctx, tk, ttl)
			pipe.ExpireGT(ctx, tk, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.valueKey(key)).Err(); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// InvalidateTags atomically detaches each tag set by renaming it, so members
// added concurrently land in a fresh set, then deletes the detached members.
func (s *RedisStore) InvalidateTags(ctx context.Context, tags ...string) (int, error) {
	removed := 0
	for _, tag := range tags {
		detached := s.tagKey(tag) + ":inv:" + uuid.NewString()
		if err := s.client.Rename(ctx, s.tagKey(tag), detached).Err(); err != nil {
			if isNoSuchKey(err) {
				continue
			}
			return removed, fmt.Errorf("detach tag %s: %w", tag, err)
		}
		members, err := s.client.SMembers(ctx, detached).Result()
		if err != nil {
			return removed, fmt.Errorf("read tag %s: %w", tag, err)
		}
		keys := make([]string, 0, len(members)+1)
		for _, m := range members {
			keys = append(keys, s.valueKey(m))
		}
		keys = append(keys, detached)
		n, err := s.client.Del(ctx, keys...).Result()
		if err != nil {
			return removed, fmt.Errorf("drop tag %s entries: %w", tag, err)
		}
		// the detached set itself is not an entry
		removed += int(n) - 1
	}
	return removed, nil
}

func isNoSuchKey(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no such key")
}
