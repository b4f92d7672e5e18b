package sessioncache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"meshgate/pkg/domain"
)

const defaultKeyPrefix = "session:"

// Redis shares cached sessions across replicas. Expiry is delegated to the
// key TTL; a per-user set indexes token keys for InvalidateUser.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a Redis cache.
type RedisOption func(*Redis)

// WithKeyPrefix namespaces all keys written by the cache.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedis creates a Redis-backed session cache.
func NewRedis(client *redis.Client, ttl time.Duration, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		ttl:    ttl,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Redis) entryKey(hash string) string {
	return r.prefix + "tok:" + hash
}

func (r *Redis) userKey(userID domain.UserID) string {
	return r.prefix + "user:" + userID.String()
}

func (r *Redis) Lookup(ctx context.Context, token string) (*domain.Identity, bool, error) {
	data, err := r.client.Get(ctx, r.entryKey(tokenKey(token))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached session: %w", err)
	}
	var identity domain.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, false, fmt.Errorf("decode cached session: %w", err)
	}
	return &identity, true, nil
}

// Store writes the entry with the cache TTL and refreshes the user index so
// it outlives the newest entry it points to.
func (r *Redis) Store(ctx context.Context, token string, identity *domain.Identity) error {
	if identity == nil {
		return nil
	}
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	hash := tokenKey(token)
	userKey := r.userKey(identity.UserID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.entryKey(hash), data, r.ttl)
		pipe.SAdd(ctx, userKey, hash)
		pipe.Expire(ctx, userKey, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, r.entryKey(tokenKey(token))).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// InvalidateUser deletes every indexed session of userID together with the
// index itself.
func (r *Redis) InvalidateUser(ctx context.Context, userID domain.UserID) error {
	userKey := r.userKey(userID)
	hashes, err := r.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, r.entryKey(h))
	}
	keys = append(keys, userKey)
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate user sessions: %w", err)
	}
	return nil
}
