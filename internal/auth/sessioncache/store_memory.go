package sessioncache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"meshgate/pkg/domain"
)

type cachedIdentity struct {
	identity domain.Identity
	storedAt time.Time
}

// InMemory is a bounded LRU of verified identities with per-entry TTL.
// The LRU is not safe for concurrent use on its own; every access holds mu.
type InMemory struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, cachedIdentity]
	byUser  map[domain.UserID]map[string]struct{}
	ttl     time.Duration
	clock   func() time.Time
}

// Option configures an InMemory cache.
type Option func(*InMemory)

// WithClock overrides time.Now for TTL checks.
func WithClock(clock func() time.Time) Option {
	return func(c *InMemory) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewInMemory creates a cache holding at most size sessions for ttl each.
func NewInMemory(size int, ttl time.Duration, opts ...Option) (*InMemory, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("session cache ttl must be positive, got %s", ttl)
	}
	c := &InMemory{
		byUser: make(map[domain.UserID]map[string]struct{}),
		ttl:    ttl,
		clock:  time.Now,
	}
	entries, err := simplelru.NewLRU[string, cachedIdentity](size, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create session lru: %w", err)
	}
	c.entries = entries
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// onEvict runs under mu for capacity evictions and explicit removals.
func (c *InMemory) onEvict(key string, v cachedIdentity) {
	c.unindex(v.identity.UserID, key)
}

func (c *InMemory) unindex(userID domain.UserID, key string) {
	keys := c.byUser[userID]
	delete(keys, key)
	if len(keys) == 0 {
		delete(c.byUser, userID)
	}
}

// Lookup returns the identity cached for token. An expired entry is removed
// and reported as a miss.
func (c *InMemory) Lookup(_ context.Context, token string) (*domain.Identity, bool, error) {
	key := tokenKey(token)

	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !c.clock().Before(cached.storedAt.Add(c.ttl)) {
		c.entries.Remove(key)
		return nil, false, nil
	}
	identity := cached.identity
	return &identity, true, nil
}

// Store caches identity for token, overwriting any previous entry.
func (c *InMemory) Store(_ context.Context, token string, identity *domain.Identity) error {
	if identity == nil {
		return nil
	}
	key := tokenKey(token)

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries.Peek(key); ok && prev.identity.UserID != identity.UserID {
		c.unindex(prev.identity.UserID, key)
	}
	c.entries.Add(key, cachedIdentity{identity: *identity, storedAt: c.clock()})
	keys, ok := c.byUser[identity.UserID]
	if !ok {
		keys = make(map[string]struct{})
		c.byUser[identity.UserID] = keys
	}
	keys[key] = struct{}{}
	return nil
}

func (c *InMemory) Delete(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(tokenKey(token))
	return nil
}

// InvalidateUser drops every cached session of userID.
func (c *InMemory) InvalidateUser(_ context.Context, userID domain.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.byUser[userID]))
	for key := range c.byUser[userID] {
		keys = append(keys, key)
	}
	for _, key := range keys {
		c.entries.Remove(key)
	}
	delete(c.byUser, userID)
	return nil
}

// Len reports the number of cached sessions, expired ones included.
func (c *InMemory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
