// Package sessioncache maps session tokens to their verified identity for a
// bounded time so that signature verification and the activity re-check run
// at most once per token per TTL window.
package sessioncache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"meshgate/pkg/domain"
)

// Cache is the contract shared by the in-memory and Redis implementations.
//
// Lookup never returns an entry older than the configured TTL. Store
// overwrites any previous entry for the token and resets its insertion time.
type Cache interface {
	Lookup(ctx context.Context, token string) (*domain.Identity, bool, error)
	Store(ctx context.Context, token string, identity *domain.Identity) error
	Delete(ctx context.Context, token string) error
	InvalidateUser(ctx context.Context, userID domain.UserID) error
}

// tokenKey hashes the raw token so cache keys never carry credentials.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// invalidationTarget returns the user whose cached sessions must be dropped
// for ev. Creations never invalidate: a new user has no sessions yet.
func invalidationTarget(ev domain.MutationEvent) (domain.UserID, bool) {
	if ev.Kind != domain.EntityUser || ev.ID == "" {
		return domain.UserID{}, false
	}
	if ev.Change != domain.ChangeUpdated && ev.Change != domain.ChangeRemoved {
		return domain.UserID{}, false
	}
	userID, err := domain.ParseUserID(ev.ID)
	if err != nil {
		return domain.UserID{}, false
	}
	return userID, true
}

// Subscriber adapts a Cache to the mutation notifier so user updates and
// removals drop the affected sessions immediately.
type Subscriber struct {
	cache Cache
}

func NewSubscriber(cache Cache) *Subscriber {
	return &Subscriber{cache: cache}
}

// HandleMutation invalidates the sessions of an updated or removed user.
func (s *Subscriber) HandleMutation(ctx context.Context, ev domain.MutationEvent) error {
	userID, ok := invalidationTarget(ev)
	if !ok {
		return nil
	}
	return s.cache.InvalidateUser(ctx, userID)
}
