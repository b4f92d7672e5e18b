package sessioncache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"meshgate/pkg/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type InMemorySuite struct {
	suite.Suite
	clock *fakeClock
	cache *InMemory
	ctx   context.Context
}

func TestInMemorySuite(t *testing.T) {
	suite.Run(t, new(InMemorySuite))
}

func (s *InMemorySuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache, err := NewInMemory(16, 30*time.Minute, WithClock(s.clock.Now))
	s.Require().NoError(err)
	s.cache = cache
}

func newIdentity(roles ...domain.Role) *domain.Identity {
	return &domain.Identity{
		UserID: domain.NewUserID(),
		Login:  "user",
		Roles:  domain.NewRoleSet(roles...),
		Active: true,
	}
}

func (s *InMemorySuite) TestLookup() {
	s.Run("miss for unknown token", func() {
		got, ok, err := s.cache.Lookup(s.ctx, "never-stored")
		s.Require().NoError(err)
		s.False(ok)
		s.Nil(got)
	})

	s.Run("hit returns stored identity", func() {
		ident := newIdentity(domain.RoleUser)
		s.Require().NoError(s.cache.Store(s.ctx, "tok-hit", ident))

		got, ok, err := s.cache.Lookup(s.ctx, "tok-hit")
		s.Require().NoError(err)
		s.True(ok)
		s.Equal(*ident, *got)
	})
}

func (s *InMemorySuite) TestExpiry() {
	s.Run("entry is served until the ttl elapses", func() {
		ident := newIdentity(domain.RoleUser)
		s.Require().NoError(s.cache.Store(s.ctx, "tok-ttl", ident))

		s.clock.Advance(30*time.Minute - time.Nanosecond)
		_, ok, err := s.cache.Lookup(s.ctx, "tok-ttl")
		s.Require().NoError(err)
		s.True(ok)

		s.clock.Advance(time.Nanosecond)
		_, ok, err = s.cache.Lookup(s.ctx, "tok-ttl")
		s.Require().NoError(err)
		s.False(ok, "entry must not be returned once the ttl has elapsed")
	})

	s.Run("expired entry is removed, not only hidden", func() {
		before := s.cache.Len()
		s.Require().NoError(s.cache.Store(s.ctx, "tok-removed", newIdentity()))
		s.Equal(before+1, s.cache.Len())

		s.clock.Advance(time.Hour)
		_, ok, _ := s.cache.Lookup(s.ctx, "tok-removed")
		s.False(ok)
		s.Equal(before, s.cache.Len())
	})

	s.Run("overwrite resets the insertion time", func() {
		ident := newIdentity()
		s.Require().NoError(s.cache.Store(s.ctx, "tok-reset", ident))
		s.clock.Advance(20 * time.Minute)
		s.Require().NoError(s.cache.Store(s.ctx, "tok-reset", ident))
		s.clock.Advance(20 * time.Minute)

		_, ok, _ := s.cache.Lookup(s.ctx, "tok-reset")
		s.True(ok)
	})
}

func (s *InMemorySuite) TestStoreIsIdempotent() {
	ident := newIdentity(domain.RoleAdmin)
	s.Require().NoError(s.cache.Store(s.ctx, "tok-idem", ident))
	s.Require().NoError(s.cache.Store(s.ctx, "tok-idem", ident))

	got, ok, err := s.cache.Lookup(s.ctx, "tok-idem")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(ident.UserID, got.UserID)
	s.Equal(1, s.cache.Len())
}

func (s *InMemorySuite) TestInvalidateUser() {
	alice := newIdentity(domain.RoleUser)
	bob := newIdentity(domain.RoleUser)
	s.Require().NoError(s.cache.Store(s.ctx, "alice-1", alice))
	s.Require().NoError(s.cache.Store(s.ctx, "alice-2", alice))
	s.Require().NoError(s.cache.Store(s.ctx, "bob-1", bob))

	s.Require().NoError(s.cache.InvalidateUser(s.ctx, alice.UserID))

	_, ok, _ := s.cache.Lookup(s.ctx, "alice-1")
	s.False(ok)
	_, ok, _ = s.cache.Lookup(s.ctx, "alice-2")
	s.False(ok)
	_, ok, _ = s.cache.Lookup(s.ctx, "bob-1")
	s.True(ok)

	s.Require().NoError(s.cache.InvalidateUser(s.ctx, alice.UserID), "second invalidation is a no-op")
}

func (s *InMemorySuite) TestCapacityEvictionKeepsIndexConsistent() {
	cache, err := NewInMemory(2, time.Hour, WithClock(s.clock.Now))
	s.Require().NoError(err)
	ident := newIdentity()

	s.Require().NoError(cache.Store(s.ctx, "a", ident))
	s.Require().NoError(cache.Store(s.ctx, "b", ident))
	s.Require().NoError(cache.Store(s.ctx, "c", ident))
	s.Equal(2, cache.Len())

	_, ok, _ := cache.Lookup(s.ctx, "a")
	s.False(ok, "least recently used entry is evicted")

	cache.mu.Lock()
	indexed := len(cache.byUser[ident.UserID])
	cache.mu.Unlock()
	s.Equal(2, indexed)

	s.Require().NoError(cache.InvalidateUser(s.ctx, ident.UserID))
	s.Equal(0, cache.Len())
}

func (s *InMemorySuite) TestDelete() {
	s.Require().NoError(s.cache.Store(s.ctx, "tok-del", newIdentity()))
	s.Require().NoError(s.cache.Delete(s.ctx, "tok-del"))
	_, ok, _ := s.cache.Lookup(s.ctx, "tok-del")
	s.False(ok)
	s.Require().NoError(s.cache.Delete(s.ctx, "tok-del"))
}

// Two callers miss on the same fresh token, both store, and a third call hits.
func (s *InMemorySuite) TestConcurrentMissThenStore() {
	ident := newIdentity(domain.RoleUser)
	const callers = 2

	var wg, looked sync.WaitGroup
	misses := make(chan bool, callers)
	looked.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.cache.Lookup(s.ctx, "tok-race")
			misses <- err == nil && !ok
			looked.Done()
			// both callers have missed before either stores
			looked.Wait()
			copied := *ident
			_ = s.cache.Store(s.ctx, "tok-race", &copied)
		}()
	}
	wg.Wait()
	close(misses)

	for miss := range misses {
		s.True(miss)
	}
	got, ok, err := s.cache.Lookup(s.ctx, "tok-race")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(*ident, *got)
	s.Equal(1, s.cache.Len())
}

func (s *InMemorySuite) TestConcurrentAccess() {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := fmt.Sprintf("tok-%d", i%8)
			ident := newIdentity()
			_ = s.cache.Store(s.ctx, token, ident)
			_, _, _ = s.cache.Lookup(s.ctx, token)
			if i%5 == 0 {
				_ = s.cache.InvalidateUser(s.ctx, ident.UserID)
			}
		}(i)
	}
	wg.Wait()
	s.LessOrEqual(s.cache.Len(), 8)
}

func (s *InMemorySuite) TestSubscriber() {
	sub := NewSubscriber(s.cache)
	ident := newIdentity(domain.RoleUser)
	s.Require().NoError(s.cache.Store(s.ctx, "tok-sub", ident))

	s.Run("product mutations are ignored", func() {
		err := sub.HandleMutation(s.ctx, domain.MutationEvent{Kind: domain.EntityProduct, ID: ident.UserID.String(), Change: domain.ChangeRemoved})
		s.Require().NoError(err)
		_, ok, _ := s.cache.Lookup(s.ctx, "tok-sub")
		s.True(ok)
	})

	s.Run("user creation is ignored", func() {
		err := sub.HandleMutation(s.ctx, domain.MutationEvent{Kind: domain.EntityUser, ID: ident.UserID.String(), Change: domain.ChangeCreated})
		s.Require().NoError(err)
		_, ok, _ := s.cache.Lookup(s.ctx, "tok-sub")
		s.True(ok)
	})

	s.Run("user update drops the user's sessions", func() {
		err := sub.HandleMutation(s.ctx, domain.MutationEvent{Kind: domain.EntityUser, ID: ident.UserID.String(), Change: domain.ChangeUpdated})
		s.Require().NoError(err)
		_, ok, _ := s.cache.Lookup(s.ctx, "tok-sub")
		s.False(ok)
	})
}

func TestNewInMemoryRejectsInvalidSettings(t *testing.T) {
	if _, err := NewInMemory(10, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
	if _, err := NewInMemory(0, time.Minute); err == nil {
		t.Fatal("expected error for zero size")
	}
}
