package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"meshgate/internal/user/models"
	"meshgate/pkg/domain"
	"meshgate/pkg/platform/paging"
	"meshgate/pkg/platform/sentinel"
)

// InMemory keeps users in a map guarded by a RWMutex. Login and email are
// unique case-insensitively.
type InMemory struct {
	mu    sync.RWMutex
	users map[domain.UserID]models.User
}

func NewInMemory() *InMemory {
	return &InMemory{users: make(map[domain.UserID]models.User)}
}

func (s *InMemory) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, sentinel.ErrConflict)
	}
	if err := s.checkUniqueLocked(u); err != nil {
		return err
	}
	s.users[u.ID] = clone(u)
	return nil
}

func (s *InMemory) Update(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return sentinel.ErrNotFound
	}
	if err := s.checkUniqueLocked(u); err != nil {
		return err
	}
	s.users[u.ID] = clone(u)
	return nil
}

func (s *InMemory) Delete(_ context.Context, id domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := clone(&u)
	return &out, nil
}

func (s *InMemory) FindByLogin(_ context.Context, login string) (*models.User, error) {
	return s.findBy(func(u *models.User) bool { return strings.EqualFold(u.Login, login) })
}

func (s *InMemory) FindByEmail(_ context.Context, email string) (*models.User, error) {
	return s.findBy(func(u *models.User) bool { return strings.EqualFold(u.Email, email) })
}

func (s *InMemory) List(_ context.Context, q paging.Query) ([]*models.User, int, error) {
	s.mu.RLock()
	matched := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		if matchesSearch(&u, q.Search) {
			c := clone(&u)
			matched = append(matched, &c)
		}
	}
	s.mu.RUnlock()

	field, desc := q.SortField()
	less := lessFor(field)
	sort.SliceStable(matched, func(i, j int) bool {
		if desc {
			return less(matched[j], matched[i])
		}
		return less(matched[i], matched[j])
	})
	return paging.Window(matched, q), len(matched), nil
}

func (s *InMemory) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func (s *InMemory) findBy(match func(*models.User) bool) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(&u) {
			out := clone(&u)
			return &out, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) checkUniqueLocked(u *models.User) error {
	for id, other := range s.users {
		if id == u.ID {
			continue
		}
		if strings.EqualFold(other.Login, u.Login) {
			return fmt.Errorf("login %q: %w", u.Login, sentinel.ErrConflict)
		}
		if strings.EqualFold(other.Email, u.Email) {
			return fmt.Errorf("email %q: %w", u.Email, sentinel.ErrConflict)
		}
	}
	return nil
}

func clone(u *models.User) models.User {
	out := *u
	out.Roles = domain.NewRoleSet(u.Roles.Slice()...)
	return out
}

func matchesSearch(u *models.User, search string) bool {
	if search == "" {
		return true
	}
	search = strings.ToLower(search)
	for _, f := range []string{u.Login, u.Email, u.FirstName, u.LastName} {
		if strings.Contains(strings.ToLower(f), search) {
			return true
		}
	}
	return false
}

// lessFor orders by the named field, falling back to login.
func lessFor(field string) func(a, b *models.User) bool {
	switch field {
	case "email":
		return func(a, b *models.User) bool { return a.Email < b.Email }
	case "firstName":
		return func(a, b *models.User) bool { return a.FirstName < b.FirstName }
	case "lastName":
		return func(a, b *models.User) bool { return a.LastName < b.LastName }
	case "createdDate":
		return func(a, b *models.User) bool { return a.CreatedAt.Before(b.CreatedAt) }
	default:
		return func(a, b *models.User) bool { return a.Login < b.Login }
	}
}
