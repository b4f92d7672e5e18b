package service

import (
	"context"
	"fmt"

	"meshgate/internal/user/models"
	"meshgate/pkg/domain"
)

// AdminSeed describes the superadmin created on an empty store.
type AdminSeed struct {
	Login    string
	Password string
	Email    string
}

// SeedAdmin creates the superadmin when no user exists yet. It returns
// false when the store already has users or the seed is incomplete.
func (s *Service) SeedAdmin(ctx context.Context, seed AdminSeed) (bool, error) {
	if seed.Login == "" || seed.Password == "" {
		return false, nil
	}
	n, err := s.users.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	email := seed.Email
	if email == "" {
		email = seed.Login + "@localhost"
	}
	active := true
	v, err := s.Create(ctx, nil, models.CreateParams{
		Login:     seed.Login,
		Password:  seed.Password,
		FirstName: seed.Login,
		Email:     email,
		Roles:     []string{string(domain.RoleSuperAdmin)},
		Active:    &active,
	})
	if err != nil {
		return false, fmt.Errorf("seed admin: %w", err)
	}
	s.logger.InfoContext(ctx, "seeded superadmin", "user_id", v.ID, "login", v.Login)
	return true, nil
}
