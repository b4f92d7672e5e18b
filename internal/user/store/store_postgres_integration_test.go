//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"meshgate/internal/platform/postgres"
	"meshgate/internal/user/models"
	userstore "meshgate/internal/user/store"
	"meshgate/pkg/domain"
	"meshgate/pkg/platform/paging"
	"meshgate/pkg/platform/sentinel"
	"meshgate/pkg/testutil/containers"
)

type PostgresUserStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *userstore.PostgresStore
}

func TestPostgresUserStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresUserStoreSuite))
}

func (s *PostgresUserStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.Require().NoError(postgres.Migrate(context.Background(), s.postgres.DB))
	s.store = userstore.NewPostgres(s.postgres.DB)
}

func (s *PostgresUserStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "users"))
}

func pgUser(login string) *models.User {
	return &models.User{
		ID:        domain.NewUserID(),
		Login:     login,
		FirstName: "First",
		Email:     login + "@example.com",
		LangKey:   models.LangEN,
		Roles:     domain.NewRoleSet(domain.RoleUser, domain.RoleApprover),
		Active:    true,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresUserStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	u := pgUser("alice")
	creator := domain.NewUserID()
	u.CreatedBy = &creator
	u.PasswordHash = "$2a$04$hash"
	s.Require().NoError(s.store.Create(ctx, u))

	got, err := s.store.FindByID(ctx, u.ID)
	s.Require().NoError(err)
	s.Equal(u.Login, got.Login)
	s.Equal(u.Roles, got.Roles)
	s.Equal(u.PasswordHash, got.PasswordHash)
	s.Require().NotNil(got.CreatedBy)
	s.Equal(creator, *got.CreatedBy)
	s.Nil(got.LastModifiedAt)

	byLogin, err := s.store.FindByLogin(ctx, "ALICE")
	s.Require().NoError(err)
	s.Equal(u.ID, byLogin.ID)
}

func (s *PostgresUserStoreSuite) TestConflictsAndMissing() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, pgUser("bob")))

	dup := pgUser("bob")
	s.ErrorIs(s.store.Create(ctx, dup), sentinel.ErrConflict)

	_, err := s.store.FindByID(ctx, domain.NewUserID())
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(ctx, domain.NewUserID()), sentinel.ErrNotFound)
	s.ErrorIs(s.store.Update(ctx, pgUser("ghost")), sentinel.ErrNotFound)
}

func (s *PostgresUserStoreSuite) TestUpdateAndList() {
	ctx := context.Background()
	for _, login := range []string{"carl", "anna", "zed"} {
		s.Require().NoError(s.store.Create(ctx, pgUser(login)))
	}
	anna, err := s.store.FindByLogin(ctx, "anna")
	s.Require().NoError(err)
	now := time.Now().UTC().Truncate(time.Microsecond)
	anna.Active = false
	anna.LastModifiedAt = &now
	s.Require().NoError(s.store.Update(ctx, anna))

	got, err := s.store.FindByID(ctx, anna.ID)
	s.Require().NoError(err)
	s.False(got.Active)
	s.Require().NotNil(got.LastModifiedAt)

	rows, total, err := s.store.List(ctx, paging.Query{Page: 1, PageSize: 2, Sort: "-login"}.Normalize())
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Require().Len(rows, 2)
	s.Equal("zed", rows[0].Login)
	s.Equal("carl", rows[1].Login)

	rows, total, err = s.store.List(ctx, paging.Query{Search: "AN"}.Normalize())
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Equal("anna", rows[0].Login)

	n, err := s.store.Count(ctx)
	s.Require().NoError(err)
	s.Equal(3, n)
}
