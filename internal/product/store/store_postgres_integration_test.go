//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"meshgate/internal/platform/postgres"
	"meshgate/internal/product/models"
	productstore "meshgate/internal/product/store"
	"meshgate/pkg/domain"
	"meshgate/pkg/platform/paging"
	"meshgate/pkg/platform/sentinel"
	"meshgate/pkg/testutil/containers"
)

type PostgresProductStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *productstore.PostgresStore
}

func TestPostgresProductStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresProductStoreSuite))
}

func (s *PostgresProductStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.Require().NoError(postgres.Migrate(context.Background(), s.postgres.DB))
	s.store = productstore.NewPostgres(s.postgres.DB)
}

func (s *PostgresProductStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "products"))
}

func product(name string, price float64) *models.Product {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Product{ID: domain.NewProductID(), Name: name, Price: price, CreatedAt: now, UpdatedAt: now}
}

func (s *PostgresProductStoreSuite) TestCRUD() {
	ctx := context.Background()
	p := product("Desk", 99.5)
	s.Require().NoError(s.store.Create(ctx, p))

	got, err := s.store.FindByID(ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(p.Name, got.Name)
	s.Equal(p.Price, got.Price)

	p.Name = "Standing desk"
	s.Require().NoError(s.store.Update(ctx, p))
	got, _ = s.store.FindByID(ctx, p.ID)
	s.Equal("Standing desk", got.Name)

	s.Require().NoError(s.store.Delete(ctx, p.ID))
	_, err = s.store.FindByID(ctx, p.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(ctx, p.ID), sentinel.ErrNotFound)
}

func (s *PostgresProductStoreSuite) TestAdjustQuantityIsAtomic() {
	ctx := context.Background()
	p := product("Lamp", 10)
	s.Require().NoError(s.store.Create(ctx, p))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.AdjustQuantity(ctx, p.ID, 2, time.Now())
			s.NoError(err)
		}()
	}
	wg.Wait()

	got, err := s.store.AdjustQuantity(ctx, p.ID, -5, time.Now())
	s.Require().NoError(err)
	s.Equal(int64(15), got.Quantity)

	_, err = s.store.AdjustQuantity(ctx, domain.NewProductID(), 1, time.Now())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresProductStoreSuite) TestList() {
	ctx := context.Background()
	for i, name := range []string{"Table", "Sofa", "Stool"} {
		s.Require().NoError(s.store.Create(ctx, product(name, float64(10*(i+1)))))
	}
	rows, total, err := s.store.List(ctx, paging.Query{Search: "s", Sort: "-price"}.Normalize())
	s.Require().NoError(err)
	s.Equal(2, total)
	s.Equal("Stool", rows[0].Name)
	s.Equal("Sofa", rows[1].Name)
}
