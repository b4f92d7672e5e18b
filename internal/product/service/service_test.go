package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"meshgate/internal/mutation"
	"meshgate/internal/product/models"
	productstore "meshgate/internal/product/store"
	"meshgate/pkg/domain"
	dErrors "meshgate/pkg/domain-errors"
	"meshgate/pkg/platform/paging"
)

type ProductServiceSuite struct {
	suite.Suite
	ctx     context.Context
	service *Service
	mu      sync.Mutex
	events  []domain.MutationEvent
}

func TestProductServiceSuite(t *testing.T) {
	suite.Run(t, new(ProductServiceSuite))
}

func (s *ProductServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.events = nil
	notifier := mutation.New()
	notifier.Subscribe("recorder", mutation.SubscriberFunc(func(_ context.Context, ev domain.MutationEvent) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.events = append(s.events, ev)
		return nil
	}))
	s.service = New(productstore.NewInMemory(), notifier)
}

func (s *ProductServiceSuite) lastEvent() domain.MutationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Require().NotEmpty(s.events)
	return s.events[len(s.events)-1]
}

func (s *ProductServiceSuite) TestCreate() {
	s.Run("starts with zero quantity", func() {
		p, err := s.service.Create(s.ctx, models.CreateParams{Name: "Desk", Price: 120})
		s.Require().NoError(err)
		s.Equal(int64(0), p.Quantity)
		ev := s.lastEvent()
		s.Equal(domain.EntityProduct, ev.Kind)
		s.Equal(domain.ChangeCreated, ev.Change)
		s.Equal(p.ID.String(), ev.ID)
	})

	s.Run("rejects short names and non-positive prices", func() {
		for _, p := range []models.CreateParams{
			{Name: "ab", Price: 1},
			{Name: "  ab  ", Price: 1},
			{Name: "Lamp", Price: 0},
			{Name: "Lamp", Price: -3},
		} {
			_, err := s.service.Create(s.ctx, p)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "params %+v", p)
		}
	})
}

func (s *ProductServiceSuite) TestQuantity() {
	p, err := s.service.Create(s.ctx, models.CreateParams{Name: "Chair", Price: 40})
	s.Require().NoError(err)

	s.Run("increase and decrease", func() {
		out, err := s.service.IncreaseQuantity(s.ctx, p.ID.String(), 5)
		s.Require().NoError(err)
		s.Equal(int64(5), out.Quantity)

		out, err = s.service.DecreaseQuantity(s.ctx, p.ID.String(), 2)
		s.Require().NoError(err)
		s.Equal(int64(3), out.Quantity)
		s.Equal(domain.ChangeUpdated, s.lastEvent().Change)
	})

	s.Run("value must be positive", func() {
		_, err := s.service.IncreaseQuantity(s.ctx, p.ID.String(), 0)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.service.DecreaseQuantity(s.ctx, p.ID.String(), -1)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown product", func() {
		_, err := s.service.IncreaseQuantity(s.ctx, domain.NewProductID().String(), 1)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("concurrent adjustments are not lost", func() {
		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.service.IncreaseQuantity(s.ctx, p.ID.String(), 1)
				s.NoError(err)
			}()
		}
		wg.Wait()
		got, err := s.service.Get(s.ctx, p.ID.String())
		s.Require().NoError(err)
		s.Equal(int64(23), got.Quantity)
	})
}

func (s *ProductServiceSuite) TestUpdateRemoveList() {
	a, _ := s.service.Create(s.ctx, models.CreateParams{Name: "Bookshelf", Price: 80})
	_, _ = s.service.Create(s.ctx, models.CreateParams{Name: "Armchair", Price: 200})

	s.Run("partial update", func() {
		name := "Tall bookshelf"
		out, err := s.service.Update(s.ctx, a.ID.String(), models.UpdateParams{Name: &name})
		s.Require().NoError(err)
		s.Equal(name, out.Name)
		s.Equal(80.0, out.Price)
	})

	s.Run("invalid update publishes nothing", func() {
		s.mu.Lock()
		before := len(s.events)
		s.mu.Unlock()
		price := 0.0
		_, err := s.service.Update(s.ctx, a.ID.String(), models.UpdateParams{Price: &price})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.mu.Lock()
		s.Len(s.events, before)
		s.mu.Unlock()
	})

	s.Run("list sorted by price descending", func() {
		page, err := s.service.List(s.ctx, paging.Query{Sort: "-price"})
		s.Require().NoError(err)
		s.Require().Len(page.Rows, 2)
		s.Equal("Armchair", page.Rows[0].Name)
	})

	s.Run("remove then get is not found", func() {
		s.Require().NoError(s.service.Remove(s.ctx, a.ID.String()))
		s.Equal(domain.ChangeRemoved, s.lastEvent().Change)
		_, err := s.service.Get(s.ctx, a.ID.String())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.True(dErrors.HasCode(s.service.Remove(s.ctx, a.ID.String()), dErrors.CodeNotFound))
	})

	s.Run("malformed id", func() {
		_, err := s.service.Get(s.ctx, "nope")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
