package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"meshgate/internal/product/models"
	"meshgate/pkg/domain"
	"meshgate/pkg/platform/paging"
	"meshgate/pkg/platform/sentinel"
)

// InMemory keeps products in a map guarded by a RWMutex.
type InMemory struct {
	mu       sync.RWMutex
	products map[domain.ProductID]models.Product
}

func NewInMemory() *InMemory {
	return &InMemory{products: make(map[domain.ProductID]models.Product)}
}

func (s *InMemory) Create(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; ok {
		return fmt.Errorf("product %s: %w", p.ID, sentinel.ErrConflict)
	}
	s.products[p.ID] = *p
	return nil
}

func (s *InMemory) Update(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.products[p.ID] = *p
	return nil
}

func (s *InMemory) Delete(_ context.Context, id domain.ProductID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.ProductID) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

// AdjustQuantity adds delta to the stored quantity in one step.
func (s *InMemory) AdjustQuantity(_ context.Context, id domain.ProductID, delta int64, at time.Time) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	p.Quantity += delta
	p.UpdatedAt = at
	s.products[id] = p
	return &p, nil
}

func (s *InMemory) List(_ context.Context, q paging.Query) ([]*models.Product, int, error) {
	s.mu.RLock()
	matched := make([]*models.Product, 0, len(s.products))
	search := strings.ToLower(q.Search)
	for _, p := range s.products {
		if search == "" || strings.Contains(strings.ToLower(p.Name), search) {
			matched = append(matched, &p)
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

// lessFor orders by the named field, falling back to name then id.
func lessFor(field string) func(a, b *models.Product) bool {
	switch field {
	case "price":
		return func(a, b *models.Product) bool { return a.Price < b.Price }
	case "quantity":
		return func(a, b *models.Product) bool { return a.Quantity < b.Quantity }
	default:
		return func(a, b *models.Product) bool {
			if a.Name != b.Name {
				return a.Name < b.Name
			}
			return a.ID.String() < b.ID.String()
		}
	}
}
