// Package service implements the product catalogue operations.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"meshgate/internal/product/models"
	"meshgate/pkg/domain"
	dErrors "meshgate/pkg/domain-errors"
	"meshgate/pkg/platform/paging"
	"meshgate/pkg/platform/sentinel"
	"meshgate/pkg/requestcontext"
)

// Store persists products.
type Store interface {
	Create(ctx context.Context, p *models.Product) error
	Update(ctx context.Context, p *models.Product) error
	Delete(ctx context.Context, id domain.ProductID) error
	FindByID(ctx context.Context, id domain.ProductID) (*models.Product, error)
	AdjustQuantity(ctx context.Context, id domain.ProductID, delta int64, at time.Time) (*models.Product, error)
	List(ctx context.Context, q paging.Query) ([]*models.Product, int, error)
}

// Mutator serializes writes per entity and announces them once committed.
type Mutator interface {
	Mutate(ctx context.Context, kind domain.EntityKind, id string, change domain.ChangeKind, commit func(context.Context) error) error
}

// Service implements the product operations.
type Service struct {
	products Store
	mutator  Mutator
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(products Store, mutator Mutator, opts ...Option) *Service {
	s := &Service{products: products, mutator: mutator, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, params models.CreateParams) (*models.Product, error) {
	now := requestcontext.Now(ctx)
	p := &models.Product{
		ID:        domain.NewProductID(),
		Name:      strings.TrimSpace(params.Name),
		Price:     params.Price,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	err := s.mutator.Mutate(ctx, domain.EntityProduct, p.ID.String(), domain.ChangeCreated, func(ctx context.Context) error {
		return s.products.Create(ctx, p)
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, rawID string) (*models.Product, error) {
	id, err := domain.ParseProductID(rawID)
	if err != nil {
		return nil, err
	}
	p, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, q paging.Query) (paging.Page[*models.Product], error) {
	q = q.Normalize()
	rows, total, err := s.products.List(ctx, q)
	if err != nil {
		return paging.Page[*models.Product]{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list products")
	}
	return paging.NewPage(rows, total, q), nil
}

func (s *Service) Update(ctx context.Context, rawID string, params models.UpdateParams) (*models.Product, error) {
	id, err := domain.ParseProductID(rawID)
	if err != nil {
		return nil, err
	}
	var updated *models.Product
	err = s.mutator.Mutate(ctx, domain.EntityProduct, id.String(), domain.ChangeUpdated, func(ctx context.Context) error {
		p, err := s.products.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if params.Name != nil {
			p.Name = strings.TrimSpace(*params.Name)
		}
		if params.Price != nil {
			p.Price = *params.Price
		}
		if params.Quantity != nil {
			p.Quantity = *params.Quantity
		}
		if err := p.Validate(); err != nil {
			return err
		}
		p.UpdatedAt = requestcontext.Now(ctx)
		if err := s.products.Update(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return updated, nil
}

func (s *Service) Remove(ctx context.Context, rawID string) error {
	id, err := domain.ParseProductID(rawID)
	if err != nil {
		return err
	}
	err = s.mutator.Mutate(ctx, domain.EntityProduct, id.String(), domain.ChangeRemoved, func(ctx context.Context) error {
		return s.products.Delete(ctx, id)
	})
	return wrapStoreErr(err)
}

// IncreaseQuantity adds value to the stock of a product.
func (s *Service) IncreaseQuantity(ctx context.Context, rawID string, value int64) (*models.Product, error) {
	return s.adjust(ctx, rawID, value, 1)
}

// DecreaseQuantity removes value from the stock of a product.
func (s *Service) DecreaseQuantity(ctx context.Context, rawID string, value int64) (*models.Product, error) {
	return s.adjust(ctx, rawID, value, -1)
}

func (s *Service) adjust(ctx context.Context, rawID string, value, sign int64) (*models.Product, error) {
	id, err := domain.ParseProductID(rawID)
	if err != nil {
		return nil, err
	}
	if value <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "value must be a positive integer")
	}
	var adjusted *models.Product
	err = s.mutator.Mutate(ctx, domain.EntityProduct, id.String(), domain.ChangeUpdated, func(ctx context.Context) error {
		p, err := s.products.AdjustQuantity(ctx, id, sign*value, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		adjusted = p
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	s.logger.DebugContext(ctx, "product quantity adjusted",
		"product_id", id.String(),
		"delta", sign*value,
		"quantity", adjusted.Quantity,
		"request_id", requestcontext.RequestID(ctx),
	)
	return adjusted, nil
}

func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "Product not found!")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "product store failure")
}
