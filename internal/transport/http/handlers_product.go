package httptransport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"meshgate/internal/auth/pipeline"
	"meshgate/internal/entitycache"
	"meshgate/internal/product/models"
	"meshgate/pkg/domain"
	dErrors "meshgate/pkg/domain-errors"
	"meshgate/pkg/platform/paging"
)

// ProductService is the product operations the transport exposes.
type ProductService interface {
	Create(ctx context.Context, params models.CreateParams) (*models.Product, error)
	Get(ctx context.Context, rawID string) (*models.Product, error)
	List(ctx context.Context, q paging.Query) (paging.Page[*models.Product], error)
	Update(ctx context.Context, rawID string, params models.UpdateParams) (*models.Product, error)
	Remove(ctx context.Context, rawID string) error
	IncreaseQuantity(ctx context.Context, rawID string, value int64) (*models.Product, error)
	DecreaseQuantity(ctx context.Context, rawID string, value int64) (*models.Product, error)
}

// ProductHandler serves the product catalogue. Reads are public; changes
// need an authenticated caller.
type ProductHandler struct {
	products ProductService
}

func NewProductHandler(products ProductService) *ProductHandler {
	return &ProductHandler{products: products}
}

func (h *ProductHandler) Register(g *Gateway, r chi.Router, route pipeline.RouteDescriptor) {
	g.Mount(r, http.MethodGet, "/products", route, Action{
		Name:   "products.list",
		Public: true,
		Cache: entitycache.Policy{
			TTL:       defaultCacheTTL,
			Keys:      []string{"page", "pageSize", "sort", "search"},
			DependsOn: []entitycache.Dependency{{Kind: domain.EntityProduct}},
		},
		Handle: h.list,
	})
	g.Mount(r, http.MethodGet, "/products/{id}", route, Action{
		Name:   "products.get",
		Public: true,
		Cache: entitycache.Policy{
			TTL:       defaultCacheTTL,
			Keys:      []string{"id"},
			DependsOn: []entitycache.Dependency{{Kind: domain.EntityProduct, IDParam: "id", Canonical: domain.CanonicalProductID}},
		},
		Handle: h.get,
	})
	g.Mount(r, http.MethodPost, "/products", route, Action{
		Name:   "products.create",
		Status: http.StatusCreated,
		Handle: h.create,
	})
	g.Mount(r, http.MethodPut, "/products/{id}", route, Action{
		Name:   "products.update",
		Handle: h.update,
	})
	g.Mount(r, http.MethodDelete, "/products/{id}", route, Action{
		Name:   "products.remove",
		Status: http.StatusNoContent,
		Handle: h.remove,
	})
	g.Mount(r, http.MethodPut, "/products/{id}/quantity/increase", route, Action{
		Name:   "products.increaseQuantity",
		Handle: h.increase,
	})
	g.Mount(r, http.MethodPut, "/products/{id}/quantity/decrease", route, Action{
		Name:   "products.decreaseQuantity",
		Handle: h.decrease,
	})
}

func (h *ProductHandler) list(ctx context.Context, req *Request) (any, error) {
	return h.products.List(ctx, paging.ParseQuery(req.Params.Get))
}

func (h *ProductHandler) get(ctx context.Context, req *Request) (any, error) {
	return h.products.Get(ctx, req.Params.String("id"))
}

func (h *ProductHandler) create(ctx context.Context, req *Request) (any, error) {
	var params models.CreateParams
	if err := req.Params.Decode(&params); err != nil {
		return nil, err
	}
	return h.products.Create(ctx, params)
}

func (h *ProductHandler) update(ctx context.Context, req *Request) (any, error) {
	var params models.UpdateParams
	if err := req.Params.Decode(&params); err != nil {
		return nil, err
	}
	return h.products.Update(ctx, req.Params.String("id"), params)
}

func (h *ProductHandler) remove(ctx context.Context, req *Request) (any, error) {
	return nil, h.products.Remove(ctx, req.Params.String("id"))
}

func (h *ProductHandler) increase(ctx context.Context, req *Request) (any, error) {
	value, err := quantityValue(req.Params)
	if err != nil {
		return nil, err
	}
	return h.products.IncreaseQuantity(ctx, req.Params.String("id"), value)
}

func (h *ProductHandler) decrease(ctx context.Context, req *Request) (any, error) {
	value, err := quantityValue(req.Params)
	if err != nil {
		return nil, err
	}
	return h.products.DecreaseQuantity(ctx, req.Params.String("id"), value)
}

func quantityValue(p Params) (int64, error) {
	if _, ok := p["value"]; !ok {
		return 0, dErrors.New(dErrors.CodeValidation, "value is required")
	}
	return p.Int("value")
}
