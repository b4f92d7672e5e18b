package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"meshgate/internal/auth/pipeline"
	"meshgate/internal/entitycache"
	"meshgate/internal/user/models"
	userservice "meshgate/internal/user/service"
	"meshgate/pkg/domain"
	"meshgate/pkg/platform/paging"
)

// defaultCacheTTL applies to every cached read action.
const defaultCacheTTL = 5 * time.Minute

// UserService is the user operations the transport exposes.
type UserService interface {
	Login(ctx context.Context, login, password string) (*userservice.LoginResult, error)
	Create(ctx context.Context, actor *domain.Identity, params models.CreateParams) (*models.View, error)
	Get(ctx context.Context, rawID string) (*models.View, error)
	GetMe(ctx context.Context, identity *domain.Identity) (*models.View, error)
	List(ctx context.Context, q paging.Query) (paging.Page[models.View], error)
	Update(ctx context.Context, actor *domain.Identity, rawID string, params models.UpdateParams) (*models.View, error)
	Remove(ctx context.Context, actor *domain.Identity, rawID string) error
}

// UserHandler serves login and self lookup on the public route and user
// administration on the admin route.
type UserHandler struct {
	users UserService
}

func NewUserHandler(users UserService) *UserHandler {
	return &UserHandler{users: users}
}

// RegisterPublic mounts login and "me" on the anonymous-permitted route.
func (h *UserHandler) RegisterPublic(g *Gateway, r chi.Router, route pipeline.RouteDescriptor) {
	g.Mount(r, http.MethodPost, "/user/login", route, Action{
		Name:   "user.login",
		Public: true,
		Handle: h.login,
	})
	g.Mount(r, http.MethodGet, "/user", route, Action{
		Name: "user.me",
		Cache: entitycache.Policy{
			TTL:       defaultCacheTTL,
			Keys:      []string{"#userID"},
			DependsOn: []entitycache.Dependency{{Kind: domain.EntityUser}},
		},
		Handle: h.me,
	})
}

// RegisterAdmin mounts user administration on the superadmin route.
func (h *UserHandler) RegisterAdmin(g *Gateway, r chi.Router, route pipeline.RouteDescriptor) {
	g.Mount(r, http.MethodGet, "/user/list", route, Action{
		Name: "user.list",
		Cache: entitycache.Policy{
			TTL:       defaultCacheTTL,
			Keys:      []string{"page", "pageSize", "sort", "search"},
			DependsOn: []entitycache.Dependency{{Kind: domain.EntityUser}},
		},
		Handle: h.list,
	})
	g.Mount(r, http.MethodGet, "/user/{id}", route, Action{
		Name: "user.get",
		Cache: entitycache.Policy{
			TTL:       defaultCacheTTL,
			Keys:      []string{"id"},
			DependsOn: []entitycache.Dependency{{Kind: domain.EntityUser, IDParam: "id", Canonical: domain.CanonicalUserID}},
		},
		Handle: h.get,
	})
	g.Mount(r, http.MethodPost, "/user", route, Action{
		Name:   "user.create",
		Status: http.StatusCreated,
		Handle: h.create,
	})
	g.Mount(r, http.MethodPut, "/user/{id}", route, Action{
		Name:   "user.update",
		Handle: h.update,
	})
	g.Mount(r, http.MethodDelete, "/user/{id}", route, Action{
		Name:   "user.remove",
		Status: http.StatusAccepted,
		Handle: h.remove,
	})
}

func (h *UserHandler) login(ctx context.Context, req *Request) (any, error) {
	res, err := h.users.Login(ctx, req.Params.String("login"), req.Params.String("password"))
	if err != nil {
		return nil, err
	}
	req.SetHeader("Authorization", "Bearer "+res.Token)
	return res.User, nil
}

func (h *UserHandler) me(ctx context.Context, req *Request) (any, error) {
	return h.users.GetMe(ctx, req.Identity)
}

func (h *UserHandler) list(ctx context.Context, req *Request) (any, error) {
	return h.users.List(ctx, paging.ParseQuery(req.Params.Get))
}

func (h *UserHandler) get(ctx context.Context, req *Request) (any, error) {
	return h.users.Get(ctx, req.Params.String("id"))
}

func (h *UserHandler) create(ctx context.Context, req *Request) (any, error) {
	var params models.CreateParams
	if err := req.Params.Decode(&params); err != nil {
		return nil, err
	}
	return h.users.Create(ctx, req.Identity, params)
}

func (h *UserHandler) update(ctx context.Context, req *Request) (any, error) {
	var params models.UpdateParams
	if err := req.Params.Decode(&params); err != nil {
		return nil, err
	}
	return h.users.Update(ctx, req.Identity, req.Params.String("id"), params)
}

func (h *UserHandler) remove(ctx context.Context, req *Request) (any, error) {
	return nil, h.users.Remove(ctx, req.Identity, req.Params.String("id"))
}
