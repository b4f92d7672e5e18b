package httptransport

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"meshgate/internal/auth/pipeline"
	dErrors "meshgate/pkg/domain-errors"
)

// GreeterHandler serves the two demo greetings. Both are public.
type GreeterHandler struct{}

func NewGreeterHandler() *GreeterHandler { return &GreeterHandler{} }

func (h *GreeterHandler) Register(g *Gateway, r chi.Router, route pipeline.RouteDescriptor) {
	g.Mount(r, http.MethodGet, "/greeter/hello", route, Action{
		Name:   "greeter.hello",
		Public: true,
		Handle: h.hello,
	})
	g.Mount(r, http.MethodGet, "/greeter/welcome", route, Action{
		Name:   "greeter.welcome",
		Public: true,
		Handle: h.welcome,
	})
}

func (h *GreeterHandler) hello(context.Context, *Request) (any, error) {
	return "Hello Moleculer", nil
}

func (h *GreeterHandler) welcome(_ context.Context, req *Request) (any, error) {
	name := strings.TrimSpace(req.Params.String("name"))
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "name is required")
	}
	return "Welcome, " + name, nil
}
