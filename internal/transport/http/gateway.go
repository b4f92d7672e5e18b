package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"

	"github.com/go-chi/chi/v5"

	"meshgate/internal/auth/pipeline"
	"meshgate/internal/entitycache"
	"meshgate/pkg/domain"
	dErrors "meshgate/pkg/domain-errors"
	"meshgate/pkg/platform/httputil"
	"meshgate/pkg/requestcontext"
)

const maxBodyBytes = 1 << 20

// Admitter runs the auth pipeline for one call.
type Admitter interface {
	Admit(ctx context.Context, call pipeline.Call) (*domain.Identity, error)
}

// ReadThrougher serves cacheable actions.
type ReadThrougher interface {
	ReadThrough(ctx context.Context, key entitycache.Key, compute func(context.Context) ([]byte, error)) ([]byte, error)
}

// Action is a handler plus the metadata the pipeline and cache need.
type Action struct {
	Name   string
	Roles  domain.RoleSet
	Public bool
	Cache  entitycache.Policy
	// Status overrides the success status (default 200).
	Status int
	Handle func(ctx context.Context, req *Request) (any, error)
}

func (a Action) descriptor() pipeline.ActionDescriptor {
	return pipeline.ActionDescriptor{Name: a.Name, Roles: a.Roles, Public: a.Public}
}

// Request is what an action sees of the inbound call.
type Request struct {
	Params   Params
	Identity *domain.Identity
	header   http.Header
}

// SetHeader sets a response header. Headers are not cached with the body.
func (r *Request) SetHeader(key, value string) {
	if r.header != nil {
		r.header.Set(key, value)
	}
}

// Gateway adapts actions to HTTP: it merges params, admits the call and
// serves the result, through the entity cache when the action has a policy.
type Gateway struct {
	admitter Admitter
	cache    ReadThrougher
	logger   *slog.Logger
}

// NewGateway builds a Gateway. cache may be nil to serve every action live.
func NewGateway(admitter Admitter, cache ReadThrougher, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{admitter: admitter, cache: cache, logger: logger}
}

// Mount registers action on r for method and pattern under route.
func (g *Gateway) Mount(r chi.Router, method, pattern string, route pipeline.RouteDescriptor, action Action) {
	r.MethodFunc(method, pattern, func(w http.ResponseWriter, req *http.Request) {
		g.serve(w, req, route, action)
	})
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, route pipeline.RouteDescriptor, action Action) {
	ctx := r.Context()

	params, err := mergeParams(r)
	if err != nil {
		g.logger.DebugContext(ctx, "rejecting unreadable request body",
			"error", err,
			"action", action.Name,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	identity, err := g.admitter.Admit(ctx, pipeline.Call{
		Credential: r.Header.Get("Authorization"),
		Route:      route,
		Action:     action.descriptor(),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ctx = requestcontext.WithIdentity(ctx, identity)

	req := &Request{Params: params, Identity: identity, header: w.Header()}
	status := action.Status
	if status == 0 {
		status = http.StatusOK
	}

	if g.cache == nil || !action.Cache.Enabled() {
		value, err := action.Handle(ctx, req)
		if err != nil {
			g.writeError(ctx, w, action.Name, err)
			return
		}
		if value == nil {
			w.WriteHeader(status)
			return
		}
		httputil.WriteJSON(w, status, value)
		return
	}

	key, err := action.Cache.KeyFor(action.Name, params, identity)
	if err != nil {
		g.writeError(ctx, w, action.Name, err)
		return
	}
	body, err := g.cache.ReadThrough(ctx, key, func(ctx context.Context) ([]byte, error) {
		value, err := action.Handle(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	})
	if err != nil {
		g.writeError(ctx, w, action.Name, err)
		return
	}
	httputil.WriteRawJSON(w, status, body)
}

// writeError maps uncoded errors before writing: a passed deadline becomes a
// gateway timeout, anything else an internal error.
func (g *Gateway) writeError(ctx context.Context, w http.ResponseWriter, action string, err error) {
	if _, ok := dErrors.As(err); !ok {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = dErrors.Wrap(err, dErrors.CodeTimeout, "request timed out")
		} else {
			err = dErrors.Wrap(err, dErrors.CodeInternal, "internal error")
		}
	}
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		g.logger.ErrorContext(ctx, "action failed",
			"error", err,
			"action", action,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}

// mergeParams collects query, JSON body and path params. Later sources win:
// a path param overrides a body field of the same name.
func mergeParams(r *http.Request) (Params, error) {
	params := Params{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	if r.Body != nil && r.Body != http.NoBody {
		dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
		dec.UseNumber()
		var body map[string]any
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		maps.Copy(params, body)
	}

	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, k := range rctx.URLParams.Keys {
			if k == "*" || i >= len(rctx.URLParams.Values) {
				continue
			}
			params[k] = rctx.URLParams.Values[i]
		}
	}
	return params, nil
}
