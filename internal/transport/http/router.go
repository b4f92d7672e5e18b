// Package httptransport exposes the sample services over HTTP. Every action
// goes through the Gateway, which runs the auth pipeline and the entity cache
// before the handler.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"meshgate/internal/auth/pipeline"
	"meshgate/internal/platform/metrics"
	"meshgate/internal/platform/middleware"
	"meshgate/pkg/domain"
	"meshgate/pkg/platform/httputil"
	"meshgate/pkg/platform/middleware/metadata"
	"meshgate/pkg/platform/middleware/requesttime"
)

// Route descriptors. "/api" admits anonymous callers and leaves the decision
// to each action; "/api/admin" requires a superadmin credential.
var (
	APIRoute   = pipeline.RouteDescriptor{Name: "api", Anonymous: true}
	AdminRoute = pipeline.RouteDescriptor{Name: "admin", Roles: domain.NewRoleSet(domain.RoleSuperAdmin)}
)

// RouterConfig carries what NewRouter wires together.
type RouterConfig struct {
	Gateway        *Gateway
	Users          *UserHandler
	Products       *ProductHandler
	Greeter        *GreeterHandler
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	// Health reports backend readiness; nil means always healthy.
	Health func(r *http.Request) error
}

// NewRouter builds the HTTP handler for the whole service.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.LatencyMiddleware(cfg.Metrics))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(req); err != nil {
				logger.WarnContext(req.Context(), "health check failed", "error", err)
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		if cfg.RequestTimeout > 0 {
			api.Use(middleware.Timeout(cfg.RequestTimeout))
		}
		if cfg.Greeter != nil {
			cfg.Greeter.Register(cfg.Gateway, api, APIRoute)
		}
		if cfg.Users != nil {
			cfg.Users.RegisterPublic(cfg.Gateway, api, APIRoute)
		}
		if cfg.Products != nil {
			cfg.Products.Register(cfg.Gateway, api, APIRoute)
		}
		api.Route("/admin", func(admin chi.Router) {
			if cfg.Users != nil {
				cfg.Users.RegisterAdmin(cfg.Gateway, admin, AdminRoute)
			}
		})
	})

	return otelhttp.NewHandler(r, "meshgate.http")
}
