package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tripdesk/api/internal/platform/httpx"
)

// RouteRegistrar registers the routes of one API group.
type RouteRegistrar func(r chi.Router)

// Option customises NewRouter.
type Option func(*routerConfig)

const (
	defaultAPIPrefix      = "/api/v1"
	defaultRequestTimeout = 60 * time.Second
)

// apiGroups are mounted under the API prefix in this order.
var apiGroups = []string{"me", "customers", "locations", "orders", "stats", "operators", "exports", "admin", "internal"}

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

func (c *routerConfig) group(name string) *routeGroup {
	g, ok := c.groups[name]
	if !ok {
		g = &routeGroup{}
		c.groups[name] = g
	}
	return g
}

// NewRouter builds the HTTP surface. Probes live at the root; every API group is mounted under
// /api/v1 and answers 501 until a registrar is configured for it.
func NewRouter(opts ...Option) chi.Router {
	cfg := &routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultRequestTimeout),
		},
		groups: make(map[string]*routeGroup),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range apiGroups {
			g := cfg.group(name)
			api.Route("/"+name, func(sub chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if g.registrar == nil {
					notImplemented(sub, name)
					return
				}
				g.registrar(sub)
			})
		}
	})
	return r
}

func withRoutes(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(name).registrar = reg }
}

func withGroupMiddlewares(name string, mw []func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(name)
		g.middlewares = append(g.middlewares, mw...)
	}
}

// WithMiddlewares appends router-wide middleware after the defaults.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers replaces the probe handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

func WithMeRoutes(reg RouteRegistrar) Option       { return withRoutes("me", reg) }
func WithCustomerRoutes(reg RouteRegistrar) Option { return withRoutes("customers", reg) }
func WithLocationRoutes(reg RouteRegistrar) Option { return withRoutes("locations", reg) }
func WithOrderRoutes(reg RouteRegistrar) Option    { return withRoutes("orders", reg) }
func WithStatsRoutes(reg RouteRegistrar) Option    { return withRoutes("stats", reg) }
func WithOperatorRoutes(reg RouteRegistrar) Option { return withRoutes("operators", reg) }
func WithExportRoutes(reg RouteRegistrar) Option   { return withRoutes("exports", reg) }
func WithAdminRoutes(reg RouteRegistrar) Option    { return withRoutes("admin", reg) }
func WithInternalRoutes(reg RouteRegistrar) Option { return withRoutes("internal", reg) }

// WithOrderMiddlewares wraps the /orders group, e.g. with idempotency.
func WithOrderMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares("orders", mw)
}

// WithExportMiddlewares wraps the /exports group.
func WithExportMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares("exports", mw)
}

// WithInternalMiddlewares wraps the /internal group, e.g. with service token verification.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return withGroupMiddlewares("internal", mw)
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", name), http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
