package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/ordercore/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// RouteGroup names one of the sub-trees mounted below the API prefix.
type RouteGroup string

const (
	GroupOrders   RouteGroup = "orders"
	GroupMe       RouteGroup = "me"
	GroupTrack    RouteGroup = "track"
	GroupAdmin    RouteGroup = "admin"
	GroupInternal RouteGroup = "internal"
)

// groupOrder fixes mount order so chi resolves the same tree on every start.
var groupOrder = []RouteGroup{GroupOrders, GroupMe, GroupTrack, GroupAdmin, GroupInternal}

type mountedGroup struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	prefix         string
	requestTimeout time.Duration
	global         []func(http.Handler) http.Handler
	health         *HealthHandlers
	groups         map[RouteGroup]*mountedGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	apiPrefix             = "/api/v1"
	defaultRequestTimeout = 60 * time.Second
	errorNotFoundCode     = "route_not_found"
	errorMethodCode       = "method_not_allowed"
)

// NewRouter builds the order API tree. Groups without a registrar are left
// unmounted and fall through to the JSON 404 handler.
func NewRouter(opts ...Option) chi.Router {
	cfg := &routerConfig{
		prefix:         apiPrefix,
		requestTimeout: defaultRequestTimeout,
		groups:         make(map[RouteGroup]*mountedGroup, len(groupOrder)),
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
	r.Use(middleware.RequestID, middleware.RealIP)
	if cfg.requestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.requestTimeout))
	}
	useAll(r, cfg.global)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorMethodCode, fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.prefix, func(api chi.Router) {
		for _, name := range groupOrder {
			group, ok := cfg.groups[name]
			if !ok || group.registrar == nil {
				continue
			}
			api.Route("/"+string(name), func(sub chi.Router) {
				useAll(sub, group.middlewares)
				group.registrar(sub)
			})
		}
	})

	return r
}

func useAll(r chi.Router, mws []func(http.Handler) http.Handler) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func (c *routerConfig) group(name RouteGroup) *mountedGroup {
	g, ok := c.groups[name]
	if !ok {
		g = &mountedGroup{}
		c.groups[name] = g
	}
	return g
}

// WithMiddlewares appends global middleware applied before any group.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.global = append(cfg.global, mw...)
	}
}

// WithRequestTimeout bounds handler execution. Zero disables the timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d >= 0 {
			cfg.requestTimeout = d
		}
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithGroup mounts registrar under the named group with optional group middleware.
func WithGroup(name RouteGroup, reg RouteRegistrar, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(name)
		g.registrar = reg
		g.middlewares = append(g.middlewares, mw...)
	}
}

// WithOrderRoutes mounts order creation and lookup endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option { return WithGroup(GroupOrders, reg) }

// WithMeRoutes mounts the caller's own order history.
func WithMeRoutes(reg RouteRegistrar) Option { return WithGroup(GroupMe, reg) }

// WithTrackRoutes mounts public tracking by reference.
func WithTrackRoutes(reg RouteRegistrar) Option { return WithGroup(GroupTrack, reg) }

// WithAdminRoutes mounts operator endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option { return WithGroup(GroupAdmin, reg) }

// WithInternalRoutes mounts endpoints invoked by schedulers and other services.
func WithInternalRoutes(reg RouteRegistrar) Option { return WithGroup(GroupInternal, reg) }

// WithInternalMiddlewares guards the internal group, typically with OIDC.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(GroupInternal)
		g.middlewares = append(g.middlewares, mw...)
	}
}
