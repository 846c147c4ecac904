package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/adperception/survey/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers

	survey            RouteRegistrar
	surveyMiddlewares []func(http.Handler) http.Handler

	notFound http.HandlerFunc
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	// APIPrefix is the mount point of the machine-readable endpoints.
	APIPrefix = "/api/v1"

	defaultTimeout    = 120 * time.Second
	maxFormBytes      = 64 << 10
	errorNotFoundCode = "route_not_found"
)

// NewRouter constructs the chi router with shared middleware, health probes and the survey group.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
		},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()

	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	notFound := cfg.notFound
	if notFound == nil {
		notFound = func(w http.ResponseWriter, req *http.Request) {
			httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
		}
	}
	r.NotFound(notFound)

	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Group(func(group chi.Router) {
		group.Use(middleware.Timeout(defaultTimeout))
		group.Use(middleware.RequestSize(maxFormBytes))
		for _, mw := range cfg.surveyMiddlewares {
			if mw != nil {
				group.Use(mw)
			}
		}
		if cfg.survey != nil {
			cfg.survey(group)
		}
	})

	return r
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithSurveyRoutes configures the registrar responsible for the participant screens.
func WithSurveyRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.survey = reg
	}
}

// WithSurveyMiddlewares configures middlewares applied to the survey group only, typically the
// session cookie, htmx detection and CSRF checks.
func WithSurveyMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.surveyMiddlewares = append(cfg.surveyMiddlewares, mw...)
	}
}

// WithNotFoundHandler replaces the JSON 404 envelope, e.g. with an HTML page.
func WithNotFoundHandler(h http.HandlerFunc) Option {
	return func(cfg *routerConfig) {
		cfg.notFound = h
	}
}
