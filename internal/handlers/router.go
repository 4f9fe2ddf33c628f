package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cimonstech/ventechfront-sub000/internal/platform/httpx"
)

// RouteRegistrar registers one storefront route group.
type RouteRegistrar func(r chi.Router)

type routeGroup string

const (
	groupProducts routeGroup = "products"
	groupCart     routeGroup = "cart"
	groupCoupons  routeGroup = "coupons"
	groupCheckout routeGroup = "checkout"
	groupOrders   routeGroup = "orders"
	groupWebhooks routeGroup = "webhooks"
	groupInternal routeGroup = "internal"
)

// mountOrder fixes the order groups are mounted under the API prefix.
var mountOrder = []routeGroup{groupProducts, groupCart, groupCoupons, groupCheckout, groupOrders, groupWebhooks, groupInternal}

const (
	apiPrefix         = "/api/v1"
	requestTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[routeGroup]RouteRegistrar
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the storefront API. Groups without a registrar answer 501 so that partially
// wired deployments fail loudly instead of 404ing.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
		groups: make(map[routeGroup]RouteRegistrar, len(mountOrder)),
	}
	for _, opt := range opts {
		opt(&cfg)
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
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		msg := fmt.Sprintf("%s is not supported on %s", req.Method, req.URL.Path)
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", msg, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, group := range mountOrder {
			registrar := cfg.groups[group]
			api.Route("/"+string(group), func(sub chi.Router) {
				if registrar == nil {
					unwired(sub, group)
					return
				}
				registrar(sub)
			})
		}
	})
	return r
}

// WithMiddlewares appends global middleware after the request id, real ip and timeout stack.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers behind /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

func withGroup(group routeGroup, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.groups[group] = reg
	}
}

// WithProductRoutes mounts the product price endpoints.
func WithProductRoutes(reg RouteRegistrar) Option { return withGroup(groupProducts, reg) }

// WithCartRoutes mounts the cart endpoints.
func WithCartRoutes(reg RouteRegistrar) Option { return withGroup(groupCart, reg) }

// WithCouponRoutes mounts coupon validation.
func WithCouponRoutes(reg RouteRegistrar) Option { return withGroup(groupCoupons, reg) }

// WithCheckoutRoutes mounts draft, cash and card checkout.
func WithCheckoutRoutes(reg RouteRegistrar) Option { return withGroup(groupCheckout, reg) }

// WithOrderRoutes mounts order history and guest lookup.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroup(groupOrders, reg) }

// WithWebhookRoutes mounts payment provider callbacks.
func WithWebhookRoutes(reg RouteRegistrar) Option { return withGroup(groupWebhooks, reg) }

// WithInternalRoutes mounts staff-only operations such as settlement retry.
func WithInternalRoutes(reg RouteRegistrar) Option { return withGroup(groupInternal, reg) }

func unwired(r chi.Router, group routeGroup) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		msg := fmt.Sprintf("%s routes are not available", group)
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", msg, http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
