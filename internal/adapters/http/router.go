package http

import (
	"context"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/application"
)

// Handler is the HTTP adapter over the security core. It only talks to application.Service.
type Handler struct {
	service *application.Service
	ready   func(context.Context) error
}

// NewHandler binds the handler to service. ready backs /readyz and may be nil.
func NewHandler(service *application.Service, ready func(context.Context) error) *Handler {
	return &Handler{service: service, ready: ready}
}

// RouterOptions carries the optional pieces of the middleware stack.
type RouterOptions struct {
	// ServiceToken, when set, is required as a bearer token on /security/v1.
	ServiceToken string
	Limiter      *ClientRateLimiter
	Metrics      http.Handler

	// TrustedProxies lists the peers whose X-Forwarded-For and X-Real-IP are believed.
	// Empty means every request is keyed on its socket peer.
	TrustedProxies []netip.Prefix
}

// NewRouter registers the security API routes and middleware stack.
func NewRouter(handler *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(NewClientIPResolver(opts.TrustedProxies).Middleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/security/v1", func(r chi.Router) {
		if opts.ServiceToken != "" {
			r.Use(serviceAuthMiddleware(opts.ServiceToken))
		}
		if opts.Limiter != nil {
			r.Use(opts.Limiter.Middleware)
		}

		r.Post("/login/evaluate", handler.evaluateLogin)
		r.Post("/login/complete", handler.completeLogin)

		r.Route("/accounts/{identity}", func(r chi.Router) {
			r.Get("/lock-status", handler.lockStatus)
			r.Post("/unlock", handler.unlockAccount)
			r.Get("/login-history", handler.loginHistory)
			r.Post("/changes", handler.recordAccountChange)
		})

		r.Post("/password-resets", handler.requestPasswordReset)
		r.Post("/password-resets/consume", handler.consumePasswordReset)

		r.Get("/events", handler.listEvents)
	})

	return r
}
