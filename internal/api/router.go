package api

import (
	"net/http"
	"time"

	"github.com/apnisec/backend/internal/auth"
	apperrors "github.com/apnisec/backend/internal/errors"
	"github.com/apnisec/backend/internal/events"
	"github.com/apnisec/backend/internal/health"
	"github.com/apnisec/backend/internal/metrics"
	"github.com/apnisec/backend/internal/ratelimit"
)

// Rate limit budgets, per client IP over a fixed window.
const (
	authRateLimit   = 100
	apiRateLimit    = 200
	rateLimitWindow = 15 * time.Minute
)

type Router struct {
	mux             *http.ServeMux
	authHandlers    *auth.Handlers
	authService     *auth.Service
	issueHandlers   *IssueHandlers
	profileHandlers *ProfileHandlers
	eventsHandler   *events.Handler
	healthHandler   *health.Handler

	authLimit func(http.Handler) http.Handler
	apiLimit  func(http.Handler) http.Handler
}

type RouterConfig struct {
	AuthHandlers    *auth.Handlers
	AuthService     *auth.Service
	IssueHandlers   *IssueHandlers
	ProfileHandlers *ProfileHandlers
	EventsHandler   *events.Handler
	HealthHandler   *health.Handler
}

func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		mux:             http.NewServeMux(),
		authHandlers:    cfg.AuthHandlers,
		authService:     cfg.AuthService,
		issueHandlers:   cfg.IssueHandlers,
		profileHandlers: cfg.ProfileHandlers,
		eventsHandler:   cfg.EventsHandler,
		healthHandler:   cfg.HealthHandler,
		authLimit:       ratelimit.Middleware(ratelimit.New(authRateLimit, rateLimitWindow)),
		apiLimit:        ratelimit.Middleware(ratelimit.New(apiRateLimit, rateLimitWindow)),
	}
	r.setupRoutes()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	// Health and metrics
	r.mux.HandleFunc("GET /health", r.healthHandler.HealthHandler)
	r.mux.HandleFunc("GET /health/live", r.healthHandler.LivenessHandler)
	r.mux.HandleFunc("GET /health/ready", r.healthHandler.ReadinessHandler)
	r.mux.Handle("GET /metrics", metrics.Default().Handler())

	// Auth routes (no auth required)
	r.mux.HandleFunc("POST /api/v1/auth/register", r.limited(r.authLimit, apperrors.HandleFunc(r.authHandlers.Register)))
	r.mux.HandleFunc("POST /api/v1/auth/login", r.limited(r.authLimit, apperrors.HandleFunc(r.authHandlers.Login)))
	r.mux.HandleFunc("POST /api/v1/auth/refresh", r.limited(r.authLimit, apperrors.HandleFunc(r.authHandlers.Refresh)))
	r.mux.HandleFunc("POST /api/v1/auth/forgot-password", r.limited(r.authLimit, apperrors.HandleFunc(r.authHandlers.ForgotPassword)))
	r.mux.HandleFunc("POST /api/v1/auth/reset-password", r.limited(r.authLimit, apperrors.HandleFunc(r.authHandlers.ResetPassword)))

	// Auth routes (auth required)
	r.mux.HandleFunc("POST /api/v1/auth/logout", r.limited(r.authLimit, apperrors.HandleFunc(r.authHandlers.Logout)))
	r.mux.HandleFunc("GET /api/v1/auth/me", r.withAuth(r.authLimit, apperrors.HandleFunc(r.authHandlers.Me)))

	// Issue routes (auth required)
	r.mux.HandleFunc("POST /api/v1/issues", r.withAuth(r.apiLimit, apperrors.HandleFunc(r.issueHandlers.Create)))
	r.mux.HandleFunc("GET /api/v1/issues", r.withAuth(r.apiLimit, apperrors.HandleFunc(r.issueHandlers.List)))
	r.mux.HandleFunc("GET /api/v1/issues/{id}", r.withAuth(r.apiLimit, apperrors.HandleFunc(r.issueHandlers.Get)))
	r.mux.HandleFunc("PUT /api/v1/issues/{id}", r.withAuth(r.apiLimit, apperrors.HandleFunc(r.issueHandlers.Update)))
	r.mux.HandleFunc("DELETE /api/v1/issues/{id}", r.withAuth(r.apiLimit, apperrors.HandleFunc(r.issueHandlers.Delete)))

	// Profile routes (auth required)
	r.mux.HandleFunc("GET /api/v1/users/profile", r.withAuth(r.apiLimit, apperrors.HandleFunc(r.profileHandlers.Get)))
	r.mux.HandleFunc("PUT /api/v1/users/profile", r.withAuth(r.apiLimit, apperrors.HandleFunc(r.profileHandlers.Update)))

	// Issue event stream (auth required, no rate limit on the upgrade)
	if r.eventsHandler != nil {
		r.mux.HandleFunc("GET /api/v1/events", r.withAuth(nil, r.eventsHandler.ServeWS))
	}
}

// withAuth applies the auth middleware, and optionally a rate limiter, to a
// handler.
func (r *Router) withAuth(limit func(http.Handler) http.Handler, next http.HandlerFunc) http.HandlerFunc {
	authMW := auth.Middleware(r.authService)
	h := authMW(next)
	if limit != nil {
		h = limit(h)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		h.ServeHTTP(w, req)
	}
}

func (r *Router) limited(limit func(http.Handler) http.Handler, next http.HandlerFunc) http.HandlerFunc {
	h := limit(next)
	return func(w http.ResponseWriter, req *http.Request) {
		h.ServeHTTP(w, req)
	}
}
