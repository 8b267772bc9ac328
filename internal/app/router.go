package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/haven-crm/haven/internal/auth"
	"github.com/haven-crm/haven/internal/billing"
	"github.com/haven-crm/haven/internal/members"
	"github.com/haven-crm/haven/internal/observability"
	"github.com/haven-crm/haven/internal/properties"
	"github.com/haven-crm/haven/internal/ratelimit"
	"github.com/haven-crm/haven/internal/rbac"
	"github.com/haven-crm/haven/internal/shared"
	"github.com/haven-crm/haven/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	Metrics        *observability.Metrics
	RBACMiddleware rbac.Middleware

	// StandardLimiter guards every organization-scoped API route.
	StandardLimiter ratelimit.Checker
	StandardLimit   int

	AuthHandler       *auth.Handler
	MembersHandler    *members.Handler
	PropertiesHandler *properties.Handler
	BillingHandler    *billing.Handler
	JobHandler        *jobs.Handler
}

// NewRouter constructs the chi.Router with Haven defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(ratelimit.Standard, params.StandardLimiter, params.StandardLimit, SessionOrIPKey, params.Metrics, params.Logger))
		if params.MembersHandler != nil {
			r.Route("/members", params.MembersHandler.MountRoutes)
		}
		if params.PropertiesHandler != nil {
			r.Route("/properties", params.PropertiesHandler.MountRoutes)
		}
		if params.BillingHandler != nil {
			r.Route("/billing", params.BillingHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireRole(rbac.RoleAdmin))
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}

// RateLimitMiddleware builds a named limiter middleware whose rejections are
// counted in metrics.
func RateLimitMiddleware(name string, checker ratelimit.Checker, limit int, key ratelimit.KeyFunc, metrics *observability.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return ratelimit.Middleware(ratelimit.MiddlewareConfig{
		Name:     name,
		Checker:  checker,
		Limit:    limit,
		Key:      key,
		OnReject: metrics.RateLimited,
		Logger:   logger,
	})
}

// SessionOrIPKey counts signed-in users per user and everyone else per IP.
func SessionOrIPKey(r *http.Request) (string, error) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil && sess.User() != "" {
		return "user:" + sess.User(), nil
	}
	ip, err := ratelimit.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}
