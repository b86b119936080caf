package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	adminhandler "trapper/internal/admin/handler"
	audithandler "trapper/internal/audit/handler"
	"trapper/internal/platform/metrics"
	"trapper/internal/platform/middleware"
	resolvehandler "trapper/internal/resolve/handler"
	"trapper/pkg/platform/httputil"
)

// Deps carries the wired handlers and cross-cutting settings the router needs.
// Business logic stays in the domain services; this layer only mounts them.
type Deps struct {
	Resolve   *resolvehandler.Handler
	Decisions *audithandler.Handler
	Admin     *adminhandler.Handler

	// AdminSigningKey guards the operator surface. Empty disables /admin.
	AdminSigningKey string

	// Ready reports whether downstream stores are reachable; nil means
	// readiness always passes.
	Ready func(ctx context.Context) error

	RequestTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// NewRouter wires all public endpoints behind the shared middleware chain.
func NewRouter(deps Deps) http.Handler {
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Instrument(deps.Metrics))

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", handleReady(deps.Ready))
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		deps.Resolve.Register(r)
	})

	deps.Decisions.Register(r)

	if deps.AdminSigningKey != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireOperator(deps.AdminSigningKey, deps.Logger))
			r.Use(middleware.ContentTypeJSON)
			deps.Admin.Register(r)
		})
	}

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleReady(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"reason": err.Error(),
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
