// internal/server/router.go
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jules-labs/lending/internal/catalog"
	"github.com/jules-labs/lending/internal/circulation"
	"github.com/jules-labs/lending/internal/httpx"
	"github.com/jules-labs/lending/internal/membership"
	"github.com/jules-labs/lending/internal/policy"
)

// Dependencies are the components the HTTP surface exposes.
type Dependencies struct {
	Service circulation.Service
	Items   *catalog.Registry
	Users   *membership.Directory
	Policy  *policy.Policy
	Logger  *slog.Logger
}

// NewRouter mounts every handler under /api/v1. Administrative routes are
// limited to the actors allowed to edit the catalog.
func NewRouter(deps Dependencies) http.Handler {
	editors := deps.Policy.CatalogEditors(deps.Users)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		circulation.NewHandler(deps.Service, editors).Register(r)
		catalog.NewHandler(deps.Items, editors).Register(r)
		membership.NewHandler(deps.Users, editors).Register(r)
		policy.NewHandler(deps.Policy, deps.Users, deps.Items).Register(r)
	})
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
