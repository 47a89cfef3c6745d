package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"asset-recyclebin/internal/config"
	"asset-recyclebin/internal/handler"
	"asset-recyclebin/internal/middleware"
	"asset-recyclebin/internal/model"
)

type Handlers struct {
	Health     *handler.HealthHandler
	RecycleBin *handler.RecycleBinHandler
	Policy     *handler.PolicyHandler
	Security   *handler.SecurityHandler
	Audit      *handler.AuditHandler
	Events     *handler.EventsHandler
	// Metrics is nil when metrics are disabled.
	Metrics http.Handler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, h Handlers) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, 0)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", h.Health.Health)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	adminOnly := authMiddleware.RequireRoles(model.RoleAdmin)
	staff := authMiddleware.RequireRoles(model.RoleAdmin, model.RoleEditor)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(authMiddleware.RequireAuth)

		// The websocket feed is long lived and hijacks the connection.
		api.Get("/events", h.Events.Serve)

		api.Group(func(api chi.Router) {
			api.Use(middleware.Timeout(cfg.RequestTimeout))

			api.Delete("/objects/{type}/{id}", h.RecycleBin.SoftDelete)

			api.Route("/recycle-bin", func(bin chi.Router) {
				bin.Get("/", h.RecycleBin.List)
				bin.Post("/restore", h.RecycleBin.BulkRestore)
				bin.Post("/permanent-delete", h.RecycleBin.BulkPermanentDelete)
				bin.With(adminOnly).Post("/cleanup", h.RecycleBin.Cleanup)
				bin.Get("/{id}", h.RecycleBin.Get)
				bin.Post("/{id}/restore", h.RecycleBin.Restore)
				bin.Post("/{id}/permanent-delete", h.RecycleBin.PermanentDelete)
				bin.Post("/{id}/purge", h.RecycleBin.Purge)
			})

			api.Route("/retention-policies", func(policies chi.Router) {
				policies.Get("/", h.Policy.List)
				policies.Get("/{module}", h.Policy.Get)
				policies.Put("/{module}", h.Policy.Update)
				policies.Post("/{module}/recompute", h.Policy.Recompute)
			})

			api.Route("/security", func(sec chi.Router) {
				sec.Get("/status", h.Security.Status)
				sec.Get("/summary", h.Security.Summary)
				sec.Get("/summary/{principal}", h.Security.Summary)
				sec.With(adminOnly).Get("/suspicious", h.Security.Suspicious)
				sec.Post("/unlock/{principal}", h.Security.Unlock)
			})

			api.Route("/audit", func(audit chi.Router) {
				audit.With(adminOnly).Get("/", h.Audit.List)
				audit.With(staff).Get("/objects/{type}/{id}", h.Audit.ObjectHistory)
			})
		})
	})

	return r
}
