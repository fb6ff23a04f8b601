package routes

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/realty-dashboard/app"
	"github.com/upb/realty-dashboard/handlers"
	"github.com/upb/realty-dashboard/middleware"
	"github.com/upb/realty-dashboard/roles"
	"github.com/upb/realty-dashboard/utils"
)

// verifiableActions are the actions a client confirms server-side before
// performing them.
var verifiableActions = []roles.Capability{
	roles.ActionManageProperties,
	roles.ActionUploadContent,
	roles.ActionExportReports,
	roles.ActionManageUsers,
}

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.ClientInfo)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}
	health := handlers.NewHealthHandler(db, deps.Workspaces, deps.Logger)
	var roleAuditor handlers.RoleAuditor
	if deps.AuditService != nil {
		roleAuditor = deps.AuditService
		health.WithAuditQueue(deps.AuditService)
	}

	session := handlers.NewSessionHandler(roleAuditor, cfg.Cognito.RedirectURI, cfg.Session.VerifyTimeout, deps.Logger)
	views := handlers.NewAppHandler(deps.Logger)

	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	// Browser session endpoints, bound to the caller's workspace
	r.Route("/auth", func(r chi.Router) {
		// Signing in creates the browser's workspace
		r.Group(func(r chi.Router) {
			r.Use(deps.Workspaces.Establish)

			// Cognito hosted UI
			r.Get("/login", handlers.AuthLoginHandler(deps))
			r.Get("/callback", handlers.AuthCallbackHandler(deps))

			r.Post("/signin", session.HandleSignIn)
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Workspaces.Middleware)

			r.Get("/logout", handlers.AuthLogoutHandler(deps))
			r.Post("/signout", session.HandleSignOut)
			r.Post("/refresh", session.HandleRefresh)
			r.Get("/session", session.HandleSession)
			r.Get("/role", session.HandleRole)
			r.Post("/role/refresh", session.HandleRoleRefresh)
		})
	})
	// Cognito Hosted UI default callback path (also used by /auth/callback)
	r.With(deps.Workspaces.Establish).Get("/oauth2/idpresponse", handlers.AuthCallbackHandler(deps))

	// Application views
	r.Route("/app", func(r chi.Router) {
		r.Use(deps.Workspaces.Middleware)
		r.Use(deps.Gates.PrivateApp)

		r.Get("/dashboard", views.Section(roles.SectionDashboard))
		r.Get("/properties", views.Section(roles.SectionProperties))

		r.Group(func(r chi.Router) {
			r.Use(deps.Gates.RequireRole(roles.RoleProfessional, roles.RoleAdmin))
			r.Get("/analytics", views.Section(roles.SectionAnalytics))
			r.Get("/market-insights", views.Section(roles.SectionMarketInsights))
		})

		r.With(deps.Gates.RequireUploadRole).Get("/uploads", views.Section(roles.ActionUploadContent))

		r.Group(func(r chi.Router) {
			r.Use(deps.Gates.RequireRole(roles.RoleAdmin))
			r.Get("/admin", views.Section(roles.SectionAdminPanel))
			r.Get("/admin/users", views.Section(roles.SectionUserManagement))
		})
	})

	// Bearer token API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)

		r.With(deps.AuthMiddleware.RequireCapability(roles.SectionDashboard)).Get("/me", views.HandleMe)

		for _, c := range verifiableActions {
			r.With(deps.AuthMiddleware.RequireCapability(c)).
				Post("/actions/"+string(c)+"/verify", views.VerifyAction(c))
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}
