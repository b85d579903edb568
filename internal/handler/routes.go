package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admin-console-auth/internal/middleware"
	"github.com/noah-isme/admin-console-auth/internal/models"
	"github.com/noah-isme/admin-console-auth/internal/service"
)

// GatewayDeps are the collaborators of the console gateway routes.
type GatewayDeps struct {
	Scopes       *service.ScopeFactory
	SessionAdmin sessionAdministrator
	Metrics      *service.MetricsService
	// Audit, when set, records admin reads of other users' sessions.
	Audit middleware.AuditWriter
}

// RegisterGatewayRoutes mounts the console API on r.
func RegisterGatewayRoutes(r gin.IRouter, deps GatewayDeps) {
	metricsHandler := NewMetricsHandler(deps.Metrics)
	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/summary", metricsHandler.Summary)

	authHandler := NewAuthHandler()
	sessionHandler := NewSessionHandler()
	permissionHandler := NewPermissionHandler()

	auth := r.Group("/auth", middleware.Session(deps.Scopes))
	auth.POST("/login", authHandler.Login)
	auth.POST("/sso/:provider", authHandler.SSOLogin)
	auth.POST("/logout", authHandler.Logout)
	auth.POST("/refresh", authHandler.Refresh)

	signedIn := auth.Group("", middleware.RequireSession())
	signedIn.GET("/me", authHandler.Me)
	signedIn.GET("/sessions", sessionHandler.List)
	signedIn.DELETE("/sessions/:id", sessionHandler.Revoke)
	signedIn.POST("/sessions/revoke-others", sessionHandler.RevokeOthers)
	signedIn.GET("/permissions", permissionHandler.Get)
	signedIn.POST("/permissions/refresh", permissionHandler.Refresh)

	if deps.SessionAdmin != nil {
		adminHandler := NewSessionAdminHandler(deps.SessionAdmin)
		admin := r.Group("/admin", middleware.Session(deps.Scopes), middleware.RequireSession())
		list := []gin.HandlerFunc{middleware.RequirePermission("sessions", "read")}
		if deps.Audit != nil {
			list = append(list, middleware.Audit(deps.Audit, models.AuditActionAdminView, "session", "userID"))
		}
		admin.GET("/sessions/:userID", append(list, adminHandler.ListForUser)...)
		admin.DELETE("/sessions/:userID", middleware.RequirePermission("sessions", "revoke"), adminHandler.RevokeAllForUser)
	}
}

// RegisterIdentityRoutes mounts the identity API on r.
func RegisterIdentityRoutes(r gin.IRouter, svc identityProvider, validator middleware.TokenValidator) {
	h := NewIdentityHandler(svc)

	authGroup := r.Group("/admin/auth")
	authGroup.POST("/login", h.Login)
	authGroup.POST("/sso/:provider", h.SSOLogin)
	authGroup.POST("/logout", middleware.JWT(validator), h.Logout)
	authGroup.POST("/refresh", middleware.JWT(validator), h.Refresh)

	protected := r.Group("/admin", middleware.JWT(validator))
	protected.GET("/permissions/me", h.CurrentPermissions)
	protected.GET("/users/:id/permissions", h.UserPermissions)
}
