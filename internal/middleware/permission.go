package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admin-console-auth/internal/models"
	"github.com/noah-isme/admin-console-auth/internal/service"
	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
)

// RequirePermission gates a route on one (module, action) grant.
func RequirePermission(module, action string) gin.HandlerFunc {
	return gate(func(r *service.PermissionResolver) bool {
		return r.HasPermission(module, action)
	})
}

// RequireAnyPermission gates a route on at least one of perms.
func RequireAnyPermission(perms ...models.Permission) gin.HandlerFunc {
	return gate(func(r *service.PermissionResolver) bool {
		return r.HasAnyPermission(perms...)
	})
}

// RequireAllPermissions gates a route on every one of perms.
func RequireAllPermissions(perms ...models.Permission) gin.HandlerFunc {
	return gate(func(r *service.PermissionResolver) bool {
		return r.HasAllPermissions(perms...)
	})
}

// RequireModule gates a route on any grant within module.
func RequireModule(module string) gin.HandlerFunc {
	return gate(func(r *service.PermissionResolver) bool {
		return r.CanAccess(module)
	})
}

// gate loads the caller's permissions and renders "access denied" when check
// fails. Loading may run the invalidation protocol, in which case the caller
// is answered as signed out.
func gate(check func(*service.PermissionResolver) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := ScopeFrom(c)
		if !ok || scope.Auth.User(c.Request.Context()) == nil {
			RespondError(c, appErrors.ErrNoSession)
			c.Abort()
			return
		}

		scope.Permissions.Ensure(c.Request.Context())
		if !scope.Auth.Service().IsAuthenticated() {
			RespondError(c, appErrors.ErrNoSession)
			c.Abort()
			return
		}
		if !check(scope.Permissions) {
			RespondError(c, appErrors.ErrAccessDenied)
			c.Abort()
			return
		}
		c.Next()
	}
}
