package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admin-console-auth/internal/service"
	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
	"github.com/noah-isme/admin-console-auth/pkg/logger"
	"github.com/noah-isme/admin-console-auth/pkg/response"
)

const (
	// ContextScopeKey is the gin context key storing the request's identity scope.
	ContextScopeKey = "consoleScope"
	// ContextNavigatorKey is the gin context key storing the request's redirect recorder.
	ContextNavigatorKey = "consoleNavigator"
	// ConsolePathHeader carries the page the console UI is currently showing.
	ConsolePathHeader = "X-Console-Path"
)

// Session builds a fresh identity scope for every request from its bearer
// token and publishes it on both the gin and the request context.
func Session(factory *service.ScopeFactory) gin.HandlerFunc {
	return func(c *gin.Context) {
		nav := service.NewRedirectRecorder(c.GetHeader(ConsolePathHeader))
		scope := factory.NewScope(service.NewMemoryTokenStore(BearerToken(c)), nav)

		c.Set(ContextScopeKey, scope)
		c.Set(ContextNavigatorKey, nav)
		c.Request = c.Request.WithContext(scope.Attach(c.Request.Context()))
		c.Next()
	}
}

// RequireSession rejects requests without a live mirrored session.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := ScopeFrom(c)
		if !ok {
			RespondError(c, appErrors.ErrNoSession)
			c.Abort()
			return
		}
		user := scope.Auth.User(c.Request.Context())
		if user == nil {
			RespondError(c, appErrors.ErrNoSession)
			c.Abort()
			return
		}
		c.Set(logger.UserIDKey, user.ID)
		c.Next()
	}
}

// ScopeFrom returns the scope built by Session.
func ScopeFrom(c *gin.Context) (*service.Scope, bool) {
	value, exists := c.Get(ContextScopeKey)
	if !exists {
		return nil, false
	}
	scope, ok := value.(*service.Scope)
	return scope, ok && scope != nil
}

// NavigatorFrom returns the redirect recorder built by Session.
func NavigatorFrom(c *gin.Context) *service.RedirectRecorder {
	value, exists := c.Get(ContextNavigatorKey)
	if !exists {
		return nil
	}
	nav, _ := value.(*service.RedirectRecorder)
	return nav
}

// RespondError renders err. When the request ran the invalidation protocol
// and it asked for a redirect the response is a 401 carrying the login
// location in meta.redirect.
func RespondError(c *gin.Context, err error) {
	nav := NavigatorFrom(c)
	scope, ok := ScopeFrom(c)
	if nav == nil || !nav.Redirected() || !ok {
		response.Error(c, err)
		return
	}

	appErr := appErrors.FromError(err)
	if appErr.Status != appErrors.ErrUnauthorized.Status {
		appErr = appErrors.WithStatus(appErr, appErrors.ErrUnauthorized.Status, "")
	}
	response.Error(c, appErr, map[string]interface{}{"redirect": scope.Auth.Service().LoginPath()})
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
