package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admin-console-auth/internal/middleware"
	"github.com/noah-isme/admin-console-auth/internal/models"
	"github.com/noah-isme/admin-console-auth/internal/service"
	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
	"github.com/noah-isme/admin-console-auth/pkg/logger"
)

// scopeFromContext returns the request scope or renders a 401 and reports false.
func scopeFromContext(c *gin.Context) (*service.Scope, bool) {
	scope, ok := middleware.ScopeFrom(c)
	if !ok {
		middleware.RespondError(c, appErrors.ErrNoSession)
		return nil, false
	}
	return scope, true
}

// currentUser resolves the caller and publishes its id for request logging.
func currentUser(c *gin.Context, scope *service.Scope) (*models.User, bool) {
	user := scope.Auth.User(c.Request.Context())
	if user == nil {
		middleware.RespondError(c, appErrors.ErrNoSession)
		return nil, false
	}
	c.Set(logger.UserIDKey, user.ID)
	return user, true
}

func clientMeta(c *gin.Context) models.ClientMeta {
	return models.ClientMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}
