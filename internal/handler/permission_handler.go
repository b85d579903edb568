package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admin-console-auth/internal/middleware"
	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
	"github.com/noah-isme/admin-console-auth/pkg/response"
)

// PermissionHandler exposes the caller's resolved permissions.
type PermissionHandler struct{}

// NewPermissionHandler creates a new handler.
func NewPermissionHandler() *PermissionHandler {
	return &PermissionHandler{}
}

// Get godoc
// @Summary My permissions
// @Description Resolved (module, action) grants and super-admin flag. Status is "failed" when no source answered; the grant list is then empty.
// @Tags Permissions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/permissions [get]
func (h *PermissionHandler) Get(c *gin.Context) {
	h.respond(c, false)
}

// Refresh godoc
// @Summary Reload my permissions
// @Description Drops any cached grant and asks the identity API again
// @Tags Permissions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/permissions/refresh [post]
func (h *PermissionHandler) Refresh(c *gin.Context) {
	h.respond(c, true)
}

func (h *PermissionHandler) respond(c *gin.Context, reload bool) {
	scope, ok := scopeFromContext(c)
	if !ok {
		return
	}
	if _, ok := currentUser(c, scope); !ok {
		return
	}
	if reload {
		scope.Permissions.Refresh(c.Request.Context())
	} else {
		scope.Permissions.Ensure(c.Request.Context())
	}
	if !scope.Auth.Service().IsAuthenticated() {
		middleware.RespondError(c, appErrors.ErrNoSession)
		return
	}
	response.JSON(c, http.StatusOK, scope.Permissions.Snapshot())
}
