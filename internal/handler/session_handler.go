package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admin-console-auth/internal/middleware"
	"github.com/noah-isme/admin-console-auth/internal/models"
	"github.com/noah-isme/admin-console-auth/pkg/response"
)

// SessionHandler exposes the caller's device list.
type SessionHandler struct{}

// NewSessionHandler creates a new handler.
func NewSessionHandler() *SessionHandler {
	return &SessionHandler{}
}

// List godoc
// @Summary List my sessions
// @Description Valid sessions of the caller, most recent activity first
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		return
	}
	sessions, err := scope.Auth.Service().GetActiveSessions(c.Request.Context())
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, map[string]interface{}{"total": len(sessions)})
}

// Revoke godoc
// @Summary Revoke a session
// @Description Revokes one of the caller's sessions. Revoking the current session signs the caller out.
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /auth/sessions/{id} [delete]
func (h *SessionHandler) Revoke(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		return
	}
	if err := scope.Auth.Service().RevokeSession(c.Request.Context(), c.Param("id")); err != nil {
		middleware.RespondError(c, err)
		return
	}
	response.NoContent(c)
}

// RevokeOthers godoc
// @Summary Revoke other sessions
// @Description Signs the caller out everywhere except the current session
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /auth/sessions/revoke-others [post]
func (h *SessionHandler) RevokeOthers(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		return
	}
	n, err := scope.Auth.Service().RevokeOtherSessions(c.Request.Context())
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"revoked": n})
}

type sessionAdministrator interface {
	ListForUser(ctx context.Context, userID string) ([]models.Session, error)
	RevokeAllForUser(ctx context.Context, actorID, userID string) (int64, error)
}

// SessionAdminHandler lets administrators manage other users' sessions.
type SessionAdminHandler struct {
	service sessionAdministrator
}

// NewSessionAdminHandler creates a new handler.
func NewSessionAdminHandler(svc sessionAdministrator) *SessionAdminHandler {
	return &SessionAdminHandler{service: svc}
}

// ListForUser godoc
// @Summary List a user's sessions
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/sessions/{userID} [get]
func (h *SessionAdminHandler) ListForUser(c *gin.Context) {
	sessions, err := h.service.ListForUser(c.Request.Context(), c.Param("userID"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, map[string]interface{}{"total": len(sessions)})
}

// RevokeAllForUser godoc
// @Summary Sign a user out everywhere
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/sessions/{userID} [delete]
func (h *SessionAdminHandler) RevokeAllForUser(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		return
	}
	actor, ok := currentUser(c, scope)
	if !ok {
		return
	}
	n, err := h.service.RevokeAllForUser(c.Request.Context(), actor.ID, c.Param("userID"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"revoked": n})
}
