package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admin-console-auth/internal/middleware"
	"github.com/noah-isme/admin-console-auth/internal/models"
	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
	"github.com/noah-isme/admin-console-auth/pkg/response"
)

// AuthHandler exposes sign-in and sign-out to the console UI. All state lives
// in the per-request scope built by middleware.Session.
type AuthHandler struct{}

// NewAuthHandler creates a new handler.
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// MeResponse is the signed-in user together with their permissions.
type MeResponse struct {
	User        *models.User              `json:"user"`
	Permissions models.PermissionSnapshot `json:"permissions"`
}

// Login godoc
// @Summary Sign in
// @Description Authenticate with email and password against the identity API
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		return
	}
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	meta := clientMeta(c)
	req.IP, req.UserAgent = meta.IP, meta.UserAgent

	res, err := scope.Auth.Login(c.Request.Context(), req)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res)
}

// SSOLogin godoc
// @Summary Sign in with an external provider
// @Description Exchange a provider id token or access token for a console session
// @Tags Authentication
// @Accept json
// @Produce json
// @Param provider path string true "Provider name"
// @Param payload body models.SSOLoginRequest true "Provider credential"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/sso/{provider} [post]
func (h *AuthHandler) SSOLogin(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		return
	}
	var req models.SSOLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid sso payload"))
		return
	}
	req.Provider = c.Param("provider")
	meta := clientMeta(c)
	req.IP, req.UserAgent = meta.IP, meta.UserAgent

	res, err := scope.Auth.Service().SSOLogin(c.Request.Context(), req)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res)
}

// Logout godoc
// @Summary Sign out
// @Description Ends the session. Always succeeds unless local state cannot be cleared.
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 204 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		return
	}
	if err := scope.Auth.Logout(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Refresh godoc
// @Summary Refresh token
// @Description Trade the bearer token for a fresh one
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		return
	}
	res, err := scope.Auth.Service().RefreshToken(c.Request.Context(), clientMeta(c))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res)
}

// Me godoc
// @Summary Current user
// @Description Returns the signed-in user and their permission snapshot
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	scope, ok := scopeFromContext(c)
	if !ok {
		return
	}
	user, ok := currentUser(c, scope)
	if !ok {
		return
	}
	scope.Permissions.Ensure(c.Request.Context())
	if !scope.Auth.Service().IsAuthenticated() {
		middleware.RespondError(c, appErrors.ErrNoSession)
		return
	}
	response.JSON(c, http.StatusOK, MeResponse{User: user, Permissions: scope.Permissions.Snapshot()})
}
