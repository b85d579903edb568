package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admin-console-auth/internal/middleware"
	"github.com/noah-isme/admin-console-auth/internal/models"
	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
	"github.com/noah-isme/admin-console-auth/pkg/response"
)

type identityProvider interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthResult, error)
	SSOLogin(ctx context.Context, req models.SSOLoginRequest) (*models.AuthResult, error)
	Logout(ctx context.Context, claims *models.IdentityClaims) error
	Refresh(ctx context.Context, claims *models.IdentityClaims) (*models.AuthResult, error)
	Permissions(ctx context.Context, userID string) (*models.PermissionGrant, error)
}

// IdentityHandler serves the identity API consumed by the console.
type IdentityHandler struct {
	service identityProvider
}

// NewIdentityHandler creates a new handler.
func NewIdentityHandler(svc identityProvider) *IdentityHandler {
	return &IdentityHandler{service: svc}
}

// Login issues a bearer token for valid credentials.
func (h *IdentityHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	res, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res)
}

// SSOLogin issues a bearer token for a verified provider id token.
func (h *IdentityHandler) SSOLogin(c *gin.Context) {
	var req models.SSOLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid sso payload"))
		return
	}
	req.Provider = c.Param("provider")
	res, err := h.service.SSOLogin(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res)
}

// Logout retires the presented token.
func (h *IdentityHandler) Logout(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Logout(c.Request.Context(), claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Refresh trades the presented token for a new one.
func (h *IdentityHandler) Refresh(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	res, err := h.service.Refresh(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res)
}

// CurrentPermissions returns the grants of the token's owner.
func (h *IdentityHandler) CurrentPermissions(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	h.permissions(c, claims.UserID)
}

// UserPermissions returns the grants of the user in the path. Callers may
// read their own grants; super admins may read anyone's.
func (h *IdentityHandler) UserPermissions(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	target := c.Param("id")
	if target != claims.UserID {
		caller, err := h.service.Permissions(c.Request.Context(), claims.UserID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if !caller.IsSuperAdmin {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "cannot read another user's permissions"))
			return
		}
	}
	h.permissions(c, target)
}

func (h *IdentityHandler) permissions(c *gin.Context, userID string) {
	grant, err := h.service.Permissions(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grant)
}
