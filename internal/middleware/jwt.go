package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admin-console-auth/internal/models"
	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
	"github.com/noah-isme/admin-console-auth/pkg/logger"
	"github.com/noah-isme/admin-console-auth/pkg/response"
)

// ContextClaimsKey is the gin context key storing verified bearer claims.
const ContextClaimsKey = "identityClaims"

// TokenValidator verifies bearer tokens issued by the identity API.
type TokenValidator interface {
	ValidateToken(ctx context.Context, raw string) (*models.IdentityClaims, error)
}

// JWT protects identity API routes by requiring a valid, unrevoked token.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		token := BearerToken(c)
		if token == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Set(logger.UserIDKey, claims.UserID)
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by JWT.
func ClaimsFrom(c *gin.Context) (*models.IdentityClaims, bool) {
	value, exists := c.Get(ContextClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*models.IdentityClaims)
	return claims, ok && claims != nil
}
