package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
	"github.com/noah-isme/admin-console-auth/pkg/middleware/requestid"
)

func newStubServer(t *testing.T, register func(r *gin.Engine)) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, time.Second, zap.NewNop())
}

func TestClientLoginBareResponse(t *testing.T) {
	client := newStubServer(t, func(r *gin.Engine) {
		r.POST(LoginPath, func(c *gin.Context) {
			var body loginPayload
			require.NoError(t, c.ShouldBindJSON(&body))
			assert.Equal(t, "admin@example.com", body.Email)
			assert.Equal(t, "admin123", body.Password)
			c.JSON(http.StatusOK, gin.H{"token": "tok_1", "user": gin.H{"id": "u1", "email": "admin@example.com"}})
		})
	})

	res, err := client.Login(context.Background(), "admin@example.com", "admin123")
	require.NoError(t, err)
	assert.Equal(t, "tok_1", res.Token)
	assert.Equal(t, "u1", res.User.ID)
}

func TestClientRefreshEnvelopeAndHeaders(t *testing.T) {
	client := newStubServer(t, func(r *gin.Engine) {
		r.POST(RefreshPath, func(c *gin.Context) {
			assert.Equal(t, "Bearer tok_1", c.GetHeader("Authorization"))
			assert.Equal(t, "req-42", c.GetHeader(requestid.Header))
			c.JSON(http.StatusOK, gin.H{"data": gin.H{"token": "tok_2", "user": gin.H{"id": "u1"}}})
		})
	})

	ctx := requestid.WithValue(context.Background(), "req-42")
	res, err := client.Refresh(ctx, "tok_1")
	require.NoError(t, err)
	assert.Equal(t, "tok_2", res.Token)
}

func TestClientUnauthorizedCarriesServerMessage(t *testing.T) {
	client := newStubServer(t, func(r *gin.Engine) {
		r.POST(LoginPath, func(c *gin.Context) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "INVALID_CREDENTIALS", "message": "invalid email or password"}})
		})
	})

	_, err := client.Login(context.Background(), "admin@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
	appErr := appErrors.FromError(err)
	assert.Equal(t, http.StatusUnauthorized, appErr.Status)
	assert.Equal(t, "invalid email or password", appErr.Message)
}

func TestClientGenericHTTPErrorCarriesStatus(t *testing.T) {
	client := newStubServer(t, func(r *gin.Engine) {
		r.GET(CurrentPermissionsPath, func(c *gin.Context) {
			c.Status(http.StatusInternalServerError)
		})
	})

	_, err := client.CurrentUserPermissions(context.Background(), "tok_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUpstream))
	appErr := appErrors.FromError(err)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.Equal(t, "HTTP error! status: 500", appErr.Message)
}

func TestClientUserPermissionsMessageField(t *testing.T) {
	client := newStubServer(t, func(r *gin.Engine) {
		r.GET("/admin/users/:id/permissions", func(c *gin.Context) {
			if c.Param("id") != "u1" {
				c.JSON(http.StatusNotFound, gin.H{"message": "user not found"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"permissions": []gin.H{{"module": "users", "action": "read"}}, "is_super_admin": false})
		})
	})

	grant, err := client.UserPermissions(context.Background(), "tok_1", "u1")
	require.NoError(t, err)
	require.Len(t, grant.Permissions, 1)
	assert.Equal(t, "users", grant.Permissions[0].Module)

	_, err = client.UserPermissions(context.Background(), "tok_1", "u2")
	require.Error(t, err)
	assert.Equal(t, "user not found", appErrors.FromError(err).Message)
}

func TestClientUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url, time.Second, zap.NewNop())
	err := client.Logout(context.Background(), "tok_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrServerUnreachable))
	assert.Equal(t, http.StatusServiceUnavailable, appErrors.FromError(err).Status)
}

func TestIsAuthEndpoint(t *testing.T) {
	assert.True(t, IsAuthEndpoint(LoginPath))
	assert.True(t, IsAuthEndpoint(SSOPathPrefix+"google"))
	assert.False(t, IsAuthEndpoint(CurrentPermissionsPath))
	assert.Equal(t, "/admin/users/u%201/permissions", UserPermissionsPath("u 1"))
}
