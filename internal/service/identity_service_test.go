package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/admin-console-auth/internal/models"
	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
)

type identityUsers struct {
	byID map[string]*models.User
}

func (s *identityUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range s.byID {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *identityUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *u
	return &copied, nil
}

type identityGrants struct {
	perms map[string][]models.Permission
	err   error
}

func (s *identityGrants) ListByUser(ctx context.Context, userID string) ([]models.Permission, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.perms[userID], nil
}

const (
	testJWTSecret = "jwt-secret"
	testSSOSecret = "sso-secret"
)

func newIdentityFixture(t *testing.T) (*IdentityService, *identityUsers, *identityGrants) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.MinCost)
	require.NoError(t, err)

	users := &identityUsers{byID: map[string]*models.User{
		"u1": {ID: "u1", Email: "admin@example.com", FirstName: "Ada", Active: true, PasswordHash: string(hash)},
		"u2": {ID: "u2", Email: "root@example.com", Active: true, IsSuperAdmin: true, PasswordHash: string(hash)},
		"u3": {ID: "u3", Email: "gone@example.com", Active: false, PasswordHash: string(hash)},
	}}
	grants := &identityGrants{perms: map[string][]models.Permission{
		"u1": {{Module: "users", Action: "read"}},
	}}
	denylist := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, zap.NewNop(), true)
	svc := NewIdentityService(users, grants, denylist, nil, zap.NewNop(), IdentityConfig{
		JWTSecret:   testJWTSecret,
		SSOSecret:   testSSOSecret,
		Issuer:      "identity-stub",
		TokenExpiry: time.Hour,
	})
	return svc, users, grants
}

func TestIdentityLoginIssuesVerifiableToken(t *testing.T) {
	svc, _, _ := newIdentityFixture(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, models.LoginRequest{Email: "admin@example.com", Password: "admin123"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "u1", res.User.ID)
	require.NotNil(t, res.User.Active)
	assert.True(t, *res.User.Active)

	claims, err := svc.ValidateToken(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "admin@example.com", claims.Email)
	assert.Equal(t, "identity-stub", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestIdentityLoginRejections(t *testing.T) {
	svc, _, _ := newIdentityFixture(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, models.LoginRequest{Email: "admin@example.com", Password: "wrong"})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))

	_, err = svc.Login(ctx, models.LoginRequest{Email: "nobody@example.com", Password: "admin123"})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))

	_, err = svc.Login(ctx, models.LoginRequest{Email: "gone@example.com", Password: "admin123"})
	assert.True(t, errors.Is(err, appErrors.ErrInactiveAccount))

	_, err = svc.Login(ctx, models.LoginRequest{Email: "not-an-email", Password: "admin123"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestIdentityValidateRejectsForeignTokens(t *testing.T) {
	svc, _, _ := newIdentityFixture(t)
	ctx := context.Background()

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.IdentityClaims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "identity-stub", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(ctx, forged)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.IdentityClaims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "elsewhere", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	_, err = svc.ValidateToken(ctx, wrongIssuer)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	_, err = svc.ValidateToken(ctx, "garbage")
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestIdentityLogoutRevokesToken(t *testing.T) {
	svc, _, _ := newIdentityFixture(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, models.LoginRequest{Email: "admin@example.com", Password: "admin123"})
	require.NoError(t, err)
	claims, err := svc.ValidateToken(ctx, res.Token)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, claims))

	_, err = svc.ValidateToken(ctx, res.Token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestIdentityRefreshRotatesToken(t *testing.T) {
	svc, users, _ := newIdentityFixture(t)
	ctx := context.Background()

	res, err := svc.Login(ctx, models.LoginRequest{Email: "admin@example.com", Password: "admin123"})
	require.NoError(t, err)
	claims, err := svc.ValidateToken(ctx, res.Token)
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, claims)
	require.NoError(t, err)
	assert.NotEqual(t, res.Token, refreshed.Token)

	_, err = svc.ValidateToken(ctx, res.Token)
	assert.Error(t, err)
	_, err = svc.ValidateToken(ctx, refreshed.Token)
	assert.NoError(t, err)

	users.byID["u1"].Active = false
	newClaims, err := svc.ValidateToken(ctx, refreshed.Token)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, newClaims)
	assert.True(t, errors.Is(err, appErrors.ErrInactiveAccount))
}

func TestIdentitySSOLogin(t *testing.T) {
	svc, _, _ := newIdentityFixture(t)
	ctx := context.Background()

	sign := func(secret, email string) string {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.SSOClaims{
			Email:            email,
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
		}).SignedString([]byte(secret))
		require.NoError(t, err)
		return raw
	}

	res, err := svc.SSOLogin(ctx, models.SSOLoginRequest{Provider: "google", IDToken: sign(testSSOSecret, "admin@example.com")})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.User.ID)

	res, err = svc.SSOLogin(ctx, models.SSOLoginRequest{Provider: "google", AccessToken: sign(testSSOSecret, "root@example.com")})
	require.NoError(t, err)
	assert.Equal(t, "u2", res.User.ID)

	_, err = svc.SSOLogin(ctx, models.SSOLoginRequest{Provider: "google", IDToken: sign("wrong", "admin@example.com")})
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	_, err = svc.SSOLogin(ctx, models.SSOLoginRequest{Provider: "google", IDToken: sign(testSSOSecret, "stranger@example.com")})
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	_, err = svc.SSOLogin(ctx, models.SSOLoginRequest{Provider: "google"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestIdentityPermissions(t *testing.T) {
	svc, _, grants := newIdentityFixture(t)
	ctx := context.Background()

	grant, err := svc.Permissions(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, grant.IsSuperAdmin)
	assert.Equal(t, []models.Permission{{Module: "users", Action: "read"}}, grant.Permissions)

	grant, err = svc.Permissions(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, grant.IsSuperAdmin)
	assert.Empty(t, grant.Permissions)

	_, err = svc.Permissions(ctx, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	grants.err = errors.New("db down")
	_, err = svc.Permissions(ctx, "u1")
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}

func TestSessionAdminRevokeAll(t *testing.T) {
	store := newFakeSessionStore()
	now := time.Now().UTC()
	store.add("u2", "tok_a", now.Add(time.Hour), now)
	store.add("u2", "tok_b", now.Add(time.Hour), now.Add(-time.Minute))
	store.add("u1", "tok_c", now.Add(time.Hour), now)
	audit := &fakeUserMirror{}
	svc := NewSessionAdminService(store, audit, nil, zap.NewNop())
	ctx := context.Background()

	sessions, err := svc.ListForUser(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	n, err := svc.RevokeAllForUser(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	sessions, err = svc.ListForUser(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, sessions)

	others, err := svc.ListForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, others, 1)

	require.Len(t, audit.auditLogs, 1)
	entry := audit.auditLogs[0]
	assert.Equal(t, models.AuditActionRevokeAll, entry.Action)
	assert.Equal(t, "u1", *entry.UserID)
	assert.Equal(t, "u2", *entry.ResourceID)
	assert.JSONEq(t, `{"revoked":2}`, string(entry.NewValues))
}
