package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/admin-console-auth/internal/models"
	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
)

const revokedTokenPrefix = "identity:revoked:"

type identityUserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type grantStore interface {
	ListByUser(ctx context.Context, userID string) ([]models.Permission, error)
}

// IdentityConfig configures token issuance for the development identity API.
type IdentityConfig struct {
	JWTSecret   string
	SSOSecret   string
	Issuer      string
	TokenExpiry time.Duration
}

// IdentityService implements the identity API: credential checks, bearer
// token issuance and permission grants.
type IdentityService struct {
	users     identityUserStore
	grants    grantStore
	denylist  *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	config    IdentityConfig
	now       func() time.Time
}

// NewIdentityService constructs an IdentityService. Without a denylist
// logout and refresh cannot retire tokens before they expire.
func NewIdentityService(users identityUserStore, grants grantStore, denylist *CacheService, validate *validator.Validate, logger *zap.Logger, config IdentityConfig) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.TokenExpiry <= 0 {
		config.TokenExpiry = 7 * 24 * time.Hour
	}
	return &IdentityService{
		users:     users,
		grants:    grants,
		denylist:  denylist,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Login checks an email and password.
func (s *IdentityService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.activeUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	return s.issue(user)
}

// SSOLogin accepts an HS256 id token signed by the configured provider
// secret and signs in the account with the token's email.
func (s *IdentityService) SSOLogin(ctx context.Context, req models.SSOLoginRequest) (*models.AuthResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sso payload")
	}

	raw := req.IDToken
	if raw == "" {
		raw = req.AccessToken
	}
	claims := &models.SSOClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, hmacKey(s.config.SSOSecret), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid provider token")
	}
	if claims.Email == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "provider token has no email")
	}

	user, err := s.activeUserByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, appErrors.ErrInvalidCredentials) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, fmt.Sprintf("no account linked to %s", req.Provider))
		}
		return nil, err
	}
	return s.issue(user)
}

// ValidateToken parses a bearer token and rejects revoked ones.
func (s *IdentityService) ValidateToken(ctx context.Context, raw string) (*models.IdentityClaims, error) {
	claims := &models.IdentityClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	if _, err := jwt.ParseWithClaims(raw, claims, hmacKey(s.config.JWTSecret), opts...); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	var revoked bool
	if hit, _ := s.denylist.Get(ctx, revokedTokenPrefix+claims.ID, &revoked); hit && revoked {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token has been revoked")
	}
	return claims, nil
}

// Logout retires the presented token.
func (s *IdentityService) Logout(ctx context.Context, claims *models.IdentityClaims) error {
	s.revoke(ctx, claims)
	return nil
}

// Refresh retires the presented token and issues a new one.
func (s *IdentityService) Refresh(ctx context.Context, claims *models.IdentityClaims) (*models.AuthResult, error) {
	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "associated user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	s.revoke(ctx, claims)
	return s.issue(user)
}

// Permissions returns the grants of userID.
func (s *IdentityService) Permissions(ctx context.Context, userID string) (*models.PermissionGrant, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	grant := &models.PermissionGrant{IsSuperAdmin: user.IsSuperAdmin, Permissions: []models.Permission{}}
	if user.IsSuperAdmin {
		return grant, nil
	}
	permissions, err := s.grants.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load permissions")
	}
	grant.Permissions = permissions
	return grant, nil
}

func (s *IdentityService) activeUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	return user, nil
}

func (s *IdentityService) issue(user *models.User) (*models.AuthResult, error) {
	issuedAt := s.now()
	claims := &models.IdentityClaims{
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.TokenExpiry)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	return &models.AuthResult{Token: signed, User: models.InfoFromUser(user)}, nil
}

func (s *IdentityService) revoke(ctx context.Context, claims *models.IdentityClaims) {
	if claims == nil || claims.ID == "" {
		return
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Sub(s.now()); remaining > 0 {
			ttl = remaining
		}
	}
	if err := s.denylist.Set(ctx, revokedTokenPrefix+claims.ID, true, ttl); err != nil {
		s.logger.Warn("failed to revoke token", zap.String("jti", claims.ID), zap.Error(err))
	}
}

func hmacKey(secret string) jwt.Keyfunc {
	return func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}
}
