package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// IdentityAPI is everything the console needs from the identity API.
type IdentityAPI interface {
	identityAPI
	permissionAPI
}

// ScopeConfig tunes the services built for each identity.
type ScopeConfig struct {
	Auth               AuthConfig
	PermissionCacheTTL time.Duration
}

// Scope bundles the services of one identity.
type Scope struct {
	Auth        *AuthContext
	Permissions *PermissionResolver
}

// Attach publishes the scope on ctx.
func (s *Scope) Attach(ctx context.Context) context.Context {
	return WithPermissions(WithAuth(ctx, s.Auth), s.Permissions)
}

// ScopeFactory is the composition root for per-identity services. The
// factory holds only shared, identity-independent collaborators.
type ScopeFactory struct {
	api       IdentityAPI
	sessions  sessionStore
	users     userMirror
	cache     SessionCache
	permCache *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	config    ScopeConfig
	opts      []AuthOption
}

// NewScopeFactory constructs a ScopeFactory. cache must be safe to share
// between every scope the factory builds.
func NewScopeFactory(api IdentityAPI, sessions sessionStore, users userMirror, cache SessionCache, permCache *CacheService, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, config ScopeConfig, opts ...AuthOption) *ScopeFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ScopeFactory{
		api:       api,
		sessions:  sessions,
		users:     users,
		cache:     cache,
		permCache: permCache,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		config:    config,
		opts:      opts,
	}
}

// NewScope builds the services for the identity whose token lives in tokens.
func (f *ScopeFactory) NewScope(tokens TokenStore, nav Navigator) *Scope {
	opts := append([]AuthOption{WithNavigator(nav), WithMetrics(f.metrics)}, f.opts...)
	auth := NewAuthService(f.api, f.sessions, f.users, tokens, f.cache, f.validator, f.logger, f.config.Auth, opts...)
	resolver := NewPermissionResolver(auth, DefaultPermissionSources(f.api), f.permCache, f.config.PermissionCacheTTL, f.logger, f.metrics)
	auth.OnSignOut(resolver.Reset)
	return &Scope{Auth: NewAuthContext(auth), Permissions: resolver}
}
