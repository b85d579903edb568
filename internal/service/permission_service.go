package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/admin-console-auth/internal/identity"
	"github.com/noah-isme/admin-console-auth/internal/models"
	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
)

const permissionCachePrefix = "console:permissions:"

type permissionAPI interface {
	CurrentUserPermissions(ctx context.Context, token string) (*models.PermissionGrant, error)
	UserPermissions(ctx context.Context, token, userID string) (*models.PermissionGrant, error)
}

type sessionIdentity interface {
	GetToken() (string, bool)
	GetUser(ctx context.Context) *models.User
	HandleUnauthorized(ctx context.Context, endpoint string)
}

// PermissionSource is one step of the permission lookup chain.
type PermissionSource struct {
	Name     string
	Endpoint func(userID string) string
	Fetch    func(ctx context.Context, token, userID string) (*models.PermissionGrant, error)
}

// DefaultPermissionSources tries the current-user endpoint, then the by-id one.
func DefaultPermissionSources(api permissionAPI) []PermissionSource {
	return []PermissionSource{
		{
			Name:     "current_user",
			Endpoint: func(string) string { return identity.CurrentPermissionsPath },
			Fetch: func(ctx context.Context, token, _ string) (*models.PermissionGrant, error) {
				return api.CurrentUserPermissions(ctx, token)
			},
		},
		{
			Name:     "user_id",
			Endpoint: identity.UserPermissionsPath,
			Fetch: func(ctx context.Context, token, userID string) (*models.PermissionGrant, error) {
				return api.UserPermissions(ctx, token, userID)
			},
		},
	}
}

// PermissionResolver loads the caller's grants once and answers permission
// checks. Every failure resolves to no access.
type PermissionResolver struct {
	auth     sessionIdentity
	sources  []PermissionSource
	cache    *CacheService
	cacheTTL time.Duration
	logger   *zap.Logger
	metrics  *MetricsService

	loadMu sync.Mutex

	mu         sync.RWMutex
	status     models.PermissionStatus
	loaded     bool
	superAdmin bool
	grants     map[models.Permission]struct{}
	modules    map[string]struct{}
}

// NewPermissionResolver builds a resolver. cache may be nil.
func NewPermissionResolver(auth sessionIdentity, sources []PermissionSource, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger, metrics *MetricsService) *PermissionResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionResolver{
		auth:     auth,
		sources:  sources,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
		metrics:  metrics,
		status:   models.PermissionStatusLoading,
		grants:   map[models.Permission]struct{}{},
		modules:  map[string]struct{}{},
	}
}

// Ensure loads permissions unless a load already completed.
func (r *PermissionResolver) Ensure(ctx context.Context) {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return
	}

	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	r.mu.RLock()
	loaded = r.loaded
	r.mu.RUnlock()
	if !loaded {
		r.load(ctx)
	}
}

// Load (re)loads permissions.
func (r *PermissionResolver) Load(ctx context.Context) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	r.load(ctx)
}

// Refresh drops any cached grant and reloads.
func (r *PermissionResolver) Refresh(ctx context.Context) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if user := r.auth.GetUser(ctx); user != nil {
		_ = r.cache.Invalidate(ctx, permissionCacheKey(user.ID))
	}
	r.load(ctx)
}

func (r *PermissionResolver) load(ctx context.Context) {
	r.mu.Lock()
	r.status = models.PermissionStatusLoading
	r.mu.Unlock()

	user := r.auth.GetUser(ctx)
	if user == nil {
		r.apply(nil, models.PermissionStatusLoaded)
		return
	}

	var cached models.PermissionGrant
	if hit, _ := r.cache.Get(ctx, permissionCacheKey(user.ID), &cached); hit {
		r.metrics.RecordPermissionLoad("cache")
		r.apply(&cached, models.PermissionStatusLoaded)
		return
	}

	token, _ := r.auth.GetToken()
	grant, source, err := r.resolve(ctx, token, user.ID)
	if err != nil {
		r.logger.Warn("permission load failed, denying access", zap.String("user_id", user.ID), zap.Error(err))
		r.metrics.RecordPermissionLoad("none")
		r.apply(nil, models.PermissionStatusFailed)
		return
	}

	r.metrics.RecordPermissionLoad(source)
	_ = r.cache.Set(ctx, permissionCacheKey(user.ID), grant, r.cacheTTL)
	r.apply(grant, models.PermissionStatusLoaded)
}

// resolve walks the sources in order. A 401 runs the invalidation protocol
// and ends the chain.
func (r *PermissionResolver) resolve(ctx context.Context, token, userID string) (*models.PermissionGrant, string, error) {
	lastErr := error(appErrors.Clone(appErrors.ErrForbidden, "no permission source configured"))
	for _, source := range r.sources {
		grant, err := source.Fetch(ctx, token, userID)
		if err == nil && grant != nil {
			return grant, source.Name, nil
		}
		if err == nil {
			err = appErrors.Clone(appErrors.ErrUpstream, "empty permission payload")
		}
		if errors.Is(err, appErrors.ErrUnauthorized) {
			r.auth.HandleUnauthorized(ctx, source.Endpoint(userID))
			return nil, "", err
		}
		r.logger.Warn("permission source failed", zap.String("source", source.Name), zap.Error(err))
		lastErr = err
	}
	return nil, "", lastErr
}

func (r *PermissionResolver) apply(grant *models.PermissionGrant, status models.PermissionStatus) {
	grants := map[models.Permission]struct{}{}
	modules := map[string]struct{}{}
	superAdmin := false
	if grant != nil {
		superAdmin = grant.IsSuperAdmin
		for _, p := range grant.Permissions {
			grants[p] = struct{}{}
			modules[p.Module] = struct{}{}
		}
	}

	r.mu.Lock()
	r.grants = grants
	r.modules = modules
	r.superAdmin = superAdmin
	r.status = status
	r.loaded = true
	r.mu.Unlock()
}

// Reset drops every grant and the super-admin flag. The next Ensure loads
// again.
func (r *PermissionResolver) Reset() {
	r.mu.Lock()
	r.grants = map[models.Permission]struct{}{}
	r.modules = map[string]struct{}{}
	r.superAdmin = false
	r.status = models.PermissionStatusLoaded
	r.loaded = false
	r.mu.Unlock()
}

// HasPermission reports whether the caller holds (module, action).
func (r *PermissionResolver) HasPermission(module, action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.superAdmin {
		return true
	}
	_, ok := r.grants[models.Permission{Module: module, Action: action}]
	return ok
}

// HasAnyPermission reports whether at least one of perms is held. An empty
// list is never satisfied except by a super admin.
func (r *PermissionResolver) HasAnyPermission(perms ...models.Permission) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.superAdmin {
		return true
	}
	for _, p := range perms {
		if _, ok := r.grants[p]; ok {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every one of perms is held.
func (r *PermissionResolver) HasAllPermissions(perms ...models.Permission) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.superAdmin {
		return true
	}
	for _, p := range perms {
		if _, ok := r.grants[p]; !ok {
			return false
		}
	}
	return true
}

// CanAccess reports whether any action is held on module.
func (r *PermissionResolver) CanAccess(module string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.superAdmin {
		return true
	}
	_, ok := r.modules[module]
	return ok
}

// IsSuperAdmin reports the super-admin flag.
func (r *PermissionResolver) IsSuperAdmin() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.superAdmin
}

// Status returns the load state.
func (r *PermissionResolver) Status() models.PermissionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Permissions returns the loaded grants sorted by module then action.
func (r *PermissionResolver) Permissions() []models.Permission {
	r.mu.RLock()
	out := make([]models.Permission, 0, len(r.grants))
	for p := range r.grants {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// Snapshot returns a serialisable view of the resolver.
func (r *PermissionResolver) Snapshot() models.PermissionSnapshot {
	return models.PermissionSnapshot{
		Status:       r.Status(),
		IsSuperAdmin: r.IsSuperAdmin(),
		Permissions:  r.Permissions(),
	}
}

func permissionCacheKey(userID string) string {
	return permissionCachePrefix + userID
}
