package service

import (
	"context"
	"sync"

	"github.com/noah-isme/admin-console-auth/internal/models"
)

type authContextKey struct{}

type permissionsContextKey struct{}

// AuthContext is the ambient authentication state of one identity: the
// resolved user plus loading and error flags. The user is resolved lazily on
// first use and again on Refresh.
type AuthContext struct {
	auth *AuthService

	loadMu sync.Mutex

	mu      sync.RWMutex
	loaded  bool
	loading bool
	user    *models.User
	err     error
}

// NewAuthContext wraps auth. The published user is dropped whenever auth
// clears its token.
func NewAuthContext(auth *AuthService) *AuthContext {
	a := &AuthContext{auth: auth}
	auth.OnSignOut(a.signedOut)
	return a
}

// Service returns the wrapped AuthService.
func (a *AuthContext) Service() *AuthService {
	return a.auth
}

// User returns the current user, resolving it on first call.
func (a *AuthContext) User(ctx context.Context) *models.User {
	a.ensure(ctx)
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.user
}

// IsAuthenticated reports whether a user resolved.
func (a *AuthContext) IsAuthenticated(ctx context.Context) bool {
	return a.User(ctx) != nil
}

// Loading reports whether a resolution is in flight.
func (a *AuthContext) Loading() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loading
}

// Err returns the error of the last resolution or operation.
func (a *AuthContext) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

// Refresh resolves the user again.
func (a *AuthContext) Refresh(ctx context.Context) *models.User {
	a.loadMu.Lock()
	a.load(ctx)
	a.loadMu.Unlock()
	return a.User(ctx)
}

// Login signs in and publishes the resulting user.
func (a *AuthContext) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResult, error) {
	a.setLoading()
	res, err := a.auth.Login(ctx, req)
	if err != nil {
		a.set(nil, err)
		return nil, err
	}
	a.set(res.User.ToUser(), nil)
	return res, nil
}

// Logout signs out and clears the published user.
func (a *AuthContext) Logout(ctx context.Context) error {
	err := a.auth.Logout(ctx)
	a.set(nil, err)
	return err
}

func (a *AuthContext) ensure(ctx context.Context) {
	a.mu.RLock()
	loaded := a.loaded
	a.mu.RUnlock()
	if loaded {
		return
	}

	a.loadMu.Lock()
	defer a.loadMu.Unlock()
	a.mu.RLock()
	loaded = a.loaded
	a.mu.RUnlock()
	if !loaded {
		a.load(ctx)
	}
}

func (a *AuthContext) load(ctx context.Context) {
	a.setLoading()
	if !a.auth.IsAuthenticated() {
		a.set(nil, nil)
		return
	}
	user, err := a.auth.GetCurrentUser(ctx)
	a.set(user, err)
}

func (a *AuthContext) signedOut() {
	a.mu.Lock()
	a.user = nil
	a.loaded = true
	a.mu.Unlock()
}

func (a *AuthContext) setLoading() {
	a.mu.Lock()
	a.loading = true
	a.mu.Unlock()
}

func (a *AuthContext) set(user *models.User, err error) {
	a.mu.Lock()
	a.user = user
	a.err = err
	a.loading = false
	a.loaded = true
	a.mu.Unlock()
}

// WithAuth attaches an AuthContext to ctx.
func WithAuth(ctx context.Context, a *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, a)
}

// AuthFromContext returns the AuthContext attached to ctx.
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	a, ok := ctx.Value(authContextKey{}).(*AuthContext)
	return a, ok && a != nil
}

// WithPermissions attaches a PermissionResolver to ctx.
func WithPermissions(ctx context.Context, r *PermissionResolver) context.Context {
	return context.WithValue(ctx, permissionsContextKey{}, r)
}

// PermissionsFromContext returns the PermissionResolver attached to ctx.
func PermissionsFromContext(ctx context.Context) (*PermissionResolver, bool) {
	r, ok := ctx.Value(permissionsContextKey{}).(*PermissionResolver)
	return r, ok && r != nil
}
