package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/admin-console-auth/internal/models"
	"github.com/noah-isme/admin-console-auth/internal/repository"
	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeIdentityAPI struct {
	mu sync.Mutex

	loginResult   *models.AuthResult
	loginErr      error
	ssoResult     *models.AuthResult
	ssoErr        error
	logoutErr     error
	refreshResult *models.AuthResult
	refreshErr    error

	currentGrant *models.PermissionGrant
	currentErr   error
	userGrant    *models.PermissionGrant
	userErr      error

	logoutCalls  int
	currentCalls int
	userCalls    int
}

func (f *fakeIdentityAPI) Login(ctx context.Context, email, password string) (*models.AuthResult, error) {
	return f.loginResult, f.loginErr
}

func (f *fakeIdentityAPI) SSOLogin(ctx context.Context, provider, idToken, accessToken string) (*models.AuthResult, error) {
	return f.ssoResult, f.ssoErr
}

func (f *fakeIdentityAPI) Logout(ctx context.Context, token string) error {
	f.mu.Lock()
	f.logoutCalls++
	f.mu.Unlock()
	return f.logoutErr
}

func (f *fakeIdentityAPI) Refresh(ctx context.Context, token string) (*models.AuthResult, error) {
	return f.refreshResult, f.refreshErr
}

func (f *fakeIdentityAPI) CurrentUserPermissions(ctx context.Context, token string) (*models.PermissionGrant, error) {
	f.mu.Lock()
	f.currentCalls++
	f.mu.Unlock()
	return f.currentGrant, f.currentErr
}

func (f *fakeIdentityAPI) UserPermissions(ctx context.Context, token, userID string) (*models.PermissionGrant, error) {
	f.mu.Lock()
	f.userCalls++
	f.mu.Unlock()
	return f.userGrant, f.userErr
}

type fakeSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	users    map[string]*models.User

	findByTokenCalls   int
	findByRefreshCalls int
	revokeCalls      int
	revokeOrder      []string
	createOrder      []string
	createErr        error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]*models.Session{}, users: map[string]*models.User{}}
}

func (f *fakeSessionStore) Create(ctx context.Context, in models.NewSession, now time.Time) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	refresh := in.RefreshToken
	if refresh == "" {
		refresh = in.SessionToken
	}
	s := &models.Session{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		SessionTokenHash: repository.HashToken(in.SessionToken),
		RefreshTokenHash: repository.HashToken(refresh),
		Active:           true,
		ExpiresAt:        in.ExpiresAt,
		LastActivity:     now,
		CreatedAt:        now,
	}
	f.sessions[s.ID] = s
	f.createOrder = append(f.createOrder, s.ID)
	copied := *s
	return &copied, nil
}

// add seeds a session directly.
func (f *fakeSessionStore) add(userID, token string, expiresAt, lastActivity time.Time) *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &models.Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		SessionTokenHash: repository.HashToken(token),
		RefreshTokenHash: repository.HashToken(token),
		Active:           true,
		ExpiresAt:        expiresAt,
		LastActivity:     lastActivity,
		CreatedAt:        lastActivity,
	}
	f.sessions[s.ID] = s
	if _, ok := f.users[userID]; !ok {
		f.users[userID] = &models.User{ID: userID, Email: userID + "@example.com", Active: true}
	}
	return s
}

func (f *fakeSessionStore) get(id string) models.Session {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return *f.sessions[id]
}

func (f *fakeSessionStore) FindByToken(ctx context.Context, token string, now time.Time) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findByTokenCalls++
	return f.findLocked(func(s *models.Session) bool { return s.SessionTokenHash == repository.HashToken(token) }, now)
}

func (f *fakeSessionStore) FindByRefreshToken(ctx context.Context, token string, now time.Time) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findByRefreshCalls++
	return f.findLocked(func(s *models.Session) bool { return s.RefreshTokenHash == repository.HashToken(token) }, now)
}

func (f *fakeSessionStore) findLocked(match func(*models.Session) bool, now time.Time) (*models.Session, error) {
	for _, s := range f.sessions {
		if match(s) && s.Valid(now) {
			copied := *s
			user, ok := f.users[s.UserID]
			if !ok {
				user = &models.User{ID: s.UserID, Active: true}
			}
			u := *user
			copied.User = &u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeSessionStore) FindByID(ctx context.Context, id string) (*models.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.LastActivity = at
	}
	return nil
}

func (f *fakeSessionStore) Revoke(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls++
	f.revokeOrder = append(f.revokeOrder, id)
	if s, ok := f.sessions[id]; ok {
		s.Active = false
		if s.RevokedAt == nil {
			revokedAt := at
			s.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (f *fakeSessionStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.sessions {
		if s.UserID == userID && s.Active {
			s.Active = false
			revokedAt := at
			s.RevokedAt = &revokedAt
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionStore) ListActive(ctx context.Context, userID string, now time.Time) ([]models.Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.Session, 0)
	for _, s := range f.sessions {
		if s.UserID == userID && s.Valid(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (f *fakeSessionStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.sessions {
		if s.Active && !now.Before(s.ExpiresAt) {
			s.Active = false
			n++
		}
	}
	return n, nil
}

type fakeUserMirror struct {
	mu        sync.Mutex
	store     *fakeSessionStore
	upserted  []*models.User
	auditLogs []*models.AuditLog
	upsertErr error
}

func (f *fakeUserMirror) Upsert(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, user)
	if f.store != nil {
		f.store.mu.Lock()
		u := *user
		f.store.users[user.ID] = &u
		f.store.mu.Unlock()
	}
	return nil
}

func (f *fakeUserMirror) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditLogs = append(f.auditLogs, log)
	return nil
}

func (f *fakeUserMirror) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.auditLogs))
	for _, l := range f.auditLogs {
		out = append(out, l.Action)
	}
	return out
}

type fakeNavigator struct {
	path      string
	redirects int
}

func (n *fakeNavigator) CurrentPath() string { return n.path }

func (n *fakeNavigator) RedirectToLogin() { n.redirects++ }

type memoryCacheRepo struct {
	mu    sync.Mutex
	items map[string][]byte
	ttls  map[string]time.Duration
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{items: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	raw, ok := m.items[key]
	m.mu.Unlock()
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.items[key] = raw
	m.ttls[key] = ttl
	m.mu.Unlock()
	return nil
}

func (m *memoryCacheRepo) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.items, k)
		delete(m.ttls, k)
	}
	m.mu.Unlock()
	return nil
}

func (m *memoryCacheRepo) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[key]
	return ok
}
