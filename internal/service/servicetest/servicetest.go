// Package servicetest provides in-memory collaborators for exercising the
// console services from other packages' tests.
package servicetest

import (
	"context"
	"database/sql"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/admin-console-auth/internal/models"
	"github.com/noah-isme/admin-console-auth/internal/repository"
	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
)

// Identity is a scriptable identity API. Users maps a password-login email
// to its account; Grants maps a token to its permission payload.
type Identity struct {
	mu sync.Mutex

	Users    map[string]models.UserInfo
	Password string
	Grants   map[string]*models.PermissionGrant
	// Expired tokens answer 401 on every authenticated call.
	Expired map[string]bool

	LogoutCall int
}

// NewIdentity returns an identity API accepting password for every user.
func NewIdentity(password string) *Identity {
	return &Identity{
		Users:    map[string]models.UserInfo{},
		Password: password,
		Grants:   map[string]*models.PermissionGrant{},
		Expired:  map[string]bool{},
	}
}

func (f *Identity) nextToken() string {
	return "tok_" + uuid.NewString()
}

func (f *Identity) Login(ctx context.Context, email, password string) (*models.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.Users[email]
	if !ok || password != f.Password {
		return nil, appErrors.WithStatus(appErrors.ErrUnauthorized, http.StatusUnauthorized, "Invalid credentials")
	}
	return &models.AuthResult{Token: f.nextToken(), User: user}, nil
}

func (f *Identity) SSOLogin(ctx context.Context, provider, idToken, accessToken string) (*models.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.Users[idToken]
	if !ok {
		return nil, appErrors.WithStatus(appErrors.ErrUnauthorized, http.StatusUnauthorized, "unknown provider account")
	}
	return &models.AuthResult{Token: f.nextToken(), User: user}, nil
}

func (f *Identity) Logout(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LogoutCall++
	return nil
}

func (f *Identity) Refresh(ctx context.Context, token string) (*models.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Expired[token] {
		return nil, appErrors.WithStatus(appErrors.ErrUnauthorized, http.StatusUnauthorized, "token expired")
	}
	return nil, appErrors.WithStatus(appErrors.ErrUpstream, http.StatusNotImplemented, "refresh not scripted")
}

func (f *Identity) CurrentUserPermissions(ctx context.Context, token string) (*models.PermissionGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Expired[token] {
		return nil, appErrors.WithStatus(appErrors.ErrUnauthorized, http.StatusUnauthorized, "token expired")
	}
	grant, ok := f.Grants[token]
	if !ok {
		return nil, appErrors.WithStatus(appErrors.ErrUpstream, http.StatusNotFound, "no grants")
	}
	return grant, nil
}

func (f *Identity) UserPermissions(ctx context.Context, token, userID string) (*models.PermissionGrant, error) {
	return f.CurrentUserPermissions(ctx, token)
}

// Sessions is an in-memory session and user mirror.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	users    map[string]*models.User
	audit    []models.AuditLog
}

// NewSessions returns an empty mirror.
func NewSessions() *Sessions {
	return &Sessions{sessions: map[string]*models.Session{}, users: map[string]*models.User{}}
}

// Seed mirrors a valid session for token owned by user.
func (s *Sessions) Seed(user models.User, token string, lastActivity time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := user
	s.users[user.ID] = &u
	session := &models.Session{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		SessionTokenHash: repository.HashToken(token),
		RefreshTokenHash: repository.HashToken(token),
		Active:           true,
		ExpiresAt:        time.Now().UTC().Add(24 * time.Hour),
		LastActivity:     lastActivity,
		CreatedAt:        lastActivity,
	}
	s.sessions[session.ID] = session
	return session.ID
}

// Get returns a copy of the session with id.
func (s *Sessions) Get(id string) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return models.Session{}, false
	}
	return *session, true
}

// AuditActions lists recorded audit actions in order.
func (s *Sessions) AuditActions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.audit))
	for _, entry := range s.audit {
		out = append(out, entry.Action)
	}
	return out
}

func (s *Sessions) Create(ctx context.Context, in models.NewSession, now time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refresh := in.RefreshToken
	if refresh == "" {
		refresh = in.SessionToken
	}
	session := &models.Session{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		SessionTokenHash: repository.HashToken(in.SessionToken),
		RefreshTokenHash: repository.HashToken(refresh),
		Active:           true,
		ExpiresAt:        in.ExpiresAt,
		LastActivity:     now,
		IPAddress:        in.IPAddress,
		UserAgent:        in.UserAgent,
		CreatedAt:        now,
	}
	s.sessions[session.ID] = session
	copied := *session
	return &copied, nil
}

func (s *Sessions) FindByToken(ctx context.Context, token string, now time.Time) (*models.Session, error) {
	hash := repository.HashToken(token)
	return s.find(func(session *models.Session) bool { return session.SessionTokenHash == hash }, now)
}

func (s *Sessions) FindByRefreshToken(ctx context.Context, token string, now time.Time) (*models.Session, error) {
	hash := repository.HashToken(token)
	return s.find(func(session *models.Session) bool { return session.RefreshTokenHash == hash }, now)
}

func (s *Sessions) find(match func(*models.Session) bool, now time.Time) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if match(session) && session.Valid(now) {
			copied := *session
			if user, ok := s.users[session.UserID]; ok {
				u := *user
				copied.User = &u
			}
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *Sessions) FindByID(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *session
	return &copied, nil
}

func (s *Sessions) Touch(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[id]; ok {
		session.LastActivity = at
	}
	return nil
}

func (s *Sessions) Revoke(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[id]; ok && session.Active {
		session.Active = false
		revokedAt := at
		session.RevokedAt = &revokedAt
	}
	return nil
}

func (s *Sessions) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, session := range s.sessions {
		if session.UserID == userID && session.Active {
			session.Active = false
			revokedAt := at
			session.RevokedAt = &revokedAt
			n++
		}
	}
	return n, nil
}

func (s *Sessions) ListActive(ctx context.Context, userID string, now time.Time) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Session, 0)
	for _, session := range s.sessions {
		if session.UserID == userID && session.Valid(now) {
			out = append(out, *session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (s *Sessions) Upsert(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := *user
	s.users[user.ID] = &u
	return nil
}

func (s *Sessions) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, *log)
	return nil
}
