package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/admin-console-auth/internal/identity"
	"github.com/noah-isme/admin-console-auth/internal/models"
	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

type identityAPI interface {
	Login(ctx context.Context, email, password string) (*models.AuthResult, error)
	SSOLogin(ctx context.Context, provider, idToken, accessToken string) (*models.AuthResult, error)
	Logout(ctx context.Context, token string) error
	Refresh(ctx context.Context, token string) (*models.AuthResult, error)
}

type sessionStore interface {
	Create(ctx context.Context, in models.NewSession, now time.Time) (*models.Session, error)
	FindByToken(ctx context.Context, token string, now time.Time) (*models.Session, error)
	FindByRefreshToken(ctx context.Context, token string, now time.Time) (*models.Session, error)
	FindByID(ctx context.Context, id string) (*models.Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string, at time.Time) error
	ListActive(ctx context.Context, userID string, now time.Time) ([]models.Session, error)
}

type userMirror interface {
	Upsert(ctx context.Context, user *models.User) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	SessionValidity time.Duration
	LoginPath       string
}

// AuthOption customises an AuthService.
type AuthOption func(*AuthService)

// WithClock replaces the time source.
func WithClock(now func() time.Time) AuthOption {
	return func(s *AuthService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNavigator sets the navigator driven by the 401 protocol.
func WithNavigator(n Navigator) AuthOption {
	return func(s *AuthService) {
		s.navigator = n
	}
}

// WithMetrics attaches instrumentation.
func WithMetrics(m *MetricsService) AuthOption {
	return func(s *AuthService) {
		s.metrics = m
	}
}

// AuthService is the single identity's point of contact with the identity API
// and the session mirror. Build one per identity; it holds no global state.
type AuthService struct {
	api       identityAPI
	sessions  sessionStore
	users     userMirror
	tokens    TokenStore
	cache     SessionCache
	navigator Navigator
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	config    AuthConfig
	now       func() time.Time

	signOutHooks []func()
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(api identityAPI, sessions sessionStore, users userMirror, tokens TokenStore, cache SessionCache, validate *validator.Validate, logger *zap.Logger, config AuthConfig, opts ...AuthOption) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.SessionValidity <= 0 {
		config.SessionValidity = 7 * 24 * time.Hour
	}
	if config.LoginPath == "" {
		config.LoginPath = "/login"
	}
	s := &AuthService{
		api:       api,
		sessions:  sessions,
		users:     users,
		tokens:    tokens,
		cache:     cache,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnSignOut registers fn to run every time the stored token is cleared.
// Register hooks before the service is shared.
func (s *AuthService) OnSignOut(fn func()) {
	if fn != nil {
		s.signOutHooks = append(s.signOutHooks, fn)
	}
}

func (s *AuthService) signedOut() {
	for _, fn := range s.signOutHooks {
		fn()
	}
}

// Login authenticates with email and password and mirrors the new session.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	res, err := s.api.Login(ctx, req.Email, req.Password)
	if err != nil {
		s.metrics.RecordAuthEvent(models.AuditActionLogin, outcomeFailure)
		return nil, s.authFailure(ctx, identity.LoginPath, err)
	}

	if err := s.establish(ctx, res, models.ClientMeta{IP: req.IP, UserAgent: req.UserAgent}, models.AuditActionLogin); err != nil {
		return nil, err
	}
	return res, nil
}

// SSOLogin exchanges an external provider credential for a session.
func (s *AuthService) SSOLogin(ctx context.Context, req models.SSOLoginRequest) (*models.AuthResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sso payload")
	}

	res, err := s.api.SSOLogin(ctx, req.Provider, req.IDToken, req.AccessToken)
	if err != nil {
		s.metrics.RecordAuthEvent(models.AuditActionSSOLogin, outcomeFailure)
		return nil, s.authFailure(ctx, identity.SSOPathPrefix+req.Provider, err)
	}

	if err := s.establish(ctx, res, models.ClientMeta{IP: req.IP, UserAgent: req.UserAgent}, models.AuditActionSSOLogin); err != nil {
		return nil, err
	}
	return res, nil
}

// Logout ends the session. The remote call is best effort; local state is
// cleared last and always.
func (s *AuthService) Logout(ctx context.Context) error {
	token, ok := s.tokens.Load()
	if ok {
		if err := s.api.Logout(ctx, token); err != nil {
			s.logger.Warn("remote logout failed", zap.Error(err))
		}

		if session := s.findMirror(ctx, token); session != nil {
			if err := s.sessions.Revoke(ctx, session.ID, s.now()); err != nil {
				s.logger.Warn("failed to revoke mirrored session", zap.String("session_id", session.ID), zap.Error(err))
			}
			s.audit(ctx, session.UserID, models.AuditActionLogout, session.ID, models.ClientMeta{})
		}
	}

	s.cache.Invalidate(ctx, token)
	err := s.tokens.Clear()
	s.signedOut()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear stored token")
	}
	s.metrics.RecordAuthEvent(models.AuditActionLogout, outcomeSuccess)
	return nil
}

// GetToken reads the stored token without touching the network or the cache.
func (s *AuthService) GetToken() (string, bool) {
	return s.tokens.Load()
}

// IsAuthenticated reports whether a token is stored. It does not verify it.
func (s *AuthService) IsAuthenticated() bool {
	_, ok := s.tokens.Load()
	return ok
}

// CurrentSession resolves the caller's mirrored session through the cache.
// A token the store does not recognise is discarded.
func (s *AuthService) CurrentSession(ctx context.Context) *models.Session {
	token, ok := s.tokens.Load()
	if !ok {
		s.cache.Invalidate(ctx, "")
		return nil
	}

	if cached, hit := s.cache.Get(ctx, token); hit {
		return cached
	}

	now := s.now()
	session, err := s.sessions.FindByToken(ctx, token, now)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("session lookup failed", zap.Error(err))
		}
		s.cache.Invalidate(ctx, token)
		if clearErr := s.tokens.Clear(); clearErr != nil {
			s.logger.Warn("failed to clear stored token", zap.Error(clearErr))
		}
		s.signedOut()
		return nil
	}

	if err := s.sessions.Touch(ctx, session.ID, now); err != nil {
		s.logger.Warn("failed to touch session", zap.String("session_id", session.ID), zap.Error(err))
	} else {
		session.LastActivity = now
	}

	s.cache.Put(ctx, token, session)
	return session
}

// GetUser returns the current user or nil.
func (s *AuthService) GetUser(ctx context.Context) *models.User {
	session := s.CurrentSession(ctx)
	if session == nil {
		return nil
	}
	return session.User
}

// GetCurrentUser returns the current user or ErrNoSession.
func (s *AuthService) GetCurrentUser(ctx context.Context) (*models.User, error) {
	user := s.GetUser(ctx)
	if user == nil {
		return nil, appErrors.Clone(appErrors.ErrNoSession, "")
	}
	return user, nil
}

// RefreshToken trades the stored token for a fresh one. The old mirrored
// session is revoked before the new one is created.
func (s *AuthService) RefreshToken(ctx context.Context, meta models.ClientMeta) (*models.AuthResult, error) {
	token, ok := s.tokens.Load()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNoSession, "")
	}

	res, err := s.api.Refresh(ctx, token)
	if err != nil {
		s.metrics.RecordAuthEvent(models.AuditActionRefresh, outcomeFailure)
		return nil, s.authFailure(ctx, identity.RefreshPath, err)
	}

	if old := s.findRefreshedMirror(ctx, token); old != nil {
		if err := s.sessions.Revoke(ctx, old.ID, s.now()); err != nil {
			s.logger.Warn("failed to revoke refreshed session", zap.String("session_id", old.ID), zap.Error(err))
		}
	}
	s.cache.Invalidate(ctx, token)

	if err := s.establish(ctx, res, meta, models.AuditActionRefresh); err != nil {
		return nil, err
	}
	return res, nil
}

// GetActiveSessions lists the caller's valid sessions, most recent activity
// first, flagging the one bound to the current token.
func (s *AuthService) GetActiveSessions(ctx context.Context) ([]models.Session, error) {
	current := s.CurrentSession(ctx)
	if current == nil {
		return nil, appErrors.Clone(appErrors.ErrNoSession, "")
	}

	sessions, err := s.sessions.ListActive(ctx, current.UserID, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	for i := range sessions {
		sessions[i].Current = sessions[i].ID == current.ID
	}
	return sessions, nil
}

// RevokeSession revokes one of the caller's sessions. Revoking an already
// revoked session succeeds. Revoking the current session clears local state.
func (s *AuthService) RevokeSession(ctx context.Context, id string) error {
	current := s.CurrentSession(ctx)
	if current == nil {
		return appErrors.Clone(appErrors.ErrNoSession, "")
	}

	target, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if target.UserID != current.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "session does not belong to user")
	}

	if err := s.sessions.Revoke(ctx, id, s.now()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke session")
	}
	s.cache.Evict(ctx, *target)
	s.audit(ctx, current.UserID, models.AuditActionSessionRevoke, id, models.ClientMeta{})
	s.metrics.RecordAuthEvent(models.AuditActionSessionRevoke, outcomeSuccess)

	if id == current.ID {
		s.clearLocal(ctx)
	}
	return nil
}

// RevokeOtherSessions revokes every active session of the caller except the
// current one and returns how many were revoked.
func (s *AuthService) RevokeOtherSessions(ctx context.Context) (int, error) {
	current := s.CurrentSession(ctx)
	if current == nil {
		return 0, appErrors.Clone(appErrors.ErrNoSession, "")
	}

	sessions, err := s.sessions.ListActive(ctx, current.UserID, s.now())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}

	revoked := 0
	for _, session := range sessions {
		if session.ID == current.ID {
			continue
		}
		if err := s.sessions.Revoke(ctx, session.ID, s.now()); err != nil {
			return revoked, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke session")
		}
		s.cache.Evict(ctx, session)
		revoked++
	}

	if revoked > 0 {
		s.audit(ctx, current.UserID, models.AuditActionRevokeOthers, current.ID, models.ClientMeta{})
	}
	s.metrics.RecordAuthEvent(models.AuditActionRevokeOthers, outcomeSuccess)
	return revoked, nil
}

// establish stores the new token and mirrors the session. Only token storage
// failures are fatal; the identity API is authoritative for the rest.
func (s *AuthService) establish(ctx context.Context, res *models.AuthResult, meta models.ClientMeta, action string) error {
	if res == nil || res.Token == "" {
		s.metrics.RecordAuthEvent(action, outcomeFailure)
		return appErrors.Clone(appErrors.ErrAuthentication, "identity API returned no token")
	}

	if previous, ok := s.tokens.Load(); ok {
		s.cache.Invalidate(ctx, previous)
	}
	if err := s.tokens.Save(res.Token); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store token")
	}

	now := s.now()
	user := res.User.ToUser()
	if err := s.users.Upsert(ctx, user); err != nil {
		s.logger.Warn("failed to mirror user", zap.String("user_id", user.ID), zap.Error(err))
	}

	session, err := s.sessions.Create(ctx, models.NewSession{
		UserID:       user.ID,
		SessionToken: res.Token,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    now.Add(s.config.SessionValidity),
		IPAddress:    meta.IP,
		UserAgent:    meta.UserAgent,
	}, now)
	if err != nil {
		s.logger.Warn("failed to mirror session", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		session.User = user
		s.cache.Put(ctx, res.Token, session)
		s.audit(ctx, user.ID, action, session.ID, meta)
	}

	s.metrics.RecordAuthEvent(action, outcomeSuccess)
	return nil
}

// authFailure maps a failed login or refresh call. A 401 runs the
// invalidation protocol first; every non-2xx becomes an authentication error
// carrying the server's message.
func (s *AuthService) authFailure(ctx context.Context, endpoint string, err error) error {
	var appErr *appErrors.Error
	if !errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, appErrors.ErrUnauthorized):
		s.HandleUnauthorized(ctx, endpoint)
		message := appErr.Message
		if message == appErrors.ErrUnauthorized.Message {
			message = ""
		}
		return appErrors.WithStatus(appErrors.ErrAuthentication, http.StatusUnauthorized, message)
	case errors.Is(err, appErrors.ErrUpstream):
		return appErrors.WithStatus(appErrors.ErrAuthentication, appErr.Status, appErr.Message)
	}
	return err
}

func (s *AuthService) findMirror(ctx context.Context, token string) *models.Session {
	session, err := s.sessions.FindByToken(ctx, token, s.now())
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("mirrored session lookup failed", zap.Error(err))
		}
		return nil
	}
	return session
}

// findRefreshedMirror locates the session retired by a refresh. The presented
// credential is matched as a refresh token first, then as a session token for
// rows that carry a distinct refresh token.
func (s *AuthService) findRefreshedMirror(ctx context.Context, token string) *models.Session {
	session, err := s.sessions.FindByRefreshToken(ctx, token, s.now())
	if err == nil {
		return session
	}
	if !errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("mirrored session lookup by refresh token failed", zap.Error(err))
	}
	return s.findMirror(ctx, token)
}

func (s *AuthService) clearLocal(ctx context.Context) {
	token, _ := s.tokens.Load()
	s.cache.Invalidate(ctx, token)
	if err := s.tokens.Clear(); err != nil {
		s.logger.Warn("failed to clear stored token", zap.Error(err))
	}
	s.signedOut()
}

func (s *AuthService) audit(ctx context.Context, userID, action, sessionID string, meta models.ClientMeta) {
	if userID == "" {
		return
	}
	uid, sid := userID, sessionID
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &uid,
		Action:     action,
		Resource:   "session",
		ResourceID: &sid,
		NewValues:  []byte(fmt.Sprintf(`{"session_id":%q}`, sessionID)),
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
