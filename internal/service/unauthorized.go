package service

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/admin-console-auth/internal/identity"
	"github.com/noah-isme/admin-console-auth/internal/models"
)

// Navigator is the client's location as seen by the 401 protocol.
type Navigator interface {
	CurrentPath() string
	RedirectToLogin()
}

// HandleUnauthorized runs the invalidation protocol after endpoint answered
// 401. The mirrored session is revoked without calling the logout endpoint,
// local state is cleared whatever happens, and the navigator is sent to the
// login page unless it is already there or endpoint is an auth call.
func (s *AuthService) HandleUnauthorized(ctx context.Context, endpoint string) {
	suppress := identity.IsAuthEndpoint(endpoint) || s.onLoginPage()

	token, ok := s.tokens.Load()
	if ok {
		if session := s.findMirror(ctx, token); session != nil {
			if err := s.sessions.Revoke(ctx, session.ID, s.now()); err != nil {
				s.logger.Warn("failed to revoke invalidated session", zap.String("session_id", session.ID), zap.Error(err))
			} else {
				s.audit(ctx, session.UserID, models.AuditActionForcedRevoke, session.ID, models.ClientMeta{})
			}
		}
	}

	s.cache.Invalidate(ctx, token)
	if err := s.tokens.Clear(); err != nil {
		s.logger.Warn("failed to clear stored token", zap.Error(err))
	}
	s.signedOut()

	s.metrics.RecordInvalidation(!suppress)
	s.logger.Info("session invalidated", zap.String("endpoint", endpoint), zap.Bool("redirect", !suppress))
	if !suppress && s.navigator != nil {
		s.navigator.RedirectToLogin()
	}
}

// LoginPath returns the configured login location.
func (s *AuthService) LoginPath() string {
	return s.config.LoginPath
}

func (s *AuthService) onLoginPage() bool {
	if s.navigator == nil {
		return false
	}
	return samePath(s.navigator.CurrentPath(), s.config.LoginPath)
}

func samePath(a, b string) bool {
	return normalisePath(a) == normalisePath(b)
}

func normalisePath(p string) string {
	if u, err := url.Parse(p); err == nil {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

// RedirectRecorder is the gateway's per-request navigator. It records that a
// redirect is due so the response can tell the UI where to go.
type RedirectRecorder struct {
	mu         sync.Mutex
	path       string
	redirected bool
}

// NewRedirectRecorder returns a recorder for a client currently at path.
func NewRedirectRecorder(path string) *RedirectRecorder {
	return &RedirectRecorder{path: path}
}

// CurrentPath implements Navigator.
func (r *RedirectRecorder) CurrentPath() string {
	return r.path
}

// RedirectToLogin implements Navigator.
func (r *RedirectRecorder) RedirectToLogin() {
	r.mu.Lock()
	r.redirected = true
	r.mu.Unlock()
}

// Redirected reports whether the protocol asked for a redirect.
func (r *RedirectRecorder) Redirected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redirected
}

// NoticeNavigator tells a terminal user to sign in again, once.
type NoticeNavigator struct {
	once   sync.Once
	notify func()
}

// NewNoticeNavigator calls notify on the first redirect.
func NewNoticeNavigator(notify func()) *NoticeNavigator {
	return &NoticeNavigator{notify: notify}
}

// CurrentPath implements Navigator. A terminal is never on the login page.
func (n *NoticeNavigator) CurrentPath() string {
	return ""
}

// RedirectToLogin implements Navigator.
func (n *NoticeNavigator) RedirectToLogin() {
	n.once.Do(func() {
		if n.notify != nil {
			n.notify()
		}
	})
}
