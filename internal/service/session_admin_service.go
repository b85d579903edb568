package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/admin-console-auth/internal/models"
	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
)

type sessionAdminStore interface {
	ListActive(ctx context.Context, userID string, now time.Time) ([]models.Session, error)
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SessionAdminService manages the sessions of other users.
type SessionAdminService struct {
	sessions sessionAdminStore
	audit    auditWriter
	cache    SessionCache
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionAdminService constructs a SessionAdminService. cache, when set,
// is the session cache shared with the scopes whose sessions get revoked.
func NewSessionAdminService(sessions sessionAdminStore, audit auditWriter, cache SessionCache, logger *zap.Logger) *SessionAdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionAdminService{sessions: sessions, audit: audit, cache: cache, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ListForUser returns the valid sessions of userID.
func (s *SessionAdminService) ListForUser(ctx context.Context, userID string) ([]models.Session, error) {
	sessions, err := s.sessions.ListActive(ctx, userID, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, nil
}

// RevokeAllForUser signs userID out everywhere on behalf of actorID.
func (s *SessionAdminService) RevokeAllForUser(ctx context.Context, actorID, userID string) (int64, error) {
	now := s.now()
	live, err := s.sessions.ListActive(ctx, userID, now)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	n, err := s.sessions.RevokeAllForUser(ctx, userID, now)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke sessions")
	}
	if s.cache != nil {
		for _, session := range live {
			s.cache.Evict(ctx, session)
		}
	}

	actor, target := actorID, userID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actor,
		Action:     models.AuditActionRevokeAll,
		Resource:   "user",
		ResourceID: &target,
		NewValues:  []byte(fmt.Sprintf(`{"revoked":%d}`, n)),
	}); err != nil {
		s.logger.Warn("failed to record revoke-all audit log", zap.Error(err))
	}
	return n, nil
}
