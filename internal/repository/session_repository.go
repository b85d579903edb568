package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/admin-console-auth/internal/models"
)

const sessionColumns = `s.id, s.user_id, s.session_token_hash, s.refresh_token_hash, s.is_active, s.expires_at, s.last_activity, s.revoked_at, s.ip_address, s.user_agent, s.created_at`

const sessionWithUserColumns = sessionColumns + `, u.email, u.first_name, u.last_name, u.is_active AS user_is_active`

// SessionRepository mirrors identity-provider sessions into PostgreSQL.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new instance of SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// HashToken returns the hex SHA-256 digest under which a bearer token is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type sessionWithUserRow struct {
	models.Session
	Email      string `db:"email"`
	FirstName  string `db:"first_name"`
	LastName   string `db:"last_name"`
	UserActive bool   `db:"user_is_active"`
}

func (r sessionWithUserRow) toSession() *models.Session {
	session := r.Session
	session.User = &models.User{
		ID:        session.UserID,
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Active:    r.UserActive,
	}
	return &session
}

// Create stores a new active session. A missing refresh token falls back to
// the session token.
func (r *SessionRepository) Create(ctx context.Context, in models.NewSession, now time.Time) (*models.Session, error) {
	refresh := in.RefreshToken
	if refresh == "" {
		refresh = in.SessionToken
	}
	session := &models.Session{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		SessionTokenHash: HashToken(in.SessionToken),
		RefreshTokenHash: HashToken(refresh),
		Active:           true,
		ExpiresAt:        in.ExpiresAt,
		LastActivity:     now,
		IPAddress:        in.IPAddress,
		UserAgent:        in.UserAgent,
		CreatedAt:        now,
	}

	const query = `INSERT INTO sessions (id, user_id, session_token_hash, refresh_token_hash, is_active, expires_at, last_activity, revoked_at, ip_address, user_agent, created_at) VALUES (:id, :user_id, :session_token_hash, :refresh_token_hash, :is_active, :expires_at, :last_activity, :revoked_at, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// FindByToken returns the valid session for a bearer token together with its user.
func (r *SessionRepository) FindByToken(ctx context.Context, token string, now time.Time) (*models.Session, error) {
	query := `SELECT ` + sessionWithUserColumns + ` FROM sessions s JOIN users u ON u.id = s.user_id WHERE s.session_token_hash = $1 AND s.is_active = TRUE AND s.expires_at > $2 LIMIT 1`
	return r.getWithUser(ctx, "find session by token", query, HashToken(token), now)
}

// FindByRefreshToken returns the valid session owning a refresh token.
func (r *SessionRepository) FindByRefreshToken(ctx context.Context, token string, now time.Time) (*models.Session, error) {
	query := `SELECT ` + sessionWithUserColumns + ` FROM sessions s JOIN users u ON u.id = s.user_id WHERE s.refresh_token_hash = $1 AND s.is_active = TRUE AND s.expires_at > $2 LIMIT 1`
	return r.getWithUser(ctx, "find session by refresh token", query, HashToken(token), now)
}

// FindByID returns a session regardless of its state.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions s WHERE s.id = $1 LIMIT 1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find session by id: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) getWithUser(ctx context.Context, op, query string, args ...interface{}) (*models.Session, error) {
	var row sessionWithUserRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return row.toSession(), nil
}

// Touch records activity on a session.
func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE sessions SET last_activity = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Revoke deactivates a session. Revoking an already revoked session keeps the
// original revocation time and is not an error.
func (r *SessionRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE sessions SET is_active = FALSE, revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser deactivates every active session of a user.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	const query = `UPDATE sessions SET is_active = FALSE, revoked_at = $2 WHERE user_id = $1 AND is_active = TRUE`
	res, err := r.db.ExecContext(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// ListActive returns a user's valid sessions, most recent activity first.
func (r *SessionRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions s WHERE s.user_id = $1 AND s.is_active = TRUE AND s.expires_at > $2 ORDER BY s.last_activity DESC, s.created_at DESC`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, userID, now); err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// ExpireStale flips sessions past their expiry to inactive. Expiry is not a
// revocation so revoked_at stays empty.
func (r *SessionRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE sessions SET is_active = FALSE WHERE is_active = TRUE AND expires_at <= $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
