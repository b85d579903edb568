package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/admin-console-auth/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var sessionRowColumns = []string{"id", "user_id", "session_token_hash", "refresh_token_hash", "is_active", "expires_at", "last_activity", "revoked_at", "ip_address", "user_agent", "created_at"}

func TestHashTokenIsStable(t *testing.T) {
	assert.Equal(t, HashToken("tok_1"), HashToken("tok_1"))
	assert.NotEqual(t, HashToken("tok_1"), HashToken("tok_2"))
	assert.Len(t, HashToken("tok_1"), 64)
}

func TestSessionRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(1, 1))

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	session, err := repo.Create(context.Background(), models.NewSession{
		UserID:       "u1",
		SessionToken: "tok_1",
		ExpiresAt:    now.Add(7 * 24 * time.Hour),
	}, now)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.True(t, session.Active)
	assert.Equal(t, HashToken("tok_1"), session.SessionTokenHash)
	assert.Equal(t, session.SessionTokenHash, session.RefreshTokenHash)
	assert.Equal(t, now, session.LastActivity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryFindByToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	columns := append(append([]string{}, sessionRowColumns...), "email", "first_name", "last_name", "user_is_active")
	rows := sqlmock.NewRows(columns).
		AddRow("s1", "u1", HashToken("tok_1"), HashToken("tok_1"), true, now.Add(time.Hour), now, nil, "127.0.0.1", "test", now, "admin@example.com", "Ada", "Admin", true)
	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions s JOIN users u ON u.id = s.user_id WHERE s.session_token_hash = $1 AND s.is_active = TRUE AND s.expires_at > $2 LIMIT 1")).
		WithArgs(HashToken("tok_1"), now).
		WillReturnRows(rows)

	session, err := repo.FindByToken(context.Background(), "tok_1", now)
	require.NoError(t, err)
	assert.Equal(t, "s1", session.ID)
	require.NotNil(t, session.User)
	assert.Equal(t, "admin@example.com", session.User.Email)
	assert.Equal(t, "Ada Admin", session.User.FullName())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryFindByRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	columns := append(append([]string{}, sessionRowColumns...), "email", "first_name", "last_name", "user_is_active")
	rows := sqlmock.NewRows(columns).
		AddRow("s1", "u1", HashToken("tok_1"), HashToken("ref_1"), true, now.Add(time.Hour), now, nil, "127.0.0.1", "test", now, "admin@example.com", "Ada", "Admin", true)
	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions s JOIN users u ON u.id = s.user_id WHERE s.refresh_token_hash = $1 AND s.is_active = TRUE AND s.expires_at > $2 LIMIT 1")).
		WithArgs(HashToken("ref_1"), now).
		WillReturnRows(rows)

	session, err := repo.FindByRefreshToken(context.Background(), "ref_1", now)
	require.NoError(t, err)
	assert.Equal(t, "s1", session.ID)
	assert.Equal(t, HashToken("ref_1"), session.RefreshTokenHash)
	require.NotNil(t, session.User)
	assert.Equal(t, "u1", session.User.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryFindByRefreshTokenNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery("WHERE s.refresh_token_hash").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByRefreshToken(context.Background(), "ref_missing", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryFindByTokenNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectQuery("FROM sessions s JOIN users u").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByToken(context.Background(), "missing", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryRevokeKeepsFirstRevocationTime(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	query := regexp.QuoteMeta("UPDATE sessions SET is_active = FALSE, revoked_at = COALESCE(revoked_at, $2) WHERE id = $1")
	mock.ExpectExec(query).WithArgs("s1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("s1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Revoke(context.Background(), "s1", time.Now()))
	require.NoError(t, repo.Revoke(context.Background(), "s1", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryListActiveOrdersByActivity(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(sessionRowColumns).
		AddRow("s2", "u1", "h2", "h2", true, now.Add(time.Hour), now, nil, "", "", now).
		AddRow("s1", "u1", "h1", "h1", true, now.Add(time.Hour), now.Add(-time.Hour), nil, "", "", now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.user_id = $1 AND s.is_active = TRUE AND s.expires_at > $2 ORDER BY s.last_activity DESC, s.created_at DESC")).
		WithArgs("u1", now).
		WillReturnRows(rows)

	sessions, err := repo.ListActive(context.Background(), "u1", now)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryExpireStale(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET is_active = FALSE WHERE is_active = TRUE AND expires_at <= $1")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ExpireStale(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryRevokeAllForUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("UPDATE sessions SET is_active = FALSE, revoked_at = \\$2 WHERE user_id = \\$1").
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.RevokeAllForUser(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
