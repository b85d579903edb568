package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/admin-console-auth/internal/models"
)

func TestUserRepositoryFindByEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "is_active", "is_super_admin", "password_hash", "created_at", "updated_at"}).
		AddRow("u1", "admin@example.com", "Ada", "Admin", true, true, "hash", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1")).
		WithArgs("admin@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.True(t, user.IsSuperAdmin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users .* ON CONFLICT \\(id\\) DO UPDATE").WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.User{ID: "u1", Email: "admin@example.com", Active: true}
	require.NoError(t, repo.Upsert(context.Background(), user))
	assert.False(t, user.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryCreateAuditLog(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.AuditLog{Action: models.AuditActionLogin, Resource: "session"}
	require.NoError(t, repo.CreateAuditLog(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPermissionRepositoryListByUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPermissionRepository(db)

	rows := sqlmock.NewRows([]string{"module", "action"}).
		AddRow("sessions", "read").
		AddRow("users", "write")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT module, action FROM user_permissions WHERE user_id = $1")).
		WithArgs("u1").
		WillReturnRows(rows)

	permissions, err := repo.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []models.Permission{{Module: "sessions", Action: "read"}, {Module: "users", Action: "write"}}, permissions)
	assert.NoError(t, mock.ExpectationsWereMet())
}
