package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/admin-console-auth/internal/models"
)

// PermissionRepository reads (module, action) grants.
type PermissionRepository struct {
	db *sqlx.DB
}

// NewPermissionRepository creates a new instance of PermissionRepository.
func NewPermissionRepository(db *sqlx.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// ListByUser returns the distinct grants held by a user.
func (r *PermissionRepository) ListByUser(ctx context.Context, userID string) ([]models.Permission, error) {
	const query = `SELECT DISTINCT module, action FROM user_permissions WHERE user_id = $1 ORDER BY module, action`
	permissions := make([]models.Permission, 0)
	if err := r.db.SelectContext(ctx, &permissions, query, userID); err != nil {
		return nil, fmt.Errorf("list user permissions: %w", err)
	}
	return permissions, nil
}
