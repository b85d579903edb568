package models

import "time"

// AuditAction constants represent session events to be logged.
const (
	AuditActionLogin         = "LOGIN"
	AuditActionSSOLogin      = "SSO_LOGIN"
	AuditActionLogout        = "LOGOUT"
	AuditActionRefresh       = "TOKEN_REFRESH"
	AuditActionSessionRevoke = "SESSION_REVOKE"
	AuditActionForcedRevoke  = "SESSION_INVALIDATED"
	AuditActionRevokeOthers  = "SESSION_REVOKE_OTHERS"
	AuditActionRevokeAll     = "SESSION_REVOKE_ALL"
	AuditActionAdminView     = "ADMIN_SESSIONS_VIEW"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
