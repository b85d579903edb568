package models

// Permission is a (module, action) grant such as ("users", "write").
type Permission struct {
	Module string `db:"module" json:"module"`
	Action string `db:"action" json:"action"`
}

// PermissionGrant is the permission payload returned by the identity API.
type PermissionGrant struct {
	Permissions  []Permission `json:"permissions"`
	IsSuperAdmin bool         `json:"is_super_admin"`
}

// PermissionStatus tracks the resolver's load state.
type PermissionStatus string

const (
	PermissionStatusLoading PermissionStatus = "loading"
	PermissionStatusLoaded  PermissionStatus = "loaded"
	// PermissionStatusFailed is the loaded-but-empty state reached when every
	// source failed.
	PermissionStatusFailed PermissionStatus = "failed"
)

// PermissionSnapshot is a serialisable view of a resolver's state.
type PermissionSnapshot struct {
	Status       PermissionStatus `json:"status"`
	IsSuperAdmin bool             `json:"is_super_admin"`
	Permissions  []Permission     `json:"permissions"`
}
