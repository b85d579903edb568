package models

import "time"

// User is the local mirror of an identity-provider account.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	Active       bool      `db:"is_active" json:"is_active"`
	IsSuperAdmin bool      `db:"is_super_admin" json:"-"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// FullName joins first and last name.
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// UserInfo is the user payload exchanged with the identity API.
type UserInfo struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Active    *bool  `json:"isActive,omitempty"`
}

// ToUser converts the wire payload into a mirror record. Accounts are active
// unless the identity API says otherwise.
func (u UserInfo) ToUser() *User {
	active := true
	if u.Active != nil {
		active = *u.Active
	}
	return &User{ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName, Active: active}
}

// InfoFromUser converts a mirror record into the wire payload.
func InfoFromUser(u *User) UserInfo {
	active := u.Active
	return UserInfo{ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName, Active: &active}
}
