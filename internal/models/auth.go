package models

import "github.com/golang-jwt/jwt/v5"

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// SSOLoginRequest exchanges an external provider credential for a session.
type SSOLoginRequest struct {
	Provider    string `json:"provider" validate:"required,alphanum"`
	IDToken     string `json:"idToken,omitempty" validate:"required_without=AccessToken"`
	AccessToken string `json:"accessToken,omitempty" validate:"required_without=IDToken"`
	IP          string `json:"-"`
	UserAgent   string `json:"-"`
}

// ClientMeta carries the caller's network details into session mirroring.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// AuthResult is the {token, user} pair returned by login, SSO and refresh.
type AuthResult struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	User         UserInfo `json:"user"`
}

// IdentityClaims is the JWT payload issued by the development identity API.
type IdentityClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// SSOClaims is the payload of an id token presented to the SSO endpoint.
type SSOClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}
