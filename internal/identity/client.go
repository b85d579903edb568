// Package identity is the HTTP client for the remote identity API that issues
// console bearer tokens and permission grants.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/admin-console-auth/internal/models"
	appErrors "github.com/noah-isme/admin-console-auth/pkg/errors"
	"github.com/noah-isme/admin-console-auth/pkg/middleware/requestid"
)

// Endpoint paths served by the identity API.
const (
	AuthPathPrefix         = "/admin/auth/"
	LoginPath              = "/admin/auth/login"
	SSOPathPrefix          = "/admin/auth/sso/"
	LogoutPath             = "/admin/auth/logout"
	RefreshPath            = "/admin/auth/refresh"
	CurrentPermissionsPath = "/admin/permissions/me"
	userPermissionsPath    = "/admin/users/%s/permissions"
)

const maxBodyBytes = 1 << 20

// IsAuthEndpoint reports whether path belongs to the authentication surface.
func IsAuthEndpoint(path string) bool {
	return strings.HasPrefix(path, AuthPathPrefix)
}

// UserPermissionsPath returns the by-user permission endpoint for userID.
func UserPermissionsPath(userID string) string {
	return fmt.Sprintf(userPermissionsPath, url.PathEscape(userID))
}

// Client talks JSON over HTTP to the identity API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// NewClient constructs a Client for baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ssoPayload struct {
	Provider    string `json:"provider"`
	IDToken     string `json:"idToken,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*models.AuthResult, error) {
	var out models.AuthResult
	if err := c.do(ctx, http.MethodPost, LoginPath, "", loginPayload{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SSOLogin exchanges an external provider credential for a bearer token.
func (c *Client) SSOLogin(ctx context.Context, provider, idToken, accessToken string) (*models.AuthResult, error) {
	var out models.AuthResult
	payload := ssoPayload{Provider: provider, IDToken: idToken, AccessToken: accessToken}
	if err := c.do(ctx, http.MethodPost, SSOPathPrefix+url.PathEscape(provider), "", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout ends the remote session for token.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, LogoutPath, token, nil, nil)
}

// Refresh trades token for a fresh one.
func (c *Client) Refresh(ctx context.Context, token string) (*models.AuthResult, error) {
	var out models.AuthResult
	if err := c.do(ctx, http.MethodPost, RefreshPath, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentUserPermissions returns the grants of the token's owner.
func (c *Client) CurrentUserPermissions(ctx context.Context, token string) (*models.PermissionGrant, error) {
	var out models.PermissionGrant
	if err := c.do(ctx, http.MethodGet, CurrentPermissionsPath, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserPermissions returns the grants of userID.
func (c *Client) UserPermissions(ctx context.Context, token, userID string) (*models.PermissionGrant, error) {
	var out models.PermissionGrant
	if err := c.do(ctx, http.MethodGet, UserPermissionsPath(userID), token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if reqID := requestid.FromContext(ctx); reqID != "" {
		req.Header.Set(requestid.Header, reqID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("identity api unreachable", zap.String("path", path), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrServerUnreachable.Code, appErrors.ErrServerUnreachable.Status, appErrors.ErrServerUnreachable.Message)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrServerUnreachable.Code, appErrors.ErrServerUnreachable.Status, appErrors.ErrServerUnreachable.Message)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrapData(raw), out); err != nil {
		return appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "invalid response from identity API")
	}
	return nil
}

func statusError(status int, body []byte) *appErrors.Error {
	message := errorMessage(body)
	if status == http.StatusUnauthorized {
		return appErrors.WithStatus(appErrors.ErrUnauthorized, status, message)
	}
	if message == "" {
		message = fmt.Sprintf("HTTP error! status: %d", status)
	}
	return appErrors.WithStatus(appErrors.ErrUpstream, status, message)
}

// unwrapData accepts both bare payloads and {"data": ...} envelopes.
func unwrapData(raw []byte) []byte {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		return envelope.Data
	}
	return raw
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	if len(payload.Error) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(payload.Error, &text); err == nil {
		return text
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload.Error, &nested); err == nil {
		return nested.Message
	}
	return ""
}
