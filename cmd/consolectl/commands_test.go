package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/admin-console-auth/internal/models"
	"github.com/noah-isme/admin-console-auth/internal/service"
	"github.com/noah-isme/admin-console-auth/internal/service/servicetest"
)

type cliHarness struct {
	api       *servicetest.Identity
	sessions  *servicetest.Sessions
	tokenFile string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	api := servicetest.NewIdentity("admin123")
	api.Users["ops@example.com"] = models.UserInfo{ID: "u1", Email: "ops@example.com", FirstName: "Olive", LastName: "Ops"}
	return &cliHarness{
		api:       api,
		sessions:  servicetest.NewSessions(),
		tokenFile: filepath.Join(t.TempDir(), "token"),
	}
}

func (h *cliHarness) build(_ context.Context, opts rootOptions, nav service.Navigator) (*service.Scope, func(), error) {
	factory := service.NewScopeFactory(h.api, h.sessions, h.sessions,
		service.NewTokenCache(time.Minute, nil, nil),
		nil, nil, zap.NewNop(), nil, service.ScopeConfig{})
	return factory.NewScope(service.NewFileTokenStore(opts.tokenFile), nav), nil, nil
}

func (h *cliHarness) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd(h.build)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--token-file", h.tokenFile}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func (h *cliHarness) login(t *testing.T) string {
	t.Helper()
	out, _, err := h.run(t, "admin123\n", "login", "--email", "ops@example.com")
	require.NoError(t, err)
	require.Contains(t, out, "signed in as ops@example.com")
	raw, err := os.ReadFile(h.tokenFile)
	require.NoError(t, err)
	return strings.TrimSpace(string(raw))
}

func TestLoginPromptsForPasswordAndStoresToken(t *testing.T) {
	h := newCLIHarness(t)
	token := h.login(t)
	assert.True(t, strings.HasPrefix(token, "tok_"))

	info, err := os.Stat(h.tokenFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, _, err := h.run(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Olive Ops (ops@example.com)")
	assert.Contains(t, out, "id: u1")

	out, _, err = h.run(t, "", "--json", "whoami")
	require.NoError(t, err)
	var info2 models.UserInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info2))
	assert.Equal(t, "u1", info2.ID)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	h := newCLIHarness(t)

	_, _, err := h.run(t, "", "login", "--email", "ops@example.com", "--password", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid credentials")

	_, statErr := os.Stat(h.tokenFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWhoamiWithoutToken(t *testing.T) {
	h := newCLIHarness(t)

	_, _, err := h.run(t, "", "whoami")
	assert.ErrorIs(t, err, errNotSignedIn)
}

func TestSessionsListAndRevokeOthers(t *testing.T) {
	h := newCLIHarness(t)
	h.login(t)
	otherID := h.sessions.Seed(models.User{ID: "u1", Email: "ops@example.com", Active: true}, "tok_laptop", time.Now().UTC().Add(-time.Hour))

	out, _, err := h.run(t, "", "sessions", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[2], "*"), "current session is listed first and marked")
	assert.Contains(t, lines[3], otherID)

	out, _, err = h.run(t, "", "sessions", "revoke-others")
	require.NoError(t, err)
	assert.Contains(t, out, "revoked 1 session(s)")

	other, ok := h.sessions.Get(otherID)
	require.True(t, ok)
	assert.False(t, other.Active)

	_, _, err = h.run(t, "", "whoami")
	assert.NoError(t, err)
}

func TestLogoutClearsToken(t *testing.T) {
	h := newCLIHarness(t)
	h.login(t)

	out, _, err := h.run(t, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "signed out")
	assert.Equal(t, 1, h.api.LogoutCall)

	_, statErr := os.Stat(h.tokenFile)
	assert.True(t, os.IsNotExist(statErr))
	assert.Contains(t, h.sessions.AuditActions(), models.AuditActionLogout)
}

func TestPermissionsCheck(t *testing.T) {
	h := newCLIHarness(t)
	token := h.login(t)
	h.api.Grants[token] = &models.PermissionGrant{Permissions: []models.Permission{{Module: "users", Action: "read"}}}

	out, _, err := h.run(t, "", "permissions", "check", "users", "read")
	require.NoError(t, err)
	assert.Equal(t, "allowed\n", out)

	out, _, err = h.run(t, "", "permissions", "check", "users", "write")
	assert.ErrorIs(t, err, errPermissionDenied)
	assert.Equal(t, "denied\n", out)

	out, _, err = h.run(t, "", "permissions")
	require.NoError(t, err)
	assert.Contains(t, out, "status: loaded")
	assert.Contains(t, out, "users")
}

func TestExpiredTokenPrintsNoticeOnce(t *testing.T) {
	h := newCLIHarness(t)
	token := h.login(t)
	h.api.Expired[token] = true

	_, errOut, err := h.run(t, "", "permissions")
	assert.ErrorIs(t, err, errNotSignedIn)
	assert.Equal(t, 1, strings.Count(errOut, sessionExpiredNotice))

	_, statErr := os.Stat(h.tokenFile)
	assert.True(t, os.IsNotExist(statErr))
	assert.Contains(t, h.sessions.AuditActions(), models.AuditActionForcedRevoke)
}

func TestResolveTokenFile(t *testing.T) {
	got, err := resolveTokenFile("/tmp/flag", "/tmp/env")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/flag", got)

	got, err = resolveTokenFile("", "/tmp/env")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env", got)

	got, err = resolveTokenFile("", "")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, filepath.Join("admin-console", "token")))
}

func TestRenderTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	renderTable(&buf, []string{"A", "LONG"}, [][]string{{"xyz", "1"}})
	assert.Equal(t, "A    LONG\n---  ----\nxyz  1\n", buf.String())
}

func TestReadPasswordFallsBackToLineForNonTerminal(t *testing.T) {
	var echo bytes.Buffer
	got, err := readPassword(strings.NewReader("s3cret\r\nrest"), &echo)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)
	assert.Empty(t, echo.String())

	path := filepath.Join(t.TempDir(), "stdin")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	got, err = readPassword(f, &echo)
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)
}
