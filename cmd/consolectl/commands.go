package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/noah-isme/admin-console-auth/internal/models"
	"github.com/noah-isme/admin-console-auth/internal/service"
)

const sessionExpiredNotice = "your session has expired or was revoked; run `consolectl login` to sign in again"

var (
	errNotSignedIn      = errors.New("not signed in; run `consolectl login`")
	errPermissionDenied = errors.New("permission denied")
)

type rootOptions struct {
	tokenFile  string
	jsonOutput bool
	verbose    bool
}

// scopeBuilder returns the services of the operator's identity plus a cleanup
// func, which may be nil.
type scopeBuilder func(ctx context.Context, opts rootOptions, nav service.Navigator) (*service.Scope, func(), error)

type cli struct {
	opts  rootOptions
	build scopeBuilder
}

func newRootCmd(build scopeBuilder) *cobra.Command {
	c := &cli{build: build}

	root := &cobra.Command{
		Use:           "consolectl",
		Short:         "Operator CLI for admin console sessions and permissions",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.opts.tokenFile, "token-file", "", "file holding the bearer token (default $TOKEN_FILE or the user config dir)")
	flags.BoolVar(&c.opts.jsonOutput, "json", false, "print JSON instead of text")
	flags.BoolVarP(&c.opts.verbose, "verbose", "v", false, "log diagnostics to stderr")

	root.AddCommand(
		c.loginCmd(),
		c.ssoCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.refreshCmd(),
		c.sessionsCmd(),
		c.permissionsCmd(),
	)
	return root
}

func (c *cli) withScope(fn func(cmd *cobra.Command, args []string, scope *service.Scope) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		nav := service.NewNoticeNavigator(func() {
			fmt.Fprintln(cmd.ErrOrStderr(), sessionExpiredNotice)
		})
		scope, cleanup, err := c.build(cmd.Context(), c.opts, nav)
		if err != nil {
			return err
		}
		if cleanup != nil {
			defer cleanup()
		}
		return fn(cmd, args, scope)
	}
}

func userAgent() string {
	return "consolectl/" + version
}

func (c *cli) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(cmd *cobra.Command, _ []string, scope *service.Scope) error {
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				read, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				password = read
			}
			res, err := scope.Auth.Login(cmd.Context(), models.LoginRequest{
				Email:     email,
				Password:  password,
				UserAgent: userAgent(),
			})
			if err != nil {
				return err
			}
			return c.printSignedIn(cmd.OutOrStdout(), res)
		}),
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prompted on stdin when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) ssoCmd() *cobra.Command {
	var idToken, accessToken string
	cmd := &cobra.Command{
		Use:   "sso <provider>",
		Short: "Sign in with a credential from an external identity provider",
		Args:  cobra.ExactArgs(1),
		RunE: c.withScope(func(cmd *cobra.Command, args []string, scope *service.Scope) error {
			res, err := scope.Auth.Service().SSOLogin(cmd.Context(), models.SSOLoginRequest{
				Provider:    args[0],
				IDToken:     idToken,
				AccessToken: accessToken,
				UserAgent:   userAgent(),
			})
			if err != nil {
				return err
			}
			return c.printSignedIn(cmd.OutOrStdout(), res)
		}),
	}
	cmd.Flags().StringVar(&idToken, "id-token", "", "provider id token")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "provider access token")
	return cmd
}

func (c *cli) printSignedIn(out io.Writer, res *models.AuthResult) error {
	if c.opts.jsonOutput {
		return writeJSON(out, res.User)
	}
	fmt.Fprintf(out, "signed in as %s\n", res.User.Email)
	return nil
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(cmd *cobra.Command, _ []string, scope *service.Scope) error {
			if err := scope.Auth.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		}),
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(cmd *cobra.Command, _ []string, scope *service.Scope) error {
			user, err := signedInUser(cmd.Context(), scope)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.opts.jsonOutput {
				return writeJSON(out, models.InfoFromUser(user))
			}
			fmt.Fprintf(out, "%s (%s)\nid: %s\n", orDash(user.FullName()), user.Email, user.ID)
			return nil
		}),
	}
}

func signedInUser(ctx context.Context, scope *service.Scope) (*models.User, error) {
	user := scope.Auth.User(ctx)
	if user != nil {
		return user, nil
	}
	if err := scope.Auth.Err(); err != nil {
		return nil, err
	}
	return nil, errNotSignedIn
}

func (c *cli) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Trade the stored token for a fresh one",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(cmd *cobra.Command, _ []string, scope *service.Scope) error {
			res, err := scope.Auth.Service().RefreshToken(cmd.Context(), models.ClientMeta{UserAgent: userAgent()})
			if err != nil {
				return err
			}
			if c.opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), res.User)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token refreshed for %s\n", res.User.Email)
			return nil
		}),
	}
}

func (c *cli) sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage your active sessions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List active sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(cmd *cobra.Command, _ []string, scope *service.Scope) error {
			sessions, err := scope.Auth.Service().GetActiveSessions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.opts.jsonOutput {
				return writeJSON(out, sessions)
			}
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				marker := ""
				if s.Current {
					marker = "*"
				}
				rows = append(rows, []string{marker, s.ID, orDash(s.IPAddress), orDash(s.UserAgent), formatTime(s.LastActivity), formatTime(s.ExpiresAt)})
			}
			renderTable(out, []string{"", "ID", "IP", "USER AGENT", "LAST ACTIVITY", "EXPIRES"}, rows)
			return nil
		}),
	}

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke one of your sessions",
		Args:  cobra.ExactArgs(1),
		RunE: c.withScope(func(cmd *cobra.Command, args []string, scope *service.Scope) error {
			if err := scope.Auth.Service().RevokeSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked session %s\n", args[0])
			return nil
		}),
	}

	revokeOthers := &cobra.Command{
		Use:   "revoke-others",
		Short: "Revoke every session except this one",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(cmd *cobra.Command, _ []string, scope *service.Scope) error {
			n, err := scope.Auth.Service().RevokeOtherSessions(cmd.Context())
			if err != nil {
				return err
			}
			if c.opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]int{"revoked": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d session(s)\n", n)
			return nil
		}),
	}

	cmd.AddCommand(list, revoke, revokeOthers)
	return cmd
}

func (c *cli) permissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Show your effective permissions",
		Args:  cobra.NoArgs,
		RunE: c.withScope(func(cmd *cobra.Command, _ []string, scope *service.Scope) error {
			snapshot, err := loadPermissions(cmd.Context(), scope)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.opts.jsonOutput {
				return writeJSON(out, snapshot)
			}
			fmt.Fprintf(out, "status: %s\n", snapshot.Status)
			if snapshot.IsSuperAdmin {
				fmt.Fprintln(out, "super admin: every permission granted")
				return nil
			}
			rows := make([][]string, 0, len(snapshot.Permissions))
			for _, p := range snapshot.Permissions {
				rows = append(rows, []string{p.Module, p.Action})
			}
			renderTable(out, []string{"MODULE", "ACTION"}, rows)
			return nil
		}),
	}

	check := &cobra.Command{
		Use:   "check <module> <action>",
		Short: "Exit non-zero unless the permission is granted",
		Args:  cobra.ExactArgs(2),
		RunE: c.withScope(func(cmd *cobra.Command, args []string, scope *service.Scope) error {
			if _, err := loadPermissions(cmd.Context(), scope); err != nil {
				return err
			}
			if !scope.Permissions.HasPermission(args[0], args[1]) {
				fmt.Fprintln(cmd.OutOrStdout(), "denied")
				return errPermissionDenied
			}
			fmt.Fprintln(cmd.OutOrStdout(), "allowed")
			return nil
		}),
	}

	cmd.AddCommand(check)
	return cmd
}

// loadPermissions resolves the grants. A 401 during resolution signs the
// operator out, which surfaces as errNotSignedIn.
func loadPermissions(ctx context.Context, scope *service.Scope) (models.PermissionSnapshot, error) {
	if !scope.Auth.Service().IsAuthenticated() {
		return models.PermissionSnapshot{}, errNotSignedIn
	}
	scope.Permissions.Ensure(ctx)
	if !scope.Auth.Service().IsAuthenticated() {
		return models.PermissionSnapshot{}, errNotSignedIn
	}
	return scope.Permissions.Snapshot(), nil
}

// readPassword reads without echo when in is a terminal and falls back to a
// plain line for piped input.
func readPassword(in io.Reader, out io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	return readLine(in)
}

func readLine(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
