package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/admin-console-auth/internal/identity"
	"github.com/noah-isme/admin-console-auth/internal/repository"
	"github.com/noah-isme/admin-console-auth/internal/service"
	"github.com/noah-isme/admin-console-auth/pkg/config"
	"github.com/noah-isme/admin-console-auth/pkg/database"
	"github.com/noah-isme/admin-console-auth/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd(buildScope).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// buildScope wires the services of the operator signed in through the token
// file. The session mirror is shared with the gateway.
func buildScope(ctx context.Context, opts rootOptions, nav service.Navigator) (*service.Scope, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logr, err := logger.NewCLI(opts.verbose)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	tokenFile, err := resolveTokenFile(opts.tokenFile, cfg.CLI.TokenFile)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	sessions := repository.NewSessionRepository(db)
	users := repository.NewUserRepository(db)
	api := identity.NewClient(cfg.Identity.BaseURL, cfg.Identity.Timeout, logr)

	factory := service.NewScopeFactory(api, sessions, users,
		service.NewTokenCache(cfg.Session.CacheFreshness, nil, nil),
		nil, validator.New(), logr, nil,
		service.ScopeConfig{
			Auth: service.AuthConfig{
				SessionValidity: cfg.Session.Validity,
				LoginPath:       cfg.LoginPath,
			},
			PermissionCacheTTL: cfg.Permissions.CacheTTL,
		},
	)

	logr.Debug("token store", zap.String("path", tokenFile))
	cleanup := func() {
		_ = db.Close()
		_ = logr.Sync()
	}
	return factory.NewScope(service.NewFileTokenStore(tokenFile), nav), cleanup, nil
}

// resolveTokenFile prefers the flag, then TOKEN_FILE, then the user config dir.
func resolveTokenFile(flag, configured string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if configured != "" {
		return configured, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "admin-console", "token"), nil
}
