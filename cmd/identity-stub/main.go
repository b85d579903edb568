package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/admin-console-auth/internal/handler"
	"github.com/noah-isme/admin-console-auth/internal/repository"
	"github.com/noah-isme/admin-console-auth/internal/service"
	"github.com/noah-isme/admin-console-auth/pkg/cache"
	"github.com/noah-isme/admin-console-auth/pkg/config"
	"github.com/noah-isme/admin-console-auth/pkg/database"
	"github.com/noah-isme/admin-console-auth/pkg/logger"
	reqidmiddleware "github.com/noah-isme/admin-console-auth/pkg/middleware/requestid"
)

// identity-stub serves the identity API against the local users table so the
// gateway and consolectl can run without the production identity provider.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Env == config.EnvProduction {
		log.Fatal("identity-stub must not run in production")
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("identity stub stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, tokens cannot be revoked before expiry", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	denylist := service.NewCacheService(cacheRepo, nil, cfg.Stub.TokenExpiry, logr, redisClient != nil)

	validate := validator.New()
	svc := service.NewIdentityService(
		repository.NewUserRepository(db),
		repository.NewPermissionRepository(db),
		denylist,
		validate,
		logr,
		service.IdentityConfig{
			JWTSecret:   cfg.Stub.JWTSecret,
			SSOSecret:   cfg.Stub.SSOSecret,
			Issuer:      cfg.Stub.Issuer,
			TokenExpiry: cfg.Stub.TokenExpiry,
		},
	)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	handler.RegisterIdentityRoutes(r, svc, svc)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Stub.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("identity stub starting", "addr", srv.Addr, "issuer", cfg.Stub.Issuer)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
