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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/admin-console-auth/api/swagger"
	"github.com/noah-isme/admin-console-auth/internal/handler"
	"github.com/noah-isme/admin-console-auth/internal/identity"
	"github.com/noah-isme/admin-console-auth/internal/middleware"
	"github.com/noah-isme/admin-console-auth/internal/repository"
	"github.com/noah-isme/admin-console-auth/internal/service"
	"github.com/noah-isme/admin-console-auth/pkg/cache"
	"github.com/noah-isme/admin-console-auth/pkg/config"
	"github.com/noah-isme/admin-console-auth/pkg/database"
	"github.com/noah-isme/admin-console-auth/pkg/logger"
	corsmiddleware "github.com/noah-isme/admin-console-auth/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/admin-console-auth/pkg/middleware/requestid"
)

// @title Admin Console Auth API
// @version 1.0.0
// @description Session, identity and permission gateway for the admin console
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("gateway stopped", zap.Error(err))
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
		logr.Warn("redis unavailable, shared caches disabled", zap.Error(err))
		redisClient = nil
	}

	metrics := service.NewMetricsService()
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Permissions.CacheTTL, logr, redisClient != nil)
	sessionCache := service.NewSharedSessionCache(cacheSvc, cfg.Session.CacheFreshness)

	sessions := repository.NewSessionRepository(db)
	users := repository.NewUserRepository(db)
	api := identity.NewClient(cfg.Identity.BaseURL, cfg.Identity.Timeout, logr)

	scopes := service.NewScopeFactory(api, sessions, users, sessionCache, cacheSvc, validator.New(), logr, metrics, service.ScopeConfig{
		Auth: service.AuthConfig{
			SessionValidity: cfg.Session.Validity,
			LoginPath:       cfg.LoginPath,
		},
		PermissionCacheTTL: cfg.Permissions.CacheTTL,
	})
	sessionAdmin := service.NewSessionAdminService(sessions, users, sessionCache, logr)

	sweeper, err := service.NewSessionSweeper(sessions, cfg.Session.SweepSchedule, logr, metrics)
	if err != nil {
		return err
	}
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, "/metrics", "/health"))

	handler.RegisterGatewayRoutes(r, handler.GatewayDeps{
		Scopes:       scopes,
		SessionAdmin: sessionAdmin,
		Metrics:      metrics,
		Audit:        users,
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("gateway starting", "addr", srv.Addr, "env", cfg.Env, "identity_api", cfg.Identity.BaseURL)
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

	logr.Info("shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
