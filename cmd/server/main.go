// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"merithub/internal/breaker"
	"merithub/internal/cache"
	"merithub/internal/config"
	"merithub/internal/database"
	"merithub/internal/events"
	"merithub/internal/handlers/api/v1/badges"
	"merithub/internal/handlers/api/v1/health"
	"merithub/internal/identity"
	"merithub/internal/middleware"
	"merithub/internal/ratelimit"
	"merithub/internal/repositories"
	"merithub/internal/router"
	"merithub/internal/services"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	db, err := database.NewManager(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// Cache and the shared rate-limit window store. With Redis both ride
	// the same connection pool; without it the limiter degrades to
	// per-instance windows.
	appCache, limiterStore, err := buildCacheAndStore(cfg, logger)
	if err != nil {
		return err
	}
	defer appCache.Close()

	governorCfg := ratelimit.DefaultConfig()
	governorCfg.Enabled = cfg.RateLimit.Enabled
	if cfg.RateLimit.BulkLargeThreshold > 0 {
		governorCfg.BulkLargeThreshold = cfg.RateLimit.BulkLargeThreshold
	}
	governor := ratelimit.NewGovernor(governorCfg, limiterStore, logger)

	// Circuit breakers
	breakers := breaker.NewManager(logger)
	identityBreaker := breakers.Get(breaker.Settings{
		Name:             "identity",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		MonitoringPeriod: cfg.Breaker.MonitoringPeriod,
	})
	identityClient := identity.NewClient(cfg.Identity, identityBreaker, appCache, logger)

	// Events
	bus := events.NewBus(logger)
	bus.Subscribe(events.EventBadgeAwarded, func(_ context.Context, event interface{}) {
		if awarded, ok := event.(*events.BadgeAwardedEvent); ok {
			logger.Info("Award notification dispatched",
				zap.Int64("subject_id", awarded.Award.SubjectID),
				zap.String("badge", awarded.Definition.Name),
			)
		}
	})

	// Repositories and services
	auditRepo := repositories.NewAuditRepository(db.DB(), logger)
	definitionRepo := repositories.NewDefinitionRepository(db.DB(), logger)
	awardRepo := repositories.NewAwardRepository(db.DB(), auditRepo, logger)

	badgeService := services.NewBadgeService(definitionRepo, awardRepo, auditRepo, identityClient, governor, bus, logger)
	bulkService := services.NewBulkService(badgeService, governor, cfg.Badges.MaxBulkSize, logger)

	// HTTP surface
	handler := router.New(router.Dependencies{
		Badges: badges.NewController(badgeService, bulkService, logger),
		Health: health.NewController(map[string]health.Checker{
			"database": db,
			"cache":    appCache,
		}, breakers, logger),
		Authenticator: middleware.NewAuthenticator(cfg.Auth.JWTSecret, logger),
		Logger:        logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening",
			zap.String("port", cfg.Server.Port),
			zap.String("env", cfg.Env),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildCacheAndStore wires the cache and the limiter's shared window
// store from one Redis pool, falling back to in-process equivalents.
func buildCacheAndStore(cfg *config.Config, logger *zap.Logger) (cache.Cache, ratelimit.Store, error) {
	if !cfg.Redis.Enabled {
		logger.Warn("Redis not configured; rate-limit windows are per-instance")
		c, err := cache.NewCache(cache.DefaultConfig(), logger)
		if err != nil {
			return nil, nil, err
		}
		return c, ratelimit.NewLocalStore(), nil
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.Provider = "redis"
	cacheCfg.RedisURL = cfg.Redis.URL
	cacheCfg.PoolSize = cfg.Redis.PoolSize

	c, err := cache.NewCache(cacheCfg, logger)
	if err != nil {
		return nil, nil, err
	}

	if provider, ok := c.(interface{ Client() *redis.Client }); ok {
		return c, ratelimit.NewRedisStore(provider.Client()), nil
	}
	return c, ratelimit.NewLocalStore(), nil
}

func newLogger() *zap.Logger {
	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		level = parsed
	}

	var cfg zap.Config
	if os.Getenv("APP_ENV") == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
