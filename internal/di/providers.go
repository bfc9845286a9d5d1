package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/sandeepkv93/session-auth-core/internal/app"
	"github.com/sandeepkv93/session-auth-core/internal/config"
	"github.com/sandeepkv93/session-auth-core/internal/database"
	"github.com/sandeepkv93/session-auth-core/internal/health"
	"github.com/sandeepkv93/session-auth-core/internal/http/handler"
	"github.com/sandeepkv93/session-auth-core/internal/http/router"
	"github.com/sandeepkv93/session-auth-core/internal/observability"
	"github.com/sandeepkv93/session-auth-core/internal/realtime"
	"github.com/sandeepkv93/session-auth-core/internal/repository"
	"github.com/sandeepkv93/session-auth-core/internal/security"
	"github.com/sandeepkv93/session-auth-core/internal/service"
)

const readinessTimeout = 2 * time.Second

type logging struct {
	logger   *slog.Logger
	provider *sdklog.LoggerProvider
}

func provideLogging(ctx context.Context, cfg *config.Config) (logging, error) {
	logger, lp, err := observability.NewLogger(ctx, cfg)
	if err != nil {
		return logging{}, err
	}
	slog.SetDefault(logger)
	return logging{logger: logger, provider: lp}, nil
}

func provideLogger(l logging) *slog.Logger {
	return l.logger
}

func provideObservability(ctx context.Context, cfg *config.Config, l logging) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, l.logger, l.provider)
}

func provideDB(cfg *config.Config, logger *slog.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { database.Close(db, logger) }, nil
}

func provideRedis(ctx context.Context, cfg *config.Config) (redis.UniversalClient, func(), error) {
	client, err := database.NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		return nil, func() {}, nil
	}
	return client, func() { _ = client.Close() }, nil
}

func provideRefreshStore(cfg *config.Config, db *gorm.DB, client redis.UniversalClient) repository.RefreshStore {
	if cfg.RefreshStore == config.RefreshStoreRedis {
		return repository.NewRedisRefreshStore(client, cfg.RedisKeyPrefix, cfg.RefreshTokenRetention)
	}
	return repository.NewGormRefreshStore(db)
}

func provideUserRepository(db *gorm.DB) repository.UserRepository {
	return repository.NewUserRepository(db)
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret)
}

func provideTokenService(cfg *config.Config, jwtMgr *security.JWTManager, store repository.RefreshStore) *service.TokenService {
	return service.NewTokenService(jwtMgr, store, cfg.RefreshTokenPepper, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
}

func provideCredentialService(users repository.UserRepository) *service.CredentialService {
	return service.NewCredentialService(users, bcrypt.DefaultCost)
}

func provideAuthService(creds *service.CredentialService, tokens *service.TokenService, logger *slog.Logger) *service.AuthService {
	return service.NewAuthService(creds, tokens, logger)
}

// provideJanitor returns nil for the Redis store, which expires records
// natively.
func provideJanitor(cfg *config.Config, store repository.RefreshStore, logger *slog.Logger) *service.RefreshTokenJanitor {
	if cfg.RefreshStore == config.RefreshStoreRedis {
		return nil
	}
	return service.NewRefreshTokenJanitor(store, cfg.RefreshTokenRetention, cfg.RefreshTokenCleanupInterval, logger)
}

func provideReadiness(db *gorm.DB, client redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.DatabaseChecker(db)}
	if client != nil {
		checkers = append(checkers, health.RedisChecker(client))
	}
	return health.NewProbeRunner(readinessTimeout, checkers...)
}

func provideRouter(cfg *config.Config, logger *slog.Logger, auth *service.AuthService, gateway *service.AuthGateway, readiness *health.ProbeRunner) http.Handler {
	return router.NewRouter(router.Dependencies{
		AuthHandler:    handler.NewAuthHandler(auth),
		UserHandler:    handler.NewUserHandler(),
		AccessVerifier: gateway,
		Realtime: realtime.NewGateway(logger, gateway, realtime.Options{
			AllowedOrigins: cfg.WSAllowedOrigins,
			WriteTimeout:   cfg.WSWriteTimeout,
		}),
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		Readiness:        readiness,
		EnableOTelHTTP:   cfg.EnableOTelHTTP,
	})
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideApp(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, janitor *service.RefreshTokenJanitor, readiness *health.ProbeRunner) *app.App {
	return app.New(cfg, logger, server, runtime, janitor, readiness)
}
