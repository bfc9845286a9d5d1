//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/sandeepkv93/session-auth-core/internal/app"
	"github.com/sandeepkv93/session-auth-core/internal/config"
	"github.com/sandeepkv93/session-auth-core/internal/service"
)

var storageSet = wire.NewSet(
	provideDB,
	provideRedis,
	provideRefreshStore,
	provideUserRepository,
)

var authSet = wire.NewSet(
	provideJWTManager,
	provideTokenService,
	provideCredentialService,
	provideAuthService,
	service.NewAuthGateway,
	provideJanitor,
)

func InitializeApp(ctx context.Context, cfg *config.Config) (*app.App, func(), error) {
	wire.Build(
		provideLogging,
		provideLogger,
		provideObservability,
		storageSet,
		authSet,
		provideReadiness,
		provideRouter,
		provideHTTPServer,
		provideApp,
	)
	return nil, nil, nil
}
