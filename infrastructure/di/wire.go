//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"learngraph/application/services"
	"learngraph/infrastructure/config"
	"learngraph/interfaces/http/rest"
	"learngraph/interfaces/http/rest/handlers"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideCloudWatchClient,
	ProvideTreeStore,
	ProvideEventPublisher,
	ProvideCollector,
	ProvideCloudWatchMetrics,
	ProvideSaveObserver,
	ProvideTracer,
	ProvideClock,
	ProvideErrorHandler,
	ProvideJWTService,
	ProvideAgentProfile,
	ProvideCredentialIssuer,
	ProvideRouterConfig,
	services.NewTreeService,
	handlers.NewTreeHandler,
	handlers.NewSessionHandler,
	rest.NewRouter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil
}
