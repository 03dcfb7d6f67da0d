// Package di wires the API server's dependencies with google/wire.
package di

import (
	"go.uber.org/zap"

	"learngraph/application/ports"
	"learngraph/application/services"
	"learngraph/infrastructure/config"
	"learngraph/interfaces/http/rest"
	"learngraph/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *zap.Logger
	TreeStore   ports.TreeStore
	Publisher   ports.EventPublisher
	Collector   *observability.Collector
	CloudWatch  *observability.CloudWatchMetrics
	Tracer      *observability.Tracer
	TreeService *services.TreeService
	Router      *rest.Router
}
