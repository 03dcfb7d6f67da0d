package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscloudwatch "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"learngraph/application/ports"
	"learngraph/application/services"
	"learngraph/infrastructure/config"
	"learngraph/infrastructure/messaging/eventbridge"
	"learngraph/infrastructure/messaging/local"
	"learngraph/infrastructure/persistence/dynamodb"
	"learngraph/infrastructure/persistence/memory"
	"learngraph/infrastructure/persistence/sqlite"
	"learngraph/infrastructure/realtime"
	"learngraph/interfaces/http/rest"
	"learngraph/pkg/auth"
	pkgerrors "learngraph/pkg/errors"
	"learngraph/pkg/observability"
	"learngraph/pkg/timing"
)

// readinessProbeUser is looked up by the readiness check; a NotFound
// answer proves the store is reachable
const readinessProbeUser = "__readiness__"

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideCloudWatchClient creates a CloudWatch client
func ProvideCloudWatchClient(awsCfg aws.Config) *awscloudwatch.Client {
	return awscloudwatch.NewFromConfig(awsCfg)
}

// ProvideTreeStore selects the tree store named by STORE_BACKEND
func ProvideTreeStore(cfg *config.Config, client *awsdynamodb.Client, logger *zap.Logger) (ports.TreeStore, func(), error) {
	switch cfg.StoreBackend {
	case "dynamodb":
		logger.Info("Using DynamoDB tree store", zap.String("table", cfg.DynamoDBTable))
		return dynamodb.NewTreeStore(client, cfg.DynamoDBTable, logger), func() {}, nil
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using SQLite tree store", zap.String("path", cfg.SQLitePath))
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close tree store", zap.Error(err))
			}
		}, nil
	default:
		logger.Warn("Using in-memory tree store; trees are lost on restart")
		return memory.NewTreeStore(), func() {}, nil
	}
}

// ProvideEventPublisher publishes to EventBridge when a bus is configured
// and to the log otherwise
func ProvideEventPublisher(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) ports.EventPublisher {
	if cfg.EventBusName == "" {
		return local.NewPublisher(logger, 100)
	}
	return eventbridge.NewPublisher(client, cfg.EventBusName, logger)
}

// ProvideCollector creates the Prometheus collector, or nil when metrics
// are disabled
func ProvideCollector(cfg *config.Config) *observability.Collector {
	if !cfg.EnableMetrics {
		return nil
	}
	return observability.NewCollector("learngraph")
}

// ProvideCloudWatchMetrics creates CloudWatch metrics; disabled metrics
// get a nil client and record nothing
func ProvideCloudWatchMetrics(cfg *config.Config, client *awscloudwatch.Client, logger *zap.Logger) *observability.CloudWatchMetrics {
	if !cfg.EnableCloudWatch {
		return observability.NewCloudWatchMetrics(cfg.MetricsNamespace, nil, logger)
	}
	return observability.NewCloudWatchMetrics(cfg.MetricsNamespace, client, logger)
}

// ProvideSaveObserver fans tree operations out to the enabled sinks
func ProvideSaveObserver(collector *observability.Collector, cw *observability.CloudWatchMetrics) services.SaveObserver {
	var obs observability.SaveObservers
	if collector != nil {
		obs = append(obs, collector)
	}
	if cw != nil {
		obs = append(obs, cw)
	}
	return obs
}

// ProvideTracer sets up tracing; the cleanup flushes pending spans
func ProvideTracer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.Tracer, func(), error) {
	tracer, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: "learngraph-api",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
		Enabled:     cfg.EnableTracing,
	})
	if err != nil {
		return nil, nil, err
	}
	return tracer, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(ctx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}, nil
}

// ProvideClock returns the wall clock
func ProvideClock() timing.Clock {
	return timing.RealClock{}
}

// ProvideErrorHandler renders API errors; development adds stack traces
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *pkgerrors.ErrorHandler {
	return pkgerrors.NewErrorHandler(logger, cfg.IsDevelopment())
}

// ProvideJWTService validates caller tokens
func ProvideJWTService(cfg *config.Config, logger *zap.Logger) (*auth.JWTService, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		if cfg.IsProduction() {
			return nil, errors.New("JWT_SECRET is required in production")
		}
		logger.Warn("JWT_SECRET not set; using the development secret")
		secret = auth.DevelopmentSecret
	}
	return auth.NewJWTService(secret, cfg.JWTIssuer, 24*time.Hour)
}

// ProvideAgentProfile loads the agent profile, falling back to the
// built-in one
func ProvideAgentProfile(cfg *config.Config) (config.AgentProfile, error) {
	profile := config.DefaultAgentProfile()
	if cfg.AgentProfilePath != "" {
		var err error
		if profile, err = config.LoadAgentProfile(cfg.AgentProfilePath); err != nil {
			return profile, err
		}
	}
	return profile.ApplyEnv(cfg), nil
}

// ProvideCredentialIssuer mints realtime credentials with the server key
func ProvideCredentialIssuer(cfg *config.Config, profile config.AgentProfile, logger *zap.Logger) ports.CredentialIssuer {
	return realtime.NewAgentServiceClient(realtime.AgentServiceConfig{
		BaseURL:      cfg.AgentBaseURL,
		APIKey:       cfg.AgentAPIKey,
		Model:        profile.Model,
		Voice:        profile.Voice,
		Instructions: profile.Instructions,
	}, &http.Client{Timeout: 10 * time.Second}, logger)
}

// ProvideRouterConfig collects the optional router features
func ProvideRouterConfig(cfg *config.Config, collector *observability.Collector, store ports.TreeStore) rest.RouterConfig {
	rc := rest.RouterConfig{
		EnableCORS:  cfg.EnableCORS,
		CORSOrigins: cfg.CORSOrigins,
		Readiness:   []rest.ReadinessCheck{storeReadiness(store)},
	}
	if collector != nil {
		rc.Metrics = collector.Handler()
		rc.Observer = collector
	}
	return rc
}

func storeReadiness(store ports.TreeStore) rest.ReadinessCheck {
	return func(ctx context.Context) error {
		_, err := store.GetTree(ctx, readinessProbeUser)
		if err == nil || pkgerrors.IsNotFound(err) {
			return nil
		}
		return err
	}
}
