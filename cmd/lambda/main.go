// Command lambda runs the REST API behind API Gateway.
package main

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-xray-sdk-go/xray"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"learngraph/infrastructure/config"
	"learngraph/infrastructure/di"
)

var (
	chiLambda     *chiadapter.ChiLambdaV2
	container     *di.Container
	coldStart     = true
	coldStartTime time.Time
)

func init() {
	coldStartTime = time.Now()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// The container lives as long as the execution environment, so its
	// cleanup is never run.
	container, _, err = di.InitializeContainer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}

	if err := xray.Configure(xray.Config{ServiceVersion: "1.0.0"}); err != nil {
		container.Logger.Warn("X-Ray configuration failed", zap.Error(err))
	}

	chiLambda = chiadapter.NewV2(container.Router.Setup())

	container.Logger.Info("Lambda cold start completed",
		zap.Duration("duration", time.Since(coldStartTime)),
		zap.String("function", cfg.LambdaFunctionName),
	)
}

// Handler is the Lambda function handler
func Handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	var resp events.APIGatewayV2HTTPResponse
	err := container.Tracer.TraceFunction(ctx, "http.request", func(ctx context.Context) error {
		var err error
		resp, err = chiLambda.ProxyWithContextV2(ctx, req)
		return err
	},
		attribute.String("http.method", req.RequestContext.HTTP.Method),
		attribute.String("http.route", req.RouteKey),
	)

	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	if coldStart {
		resp.Headers["X-Cold-Start"] = "true"
		coldStart = false
	}
	if req.RequestContext.RequestID != "" {
		resp.Headers["X-Request-ID"] = req.RequestContext.RequestID
	}

	container.Logger.Info("Lambda response",
		zap.String("method", req.RequestContext.HTTP.Method),
		zap.String("path", req.RequestContext.HTTP.Path),
		zap.String("requestId", req.RequestContext.RequestID),
		zap.Int("status", resp.StatusCode),
	)
	return resp, err
}

func main() {
	lambda.Start(Handler)
}
