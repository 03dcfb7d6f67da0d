// Package config loads service and client settings from the environment
// and watches the live-tunable files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress   string
	Environment     string
	ShutdownTimeout time.Duration

	// AWS configuration
	AWSRegion     string
	DynamoDBTable string
	EventBusName  string
	// StoreBackend selects the server tree store: dynamodb, sqlite or memory
	StoreBackend string
	SQLitePath   string

	// Lambda configuration
	IsLambda           bool
	LambdaFunctionName string

	// Agent service
	AgentBaseURL      string
	AgentAPIKey       string
	AgentModel        string
	AgentVoice        string
	AgentProfilePath  string
	ICEServers        []string
	UseWebSocket      bool
	RecordingPath     string
	TuningPath        string
	TentativeNodes    bool
	ResponseTimeout   time.Duration
	SaveDebounceDelay time.Duration

	// Voice client
	BackendURL string
	UserID     string
	UserToken  string

	// Logging
	LogLevel string

	// Authentication
	JWTSecret string
	JWTIssuer string

	// Feature flags
	EnableMetrics    bool
	EnableCloudWatch bool
	EnableTracing    bool
	EnableCORS       bool
	CORSOrigins      []string
	OTLPEndpoint     string
	MetricsNamespace string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress:   getEnv("SERVER_ADDRESS", ":8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable: getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", "learngraph")),
		EventBusName:  getEnv("EVENT_BUS_NAME", ""),
		StoreBackend:  getEnv("STORE_BACKEND", "memory"),
		SQLitePath:    getEnv("SQLITE_PATH", "data/learngraph.db"),

		IsLambda:           getEnvBool("IS_LAMBDA", false),
		LambdaFunctionName: getEnv("AWS_LAMBDA_FUNCTION_NAME", ""),

		AgentBaseURL:      getEnv("AGENT_BASE_URL", "https://api.openai.com/v1"),
		AgentAPIKey:       getEnv("AGENT_API_KEY", ""),
		AgentModel:        getEnv("AGENT_MODEL", "gpt-4o-realtime-preview"),
		AgentVoice:        getEnv("AGENT_VOICE", "verse"),
		AgentProfilePath:  getEnv("AGENT_PROFILE", ""),
		ICEServers:        getEnvList("ICE_SERVERS", nil),
		UseWebSocket:      getEnvBool("REALTIME_WEBSOCKET", false),
		RecordingPath:     getEnv("RECORDING_PATH", ""),
		TuningPath:        getEnv("TUNING_FILE", ""),
		TentativeNodes:    getEnvBool("TENTATIVE_NODES", false),
		ResponseTimeout:   getEnvDuration("RESPONSE_TIMEOUT", 30*time.Second),
		SaveDebounceDelay: getEnvDuration("SAVE_DEBOUNCE", time.Second),

		BackendURL: getEnv("BACKEND_URL", "http://localhost:8080"),
		UserID:     getEnv("USER_ID", ""),
		UserToken:  getEnv("USER_TOKEN", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "learngraph"),

		LogLevel:         getEnv("LOG_LEVEL", "info"),
		EnableMetrics:    getEnvBool("ENABLE_METRICS", true),
		EnableCloudWatch: getEnvBool("ENABLE_CLOUDWATCH", false),
		EnableTracing:    getEnvBool("ENABLE_TRACING", false),
		EnableCORS:       getEnvBool("ENABLE_CORS", true),
		CORSOrigins:      getEnvList("CORS_ORIGINS", []string{"*"}),
		OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "LearnGraph"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "memory", "sqlite", "dynamodb":
	default:
		return fmt.Errorf("STORE_BACKEND must be memory, sqlite or dynamodb, got %q", c.StoreBackend)
	}
	if c.StoreBackend == "dynamodb" && c.DynamoDBTable == "" {
		return fmt.Errorf("DYNAMODB_TABLE is required for the dynamodb store")
	}
	if c.ResponseTimeout <= 0 {
		return fmt.Errorf("RESPONSE_TIMEOUT must be positive")
	}
	if c.IsProduction() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.AgentAPIKey == "" {
			return fmt.Errorf("AGENT_API_KEY is required in production")
		}
		if c.StoreBackend == "memory" {
			return fmt.Errorf("the memory store cannot be used in production")
		}
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("750ms") or plain milliseconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms := getEnvInt(key, -1); ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
