// Command voicegraph runs a voice session that builds a learning graph
// from the conversation, printing every change as it happens.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"learngraph/application/ports"
	"learngraph/infrastructure/config"
	"learngraph/infrastructure/httpclient"
	"learngraph/infrastructure/persistence/sqlite"
)

var (
	offline     bool
	dbPath      string
	userID      string
	backendURL  string
	userToken   string
	useWS       bool
	inputPath   string
	metricsAddr string
	onTentative string
	verbose     bool
)

func main() {
	home, _ := os.UserHomeDir()
	defaultDB := filepath.Join(home, ".learngraph", "graph.db")

	rootCmd := &cobra.Command{
		Use:           "voicegraph",
		Short:         "Talk to a study coach that maps your learning graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "store the graph in a local database instead of the backend")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "local database path (with --offline)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "user id (default $USER_ID)")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "backend base URL (default $BACKEND_URL)")
	rootCmd.PersistentFlags().StringVar(&userToken, "token", "", "backend bearer token (default $USER_TOKEN)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and lets flags override it
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if userID != "" {
		cfg.UserID = userID
	}
	if backendURL != "" {
		cfg.BackendURL = backendURL
	}
	if userToken != "" {
		cfg.UserToken = userToken
	}
	if useWS {
		cfg.UseWebSocket = true
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// newLogger logs to stderr so stdout carries only the graph
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.DisableStacktrace = !verbose
	return zc.Build()
}

// openTrees returns the local database or the backend client
func openTrees(cfg *config.Config, logger *zap.Logger) (ports.TreeStore, func(), error) {
	if offline {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, nil, fmt.Errorf("create db dir: %w", err)
		}
		store, err := sqlite.Open(dbPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close database", zap.Error(err))
			}
		}, nil
	}
	if cfg.UserToken == "" {
		return nil, nil, fmt.Errorf("a backend token is required; pass --token or set USER_TOKEN (see 'voicegraph token')")
	}
	client := httpclient.NewTreeClient(cfg.BackendURL, cfg.UserToken, nil, httpclient.DefaultBreakerConfig(), logger)
	return client, func() {}, nil
}

func requireUser(cfg *config.Config) (string, error) {
	if cfg.UserID == "" {
		return "", fmt.Errorf("a user id is required; pass --user or set USER_ID")
	}
	return cfg.UserID, nil
}
