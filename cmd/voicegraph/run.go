package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"learngraph/application/ports"
	"learngraph/application/projections"
	"learngraph/application/services"
	"learngraph/application/voice"
	"learngraph/domain/core/aggregates"
	"learngraph/domain/core/valueobjects"
	"learngraph/domain/viewport"
	"learngraph/infrastructure/config"
	"learngraph/infrastructure/realtime"
	"learngraph/interfaces/cli"
	pkgerrors "learngraph/pkg/errors"
	"learngraph/pkg/observability"
)

// nominal viewport used to place nodes the agent adds without a neighbour
const (
	viewWidth  = 1280
	viewHeight = 800
)

// what happens to suggestions still awaiting review when a session ends
const (
	tentativeKeep    = "keep"
	tentativeApprove = "approve"
	tentativeDismiss = "dismiss"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a voice session",
		Long: `Start a voice session. Microphone audio is read as raw 16-bit mono PCM at 24kHz
from --input ("-" for stdin, e.g. piped from a capture tool). The graph is loaded
before the session starts and saved as it changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSession(ctx)
		},
	}
	cmd.Flags().BoolVar(&useWS, "websocket", false, "use the WebSocket transport instead of WebRTC")
	cmd.Flags().StringVar(&inputPath, "input", "-", "PCM16 audio source; a file is played back in real time")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&onTentative, "on-tentative", tentativeKeep, "suggested nodes left at exit: keep, approve or dismiss")
	return cmd
}

func runSession(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := checkTentativePolicy(onTentative); err != nil {
		return err
	}
	user, err := requireUser(cfg)
	if err != nil {
		return err
	}
	profile, err := loadProfile(cfg)
	if err != nil {
		return err
	}

	trees, closeTrees, err := openTrees(cfg, logger)
	if err != nil {
		return err
	}
	defer closeTrees()

	collector := observability.NewCollector("voicegraph")
	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: collector.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	store := aggregates.NewGraphStore()
	space := viewport.NewCoordinateSpace()
	status := cli.NewStatusPrinter(os.Stderr)

	registry := projections.NewViewRegistry(store, cli.NewTerminalRenderer(os.Stdout), logger)
	defer registry.Close()

	gateway := services.NewPersistenceGateway(store, trees, services.GatewayConfig{
		UserID:    user,
		SaveDelay: cfg.SaveDebounceDelay,
		Logger:    logger,
		Observer:  collector,
		OnStatus:  status.Persistence,
	})
	defer gateway.Close()

	if err := gateway.Load(ctx); err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	space.CenterOn(graphCenter(store), viewWidth, viewHeight)

	tools := voice.NewToolDispatcher(store, voice.ToolConfig{
		TentativeNodes: profile.TentativeNodes,
		ViewCenter:     func() valueobjects.Point { return space.Center(viewWidth, viewHeight) },
		Logger:         logger,
		Observer:       collector,
	})

	mic, closeMic, err := openInput(inputPath, logger)
	if err != nil {
		return err
	}
	defer closeMic()

	connector, closeConnector, err := newConnector(cfg, logger)
	if err != nil {
		return err
	}
	defer closeConnector()

	session := voice.NewVoiceSession(store, tools, credentialSource(cfg, profile, user, logger), connector, mic, voice.SessionConfig{
		Instructions:    profile.Instructions,
		Voice:           profile.Voice,
		Tuning:          profile.Tuning(),
		ResponseTimeout: profile.ResponseTimeout,
		Logger:          logger,
		Observer:        collector,
		OnStatus:        status.Session,
	})

	if cfg.TuningPath != "" {
		watcher, err := config.NewTuningWatcher(cfg.TuningPath, 0, logger)
		if err != nil {
			return err
		}
		session.ApplyTuning(watcher.Current())
		watcher.OnChange(session.ApplyTuning)
		watcher.Start()
		defer watcher.Stop()
	}

	select {
	case <-gateway.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := session.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-session.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.Stop(stopCtx); err != nil {
		logger.Warn("Session did not stop cleanly", zap.Error(err))
	}
	if n, err := settleTentative(store, onTentative); err != nil {
		return err
	} else if n > 0 {
		fmt.Fprintf(os.Stderr, "%s: %d suggested nodes\n", onTentative, n)
	}
	if err := gateway.Flush(stopCtx); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	fmt.Fprintf(os.Stderr, "saved %d nodes and %d edges\n", len(store.ApprovedNodes()), len(store.ApprovedEdges()))
	return nil
}

func checkTentativePolicy(policy string) error {
	switch policy {
	case tentativeKeep, tentativeApprove, tentativeDismiss:
		return nil
	}
	return pkgerrors.NewValidationError(fmt.Sprintf("unknown --on-tentative value %q", policy))
}

// settleTentative applies the exit policy to nodes still awaiting review
// and reports how many it approved or dismissed. Approved nodes reach
// the store through the gateway's pending save.
func settleTentative(store *aggregates.GraphStore, policy string) (int, error) {
	if err := checkTentativePolicy(policy); err != nil {
		return 0, err
	}
	switch policy {
	case tentativeApprove:
		return store.ApproveAll(), nil
	case tentativeDismiss:
		return store.DismissAll(), nil
	}
	return 0, nil
}

func loadProfile(cfg *config.Config) (config.AgentProfile, error) {
	profile := config.DefaultAgentProfile()
	if cfg.AgentProfilePath != "" {
		var err error
		if profile, err = config.LoadAgentProfile(cfg.AgentProfilePath); err != nil {
			return profile, err
		}
	}
	return profile.ApplyEnv(cfg), nil
}

// graphCenter is the mean node position, or the origin for an empty graph
func graphCenter(store *aggregates.GraphStore) valueobjects.Point {
	nodes := store.Nodes()
	if len(nodes) == 0 {
		return valueobjects.Point{}
	}
	var c valueobjects.Point
	for _, n := range nodes {
		c.X += n.Position.X
		c.Y += n.Position.Y
	}
	c.X /= float64(len(nodes))
	c.Y /= float64(len(nodes))
	return c
}

func openInput(path string, logger *zap.Logger) (voice.AudioSource, func(), error) {
	format := voice.DefaultAudioFormat()
	if path == "-" {
		return realtime.NewReaderSource(os.Stdin, format, false, logger), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open audio input: %w", err)
	}
	return realtime.NewReaderSource(f, format, true, logger), func() { f.Close() }, nil
}

func newConnector(cfg *config.Config, logger *zap.Logger) (voice.Connector, func(), error) {
	if !cfg.UseWebSocket {
		signaling := realtime.NewSignalingClient(cfg.AgentBaseURL, nil, logger)
		return realtime.NewWebRTCConnector(signaling, realtime.WebRTCConfig{
			ICEServers:    cfg.ICEServers,
			RecordingPath: cfg.RecordingPath,
			Logger:        logger,
		}), func() {}, nil
	}

	var out io.Writer = io.Discard
	closeOut := func() {}
	if cfg.RecordingPath != "" {
		f, err := os.Create(cfg.RecordingPath)
		if err != nil {
			return nil, nil, fmt.Errorf("create recording: %w", err)
		}
		out = f
		closeOut = func() { f.Close() }
	}
	return realtime.NewWebSocketConnector(realtime.WebSocketConfig{
		BaseURL:  cfg.AgentBaseURL,
		AudioOut: out,
		Logger:   logger,
	}), closeOut, nil
}

// credentialSource asks the backend for a credential, or mints one
// directly with the local agent key when running offline
func credentialSource(cfg *config.Config, profile config.AgentProfile, user string, logger *zap.Logger) ports.CredentialSource {
	if !offline {
		return realtime.NewHTTPCredentialSource(cfg.BackendURL, cfg.UserToken, nil, logger)
	}
	issuer := realtime.NewAgentServiceClient(realtime.AgentServiceConfig{
		BaseURL:      cfg.AgentBaseURL,
		APIKey:       cfg.AgentAPIKey,
		Model:        profile.Model,
		Voice:        profile.Voice,
		Instructions: profile.Instructions,
	}, nil, logger)
	return issuedSource{issuer: issuer, userID: user}
}

type issuedSource struct {
	issuer ports.CredentialIssuer
	userID string
}

func (s issuedSource) FetchCredential(ctx context.Context) (*ports.RealtimeCredential, error) {
	return s.issuer.IssueCredential(ctx, s.userID)
}
