package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"learngraph/application/ports"
	"learngraph/application/voice"
	"learngraph/application/voice/protocol"
)

const defaultDialTimeout = 15 * time.Second

// WebSocketConfig configures the WebSocket fallback transport
type WebSocketConfig struct {
	// BaseURL is the agent API root; http(s) schemes are mapped to ws(s)
	BaseURL string
	// AudioOut receives decoded PCM16 from response.audio.delta events
	AudioOut io.Writer
	Dialer   *websocket.Dialer
	Logger   *zap.Logger
}

// WebSocketConnector carries the same event protocol over a WebSocket for
// environments where a peer connection cannot be negotiated
type WebSocketConnector struct {
	cfg    WebSocketConfig
	logger *zap.Logger
}

// NewWebSocketConnector creates a fallback connector
func NewWebSocketConnector(cfg WebSocketConfig) *WebSocketConnector {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &WebSocketConnector{cfg: cfg, logger: cfg.Logger}
}

// Connect dials the realtime endpoint and starts the read loop
func (c *WebSocketConnector) Connect(ctx context.Context, cred *ports.RealtimeCredential, handler voice.TransportHandler) (voice.Transport, error) {
	if cred == nil || cred.ClientSecret.Value == "" {
		return nil, errors.New("realtime credential is empty")
	}
	wsURL, err := websocketEndpoint(c.cfg.BaseURL, cred.Model)
	if err != nil {
		return nil, err
	}

	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+cred.ClientSecret.Value)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, resp, err := c.cfg.Dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	t := &wsTransport{
		conn:     conn,
		handler:  handler,
		audioOut: c.cfg.AudioOut,
		logger:   c.logger,
		done:     make(chan struct{}),
	}
	handler.OnStateChange(voice.TransportConnected)
	go t.readLoop()
	return t, nil
}

func websocketEndpoint(base, model string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/realtime")
	if err != nil {
		return "", fmt.Errorf("invalid realtime base URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("realtime base URL must use http(s) or ws(s), got %q", u.Scheme)
	}
	if model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

type wsTransport struct {
	conn     *websocket.Conn
	handler  voice.TransportHandler
	audioOut io.Writer
	logger   *zap.Logger

	writeMu    sync.Mutex
	closeOnce  sync.Once
	closed     atomic.Bool
	micEnabled atomic.Bool
	done       chan struct{}
}

func (t *wsTransport) Send(data []byte) error {
	if t.closed.Load() {
		return voice.ErrChannelClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) ChannelOpen() bool {
	return !t.closed.Load()
}

// SetMicEnabled is recorded only; audio travels as append events here
func (t *wsTransport) SetMicEnabled(enabled bool) {
	t.micEnabled.Store(enabled)
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		t.writeMu.Unlock()
		_ = t.conn.Close()
	})
	<-t.done
	return nil
}

func (t *wsTransport) readLoop() {
	defer close(t.done)
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.closed.Load() {
				return
			}
			t.closed.Store(true)
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.handler.OnStateChange(voice.TransportClosed)
				return
			}
			t.logger.Warn("Realtime socket read failed", zap.Error(err))
			t.handler.OnStateChange(voice.TransportFailed)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		t.writeAudio(data)
		t.handler.OnMessage(data)
	}
}

// writeAudio copies agent audio to the sink; the session still sees the
// delta event so it can track the speaking state
func (t *wsTransport) writeAudio(data []byte) {
	if t.audioOut == nil || !strings.Contains(string(data), protocol.TypeResponseAudioDelta) {
		return
	}
	var delta protocol.ResponseAudioDelta
	if err := json.Unmarshal(data, &delta); err != nil || delta.Type != protocol.TypeResponseAudioDelta {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(delta.Delta)
	if err != nil {
		t.logger.Debug("Discarding undecodable audio delta", zap.Error(err))
		return
	}
	if _, err := t.audioOut.Write(pcm); err != nil {
		t.logger.Debug("Audio sink write failed", zap.Error(err))
	}
}
