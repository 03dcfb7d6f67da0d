package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"go.uber.org/zap"

	"learngraph/application/ports"
	"learngraph/application/voice"
)

// EventChannelLabel is the data channel the agent speaks JSON on
const EventChannelLabel = "oai-events"

// opusSilence is a single 20ms Opus frame of digital silence
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const keepaliveInterval = 20 * time.Millisecond

// WebRTCConfig configures the peer connection
type WebRTCConfig struct {
	// ICEServers lists STUN/TURN urls; empty uses host candidates only
	ICEServers []string
	// RecordingPath receives the agent's audio as an Ogg/Opus file. Empty
	// discards it.
	RecordingPath string
	Logger        *zap.Logger
}

// WebRTCConnector negotiates a peer session with the agent
type WebRTCConnector struct {
	signaling *SignalingClient
	cfg       WebRTCConfig
	logger    *zap.Logger
}

// NewWebRTCConnector creates a connector that signals through signaling
func NewWebRTCConnector(signaling *SignalingClient, cfg WebRTCConfig) *WebRTCConnector {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &WebRTCConnector{signaling: signaling, cfg: cfg, logger: cfg.Logger}
}

// Connect creates the peer, attaches the microphone track, opens the event
// channel, sends the offer and applies the answer. Every resource created
// along the way is released if a later step fails.
func (c *WebRTCConnector) Connect(ctx context.Context, cred *ports.RealtimeCredential, handler voice.TransportHandler) (voice.Transport, error) {
	if cred == nil || cred.ClientSecret.Value == "" {
		return nil, errors.New("realtime credential is empty")
	}

	var iceServers []webrtc.ICEServer
	if len(c.cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: c.cfg.ICEServers}}
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	t := &peerTransport{
		pc:     pc,
		logger: c.logger,
		stop:   make(chan struct{}),
	}
	fail := func(err error) (voice.Transport, error) {
		_ = t.Close()
		return nil, err
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "learngraph-mic",
	)
	if err != nil {
		return fail(fmt.Errorf("create microphone track: %w", err))
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return fail(fmt.Errorf("attach microphone track: %w", err))
	}
	t.track = track
	t.wg.Add(1)
	go t.drainRTCP(sender)

	if c.cfg.RecordingPath != "" {
		sink, err := oggwriter.New(c.cfg.RecordingPath, 48000, 2)
		if err != nil {
			return fail(fmt.Errorf("open audio sink: %w", err))
		}
		t.sink = sink
	}
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info("Agent audio track received", zap.String("codec", remote.Codec().MimeType))
		t.readRemote(remote)
	})

	dc, err := pc.CreateDataChannel(EventChannelLabel, nil)
	if err != nil {
		return fail(fmt.Errorf("create event channel: %w", err))
	}
	t.dc = dc
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		handler.OnMessage(msg.Data)
	})
	dc.OnOpen(func() {
		c.logger.Debug("Event channel open")
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("Peer connection state", zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateConnected:
			handler.OnStateChange(voice.TransportConnected)
		case webrtc.PeerConnectionStateDisconnected:
			handler.OnStateChange(voice.TransportDisconnected)
		case webrtc.PeerConnectionStateFailed:
			handler.OnStateChange(voice.TransportFailed)
		case webrtc.PeerConnectionStateClosed:
			if !t.closed.Load() {
				handler.OnStateChange(voice.TransportClosed)
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(fmt.Errorf("create offer: %w", err))
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(fmt.Errorf("set local description: %w", err))
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return fail(fmt.Errorf("gather candidates: %w", ctx.Err()))
	}

	answer, err := c.signaling.Exchange(ctx, cred.ClientSecret.Value, cred.Model, pc.LocalDescription().SDP)
	if err != nil {
		return fail(err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fail(fmt.Errorf("apply answer: %w", err))
	}

	t.wg.Add(1)
	go t.keepalive()
	return t, nil
}

// peerTransport is the voice.Transport over a pion peer connection
type peerTransport struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	track  *webrtc.TrackLocalStaticSample
	logger *zap.Logger

	sinkMu sync.Mutex
	sink   *oggwriter.OggWriter

	micEnabled atomic.Bool
	closed     atomic.Bool
	closeOnce  sync.Once
	stop       chan struct{}
	wg         sync.WaitGroup
}

func (t *peerTransport) Send(data []byte) error {
	if !t.ChannelOpen() {
		return voice.ErrChannelClosed
	}
	return t.dc.SendText(string(data))
}

func (t *peerTransport) ChannelOpen() bool {
	return t.dc != nil && !t.closed.Load() && t.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (t *peerTransport) SetMicEnabled(enabled bool) {
	t.micEnabled.Store(enabled)
}

// keepalive paces silence frames on the microphone track while it is
// enabled so the remote side sees a live media stream
func (t *peerTransport) keepalive() {
	defer t.wg.Done()
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if !t.micEnabled.Load() {
				continue
			}
			if err := t.track.WriteSample(media.Sample{Data: opusSilence, Duration: keepaliveInterval}); err != nil {
				t.logger.Debug("Microphone track write failed", zap.Error(err))
			}
		}
	}
}

func (t *peerTransport) drainRTCP(sender *webrtc.RTPSender) {
	defer t.wg.Done()
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *peerTransport) readRemote(remote *webrtc.TrackRemote) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		t.sinkMu.Lock()
		if t.sink != nil {
			if err := t.sink.WriteRTP(pkt); err != nil {
				t.logger.Debug("Audio sink write failed", zap.Error(err))
			}
		}
		t.sinkMu.Unlock()
	}
}

// Close tears down the channel, peer connection and sink
func (t *peerTransport) Close() error {
	var errs []error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.stop)
		if t.dc != nil {
			if err := t.dc.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close event channel: %w", err))
			}
		}
		if err := t.pc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close peer connection: %w", err))
		}
		t.wg.Wait()

		t.sinkMu.Lock()
		if t.sink != nil {
			if err := t.sink.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close audio sink: %w", err))
			}
			t.sink = nil
		}
		t.sinkMu.Unlock()
	})
	return errors.Join(errs...)
}
