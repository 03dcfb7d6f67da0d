package voice

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"learngraph/application/ports"
	"learngraph/application/voice/protocol"
	"learngraph/domain/core/aggregates"
	pkgerrors "learngraph/pkg/errors"
	"learngraph/pkg/timing"
)

// Session defaults
const (
	DefaultResponseTimeout = 30 * time.Second
	DefaultSettleDelay     = 600 * time.Millisecond
	DefaultConnectTimeout  = 15 * time.Second
)

var (
	// ErrSessionRunning is returned by Start on a session that is not idle
	ErrSessionRunning = errors.New("voice session already running")
	// ErrSessionNotRunning is returned by Do when there is no event loop
	ErrSessionNotRunning = errors.New("voice session not running")
	// ErrChannelClosed is returned when a message cannot be sent
	ErrChannelClosed = errors.New("realtime channel not open")
)

// Status is a user-facing report of the session state
type Status struct {
	State   State
	Message string
	Err     error
}

// SessionObserver records session metrics
type SessionObserver interface {
	ObserveTransition(from, to string)
	ObserveAudioFlush(bytes int)
	ObserveResponseRequest(kind string)
}

// SessionConfig configures a VoiceSession
type SessionConfig struct {
	Instructions    string
	Voice           string
	Format          AudioFormat
	Tuning          CaptureTuning
	MaxBuffered     time.Duration
	ResponseTimeout time.Duration
	SettleDelay     time.Duration
	ConnectTimeout  time.Duration
	Clock           timing.Clock
	Logger          *zap.Logger
	Observer        SessionObserver
	OnStatus        func(Status)
}

func (c *SessionConfig) applyDefaults() {
	if c.Format.SampleRate <= 0 || c.Format.Channels <= 0 {
		c.Format = DefaultAudioFormat()
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	c.Clock = timing.OrReal(c.Clock)
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// loop events
type (
	inboundMessage        struct{ data []byte }
	transportStateChanged struct{ state TransportState }
	stopRequest           struct{ reason string }
	tuningUpdate          struct{ tuning CaptureTuning }
	execRequest           struct {
		fn   func(*aggregates.GraphStore)
		done chan struct{}
	}
	timerFired struct {
		kind timerKind
		gen  uint64
	}
)

type timerKind int

const (
	connectTimer timerKind = iota
	responseTimer
	followUpTimer
)

// VoiceSession runs one conversation with the remote agent. A single
// event-loop goroutine owns the graph store, the turn coordinator and the
// audio capture while the session runs; transport callbacks, microphone
// frames and timers only post events to it.
type VoiceSession struct {
	store     *aggregates.GraphStore
	tools     *ToolDispatcher
	creds     ports.CredentialSource
	connector Connector
	mic       AudioSource
	cfg       SessionConfig
	logger    *zap.Logger

	turn    *TurnCoordinator
	capture *AudioCapture
	state   atomic.Int32

	mu      sync.Mutex
	running bool
	tuning  CaptureTuning
	events  chan any
	done    chan struct{}

	// owned by the event loop while running
	ctx        context.Context
	cancel     context.CancelFunc
	transport  Transport
	frames     <-chan []byte
	timers     map[timerKind]timing.Timer
	timerGen   map[timerKind]uint64
	queuedItem string
	// responseID is the response holding the turn flag, once announced
	// by response.created. Responses given up on after a timeout are
	// kept in abandoned so their late events cannot release the flag.
	responseID     string
	abandoned      map[string]struct{}
	abandonPending int
	cleaned    bool
}

// NewVoiceSession assembles a session. Nothing is connected until Start.
func NewVoiceSession(
	store *aggregates.GraphStore,
	tools *ToolDispatcher,
	creds ports.CredentialSource,
	connector Connector,
	mic AudioSource,
	cfg SessionConfig,
) *VoiceSession {
	cfg.applyDefaults()
	s := &VoiceSession{
		store:     store,
		tools:     tools,
		creds:     creds,
		connector: connector,
		mic:       mic,
		cfg:       cfg,
		logger:    cfg.Logger,
		turn:      NewTurnCoordinator(cfg.Logger),
		capture:   NewAudioCapture(cfg.Format, cfg.Tuning, cfg.MaxBuffered, cfg.Logger),
		tuning:    cfg.Tuning,
		timers:    make(map[timerKind]timing.Timer),
		timerGen:  make(map[timerKind]uint64),
		abandoned: make(map[string]struct{}),
	}
	s.turn.OnTransition(func(from, to State, _ Trigger) {
		s.state.Store(int32(to))
		if s.cfg.Observer != nil {
			s.cfg.Observer.ObserveTransition(from.String(), to.String())
		}
	})
	return s
}

// State returns the current session state. Safe from any goroutine.
func (s *VoiceSession) State() State {
	return State(s.state.Load())
}

// Done is closed when the current run ends. It is nil before the first Start.
func (s *VoiceSession) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Start fetches a credential, opens the microphone and negotiates the
// transport. On success the event loop runs until Stop or transport loss
// and the session waits in Connecting for session.created. Any failure
// releases everything and returns a connection error.
func (s *VoiceSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSessionRunning
	}
	s.running = true
	s.events = make(chan any, 256)
	s.done = make(chan struct{})
	s.capture.SetTuning(s.tuning)
	s.mu.Unlock()

	s.cleaned = false
	s.transport = nil
	s.frames = nil
	s.queuedItem = ""
	s.responseID = ""
	s.abandoned = make(map[string]struct{})
	s.abandonPending = 0
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.capture.Reset()

	if _, err := s.turn.Fire(TriggerStart); err != nil {
		s.finish()
		return err
	}
	s.status("Connecting to agent", nil)

	cred, err := s.creds.FetchCredential(ctx)
	if err != nil {
		return s.failStart("credential", err)
	}
	frames, err := s.mic.Start(s.ctx)
	if err != nil {
		return s.failStart("microphone", err)
	}
	s.frames = frames
	transport, err := s.connector.Connect(ctx, cred, sessionHandler{s})
	if err != nil {
		return s.failStart("negotiation", err)
	}
	s.transport = transport

	s.arm(connectTimer, s.cfg.ConnectTimeout)
	s.logger.Info("Voice session negotiated", zap.String("model", cred.Model))
	go s.run()
	return nil
}

func (s *VoiceSession) failStart(stage string, err error) error {
	connErr := pkgerrors.NewConnectionError(stage, err)
	s.logger.Error("Voice session failed to start", zap.String("stage", stage), zap.Error(err))
	s.cleanup()
	_, _ = s.turn.Fire(TriggerConnectFailed)
	s.status(connErr.Message, connErr)
	s.finish()
	return connErr
}

func (s *VoiceSession) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	close(s.done)
}

// Stop ends the session without waiting for the agent. It returns once
// cleanup has finished or ctx expires.
func (s *VoiceSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	running, done := s.running, s.done
	s.mu.Unlock()
	if !running {
		return nil
	}
	s.post(stopRequest{reason: "stopped by user"})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the event loop, which owns the store while the session
// runs. User edits made during a conversation go through here.
func (s *VoiceSession) Do(ctx context.Context, fn func(*aggregates.GraphStore)) error {
	s.mu.Lock()
	running, done := s.running, s.done
	s.mu.Unlock()
	if !running {
		return ErrSessionNotRunning
	}
	req := execRequest{fn: fn, done: make(chan struct{})}
	s.post(req)
	select {
	case <-req.done:
		return nil
	case <-done:
		return ErrSessionNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyTuning replaces the capture thresholds, now or at the next Start
func (s *VoiceSession) ApplyTuning(t CaptureTuning) {
	s.mu.Lock()
	s.tuning = t
	running := s.running
	s.mu.Unlock()
	if running {
		s.post(tuningUpdate{tuning: t})
	}
}

func (s *VoiceSession) post(ev any) {
	s.mu.Lock()
	events, done := s.events, s.done
	s.mu.Unlock()
	if events == nil {
		return
	}
	select {
	case events <- ev:
	case <-done:
	}
}

type sessionHandler struct{ s *VoiceSession }

func (h sessionHandler) OnMessage(data []byte) {
	h.s.post(inboundMessage{data: data})
}

func (h sessionHandler) OnStateChange(state TransportState) {
	h.s.post(transportStateChanged{state: state})
}

func (s *VoiceSession) run() {
	defer s.finish()
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case frame, ok := <-s.frames:
			if !ok {
				s.logger.Warn("Microphone stream ended")
				s.frames = nil
				continue
			}
			s.onFrame(frame)
		}
		if s.turn.State() == StateIdle {
			return
		}
	}
}

func (s *VoiceSession) handle(ev any) {
	switch e := ev.(type) {
	case inboundMessage:
		s.onMessage(e.data)
	case transportStateChanged:
		if e.state.Lost() {
			s.stop(TriggerTransportLost, "transport "+string(e.state))
			return
		}
		s.logger.Debug("Transport state", zap.String("state", string(e.state)))
	case timerFired:
		if s.timerGen[e.kind] != e.gen {
			return
		}
		delete(s.timers, e.kind)
		switch e.kind {
		case connectTimer:
			s.onConnectTimeout()
		case responseTimer:
			s.onResponseTimeout()
		case followUpTimer:
			s.onFollowUp()
		}
	case stopRequest:
		s.stop(TriggerStop, e.reason)
	case tuningUpdate:
		s.capture.SetTuning(e.tuning)
		s.logger.Info("Capture tuning updated",
			zap.Float64("amplitudeThreshold", s.capture.Tuning().AmplitudeThreshold),
			zap.Duration("flushInterval", s.capture.Tuning().FlushInterval),
			zap.Int("silenceFrames", s.capture.Tuning().SilenceFrames),
		)
	case execRequest:
		e.fn(s.store)
		close(e.done)
	}
}

func (s *VoiceSession) onFrame(frame []byte) {
	out := s.capture.Process(frame, s.turn.CanFlushAudio())
	if out == nil {
		return
	}
	if err := s.send(protocol.NewInputAudioAppend(out, false)); err != nil {
		s.logger.Warn("Failed to send audio", zap.Int("bytes", len(out)), zap.Error(err))
		return
	}
	if s.cfg.Observer != nil {
		s.cfg.Observer.ObserveAudioFlush(len(out))
	}
}

func (s *VoiceSession) onMessage(data []byte) {
	msg, err := protocol.DecodeServerEvent(data)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) && de.Unsupported() {
			s.logger.Debug("Ignoring realtime event", zap.String("type", de.Param))
			return
		}
		s.logger.Warn("Ignoring malformed realtime message", zap.Error(pkgerrors.NewProtocolError(err.Error())))
		return
	}

	switch m := msg.(type) {
	case protocol.SessionCreated:
		s.onSessionCreated(m)
	case protocol.SessionUpdated:
		s.logger.Debug("Session configured", zap.String("sessionId", m.Session.ID))
	case protocol.SpeechStarted:
		s.logger.Debug("User speech started", zap.String("itemId", m.ItemID))
	case protocol.SpeechStopped:
		s.logger.Debug("User speech stopped", zap.String("itemId", m.ItemID))
	case protocol.AudioCommitted:
		s.onCommitted(m.ItemID)
	case protocol.ResponseCreated:
		s.onResponseCreated(m.Response.ID)
	case protocol.OutputAudioStarted, protocol.ResponseAudioDelta:
		s.onAgentAudio()
	case protocol.OutputAudioStopped:
		if s.turn.State() == StateAgentSpeaking && !s.turn.Outstanding() {
			s.fire(TriggerAgentAudioStopped)
			s.transport.SetMicEnabled(true)
		}
	case protocol.ResponseDone:
		s.onResponseDone(m.Response)
	case protocol.ErrorEvent:
		s.logger.Warn("Agent reported an error",
			zap.String("type", m.Error.Type),
			zap.String("code", m.Error.Code),
			zap.String("message", m.Error.Message),
		)
	}
}

func (s *VoiceSession) onSessionCreated(m protocol.SessionCreated) {
	if s.turn.State() != StateConnecting {
		s.logger.Debug("Ignoring repeated session.created", zap.String("sessionId", m.Session.ID))
		return
	}
	s.disarm(connectTimer)
	s.fire(TriggerSessionCreated)

	update := protocol.SessionUpdate{
		Type: protocol.TypeSessionUpdate,
		Session: protocol.SessionConfig{
			Instructions:      s.cfg.Instructions,
			Voice:             s.cfg.Voice,
			Modalities:        []string{"audio", "text"},
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection:     &protocol.TurnDetection{Type: "server_vad", CreateResponse: false},
			Tools:             s.tools.Catalogue(),
			ToolChoice:        "auto",
		},
	}
	if err := s.send(update); err != nil {
		s.logger.Error("Failed to configure session", zap.Error(err))
	}
	s.transport.SetMicEnabled(true)
	s.logger.Info("Voice session live", zap.String("sessionId", m.Session.ID))
	s.status("Listening", nil)
}

func (s *VoiceSession) onCommitted(itemID string) {
	if !s.turn.State().Active() {
		return
	}
	if s.turn.Outstanding() {
		s.queuedItem = itemID
		s.logger.Debug("Queued committed audio until the current response resolves", zap.String("itemId", itemID))
		return
	}
	s.requestResponse(TriggerCommitted, itemID, "commit")
}

// requestResponse sends response.create under the mutual-exclusion flag
func (s *VoiceSession) requestResponse(trigger Trigger, itemID, kind string) bool {
	if !s.turn.TryAcquire(kind) {
		return false
	}
	if CanTransition(s.turn.State(), trigger) {
		s.fire(trigger)
	}
	s.disarm(followUpTimer)
	s.responseID = ""

	req := protocol.NewResponseCreate(itemID, GraphContext(s.store.Snapshot()))
	if err := s.send(req); err != nil {
		s.logger.Warn("Failed to request response", zap.String("kind", kind), zap.Error(err))
	}
	s.arm(responseTimer, s.cfg.ResponseTimeout)
	if s.cfg.Observer != nil {
		s.cfg.Observer.ObserveResponseRequest(kind)
	}
	return true
}

func (s *VoiceSession) onAgentAudio() {
	switch s.turn.State() {
	case StateListening, StateAwaitingResponse:
		s.fire(TriggerAgentAudioStarted)
		s.transport.SetMicEnabled(false)
	}
}

// onResponseCreated binds the flag to the announced response. Responses
// are announced in request order, so announcements still owed to timed
// out requests come first.
func (s *VoiceSession) onResponseCreated(id string) {
	if s.abandonPending > 0 {
		s.abandonPending--
		if id != "" {
			s.abandoned[id] = struct{}{}
		}
		return
	}
	s.responseID = id
}

// staleResponse reports whether a response.done belongs to a request
// other than the one holding the flag
func (s *VoiceSession) staleResponse(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := s.abandoned[id]; ok {
		delete(s.abandoned, id)
		return true
	}
	return s.responseID != "" && id != s.responseID
}

func (s *VoiceSession) onResponseDone(resp protocol.ResponseInfo) {
	if !s.turn.State().Active() {
		return
	}
	if s.staleResponse(resp.ID) {
		s.logger.Info("Ignoring response that no longer holds the turn", zap.String("responseId", resp.ID))
		return
	}
	s.disarm(responseTimer)

	calls := resp.FunctionCalls()
	for _, call := range calls {
		result := s.tools.Dispatch(s.ctx, call.Name, call.Arguments)
		out, err := json.Marshal(result)
		if err != nil {
			s.logger.Error("Failed to encode tool result", zap.String("tool", call.Name), zap.Error(err))
			continue
		}
		if err := s.send(protocol.NewFunctionCallOutput(call.CallID, out)); err != nil {
			s.logger.Warn("Failed to send tool result", zap.String("tool", call.Name), zap.Error(err))
		}
	}
	if transcript := resp.Transcript(); transcript != "" {
		s.logger.Info("Agent replied", zap.String("responseId", resp.ID), zap.String("transcript", transcript))
	}

	s.turn.Release()
	s.responseID = ""
	s.resumeListening(TriggerResponseDone)

	if s.queuedItem != "" {
		item := s.queuedItem
		s.queuedItem = ""
		s.requestResponse(TriggerCommitted, item, "commit")
		return
	}
	if len(calls) > 0 {
		s.arm(followUpTimer, s.cfg.SettleDelay)
	}
}

func (s *VoiceSession) resumeListening(trigger Trigger) {
	if CanTransition(s.turn.State(), trigger) {
		s.fire(trigger)
		s.transport.SetMicEnabled(true)
	}
}

func (s *VoiceSession) onFollowUp() {
	if s.turn.State() != StateListening || s.turn.Outstanding() {
		s.logger.Debug("Skipping follow-up", zap.String("state", s.turn.State().String()))
		return
	}
	s.requestResponse(TriggerFollowUp, "", "follow_up")
}

func (s *VoiceSession) onResponseTimeout() {
	if !s.turn.Outstanding() {
		return
	}
	s.logger.Warn("Agent response timed out",
		zap.Duration("timeout", s.cfg.ResponseTimeout),
		zap.String("responseId", s.responseID),
	)
	if s.responseID != "" {
		s.abandoned[s.responseID] = struct{}{}
	} else {
		s.abandonPending++
	}
	s.responseID = ""
	s.turn.Release()
	s.resumeListening(TriggerResponseTimeout)
	if s.queuedItem != "" {
		item := s.queuedItem
		s.queuedItem = ""
		s.requestResponse(TriggerCommitted, item, "commit")
	}
}

func (s *VoiceSession) onConnectTimeout() {
	if s.turn.State() != StateConnecting {
		return
	}
	err := pkgerrors.NewConnectionError("session setup", errors.New("no session.created before timeout"))
	s.logger.Error("Voice session setup timed out", zap.Duration("timeout", s.cfg.ConnectTimeout))
	s.stop(TriggerStop, "setup timed out")
	s.status(err.Message, err)
}

// stop funnels every exit through the same teardown
func (s *VoiceSession) stop(trigger Trigger, reason string) {
	prev := s.turn.State()
	if prev == StateIdle || prev == StateStopping {
		return
	}
	s.fire(trigger)

	if prev.Active() && s.transport != nil && s.transport.ChannelOpen() {
		if err := s.send(protocol.NewInputAudioAppend(nil, true)); err != nil {
			s.logger.Debug("Final append not sent", zap.Error(err))
		}
	}
	s.capture.Reset()
	s.queuedItem = ""
	s.cleanup()
	s.fire(TriggerCleanedUp)

	s.logger.Info("Voice session stopped", zap.String("reason", reason))
	if trigger == TriggerTransportLost {
		err := pkgerrors.NewConnectionError("session", errors.New(reason))
		s.status("Connection lost", err)
		return
	}
	s.status("Stopped", nil)
}

// cleanup releases the microphone, transport and timers exactly once per run
func (s *VoiceSession) cleanup() {
	if s.cleaned {
		return
	}
	s.cleaned = true

	for kind := range s.timers {
		s.disarm(kind)
	}
	if s.mic != nil {
		if err := s.mic.Close(); err != nil {
			s.logger.Warn("Failed to close microphone", zap.Error(err))
		}
	}
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.logger.Warn("Failed to close transport", zap.Error(err))
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *VoiceSession) fire(trigger Trigger) {
	if _, err := s.turn.Fire(trigger); err != nil {
		s.logger.Warn("Rejected turn transition", zap.Error(err))
	}
}

func (s *VoiceSession) send(msg any) error {
	if s.transport == nil || !s.transport.ChannelOpen() {
		return ErrChannelClosed
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.transport.Send(data)
}

func (s *VoiceSession) arm(kind timerKind, d time.Duration) {
	s.disarm(kind)
	gen := s.timerGen[kind]
	s.timers[kind] = s.cfg.Clock.AfterFunc(d, func() {
		s.post(timerFired{kind: kind, gen: gen})
	})
}

func (s *VoiceSession) disarm(kind timerKind) {
	if t, ok := s.timers[kind]; ok {
		t.Stop()
		delete(s.timers, kind)
	}
	s.timerGen[kind]++
}

func (s *VoiceSession) status(message string, err error) {
	if s.cfg.OnStatus != nil {
		s.cfg.OnStatus(Status{State: s.turn.State(), Message: message, Err: err})
	}
}
