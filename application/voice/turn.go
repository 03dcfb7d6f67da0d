package voice

import (
	"fmt"

	"go.uber.org/zap"
)

// State is a phase of the voice session
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateAwaitingResponse
	StateAgentSpeaking
	StateStopping
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StateConnecting:       "connecting",
	StateListening:        "listening",
	StateAwaitingResponse: "awaiting_response",
	StateAgentSpeaking:    "agent_speaking",
	StateStopping:         "stopping",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Active reports whether the session is talking to the agent
func (s State) Active() bool {
	return s == StateListening || s == StateAwaitingResponse || s == StateAgentSpeaking
}

// Trigger is an input to the turn state machine
type Trigger string

const (
	TriggerStart             Trigger = "start"
	TriggerConnectFailed     Trigger = "connect_failed"
	TriggerSessionCreated    Trigger = "session_created"
	TriggerCommitted         Trigger = "committed"
	TriggerFollowUp          Trigger = "follow_up"
	TriggerAgentAudioStarted Trigger = "agent_audio_started"
	TriggerAgentAudioStopped Trigger = "agent_audio_stopped"
	TriggerResponseDone      Trigger = "response_done"
	TriggerResponseTimeout   Trigger = "response_timeout"
	TriggerTransportLost     Trigger = "transport_lost"
	TriggerStop              Trigger = "stop"
	TriggerCleanedUp         Trigger = "cleaned_up"
)

// transitions is the complete turn table. Anything not listed is rejected.
var transitions = map[State]map[Trigger]State{
	StateIdle: {
		TriggerStart: StateConnecting,
	},
	StateConnecting: {
		TriggerSessionCreated: StateListening,
		TriggerConnectFailed:  StateIdle,
		TriggerTransportLost:  StateStopping,
		TriggerStop:           StateStopping,
	},
	StateListening: {
		TriggerCommitted:         StateAwaitingResponse,
		TriggerFollowUp:          StateAwaitingResponse,
		TriggerAgentAudioStarted: StateAgentSpeaking,
		TriggerTransportLost:     StateStopping,
		TriggerStop:              StateStopping,
	},
	StateAwaitingResponse: {
		TriggerAgentAudioStarted: StateAgentSpeaking,
		TriggerResponseDone:      StateListening,
		TriggerResponseTimeout:   StateListening,
		TriggerTransportLost:     StateStopping,
		TriggerStop:              StateStopping,
	},
	StateAgentSpeaking: {
		TriggerResponseDone:      StateListening,
		TriggerAgentAudioStopped: StateListening,
		TriggerResponseTimeout:   StateListening,
		TriggerTransportLost:     StateStopping,
		TriggerStop:              StateStopping,
	},
	StateStopping: {
		TriggerCleanedUp: StateIdle,
	},
}

// CanTransition reports whether trigger is accepted in state from
func CanTransition(from State, trigger Trigger) bool {
	_, ok := transitions[from][trigger]
	return ok
}

// TransitionError reports a trigger that the current state does not accept
type TransitionError struct {
	From    State
	Trigger Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s in state %s", e.Trigger, e.From)
}

// TransitionObserver is told about every accepted transition
type TransitionObserver func(from, to State, trigger Trigger)

// TurnCoordinator owns the session state and the single-outstanding-
// response flag. It is driven from the session's event loop only.
type TurnCoordinator struct {
	state       State
	outstanding bool
	reason      string
	logger      *zap.Logger
	observers   []TransitionObserver
}

// NewTurnCoordinator returns a coordinator in StateIdle
func NewTurnCoordinator(logger *zap.Logger) *TurnCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnCoordinator{state: StateIdle, logger: logger}
}

// OnTransition registers an observer
func (tc *TurnCoordinator) OnTransition(obs TransitionObserver) {
	tc.observers = append(tc.observers, obs)
}

// State returns the current state
func (tc *TurnCoordinator) State() State {
	return tc.state
}

// Fire applies trigger. On an invalid transition the state is unchanged.
func (tc *TurnCoordinator) Fire(trigger Trigger) (State, error) {
	from := tc.state
	to, ok := transitions[from][trigger]
	if !ok {
		return from, &TransitionError{From: from, Trigger: trigger}
	}
	tc.state = to
	if to == StateIdle || to == StateStopping {
		tc.outstanding = false
		tc.reason = ""
	}
	tc.logger.Debug("Turn transition",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("trigger", string(trigger)),
	)
	for _, obs := range tc.observers {
		obs(from, to, trigger)
	}
	return to, nil
}

// CanFlushAudio reports whether captured audio may be transmitted now
func (tc *TurnCoordinator) CanFlushAudio() bool {
	return tc.state == StateListening
}

// TryAcquire takes the response flag. It fails if a response request is
// already outstanding.
func (tc *TurnCoordinator) TryAcquire(reason string) bool {
	if tc.outstanding {
		tc.logger.Debug("Response already outstanding",
			zap.String("held", tc.reason),
			zap.String("requested", reason),
		)
		return false
	}
	tc.outstanding = true
	tc.reason = reason
	return true
}

// Release clears the response flag
func (tc *TurnCoordinator) Release() {
	tc.outstanding = false
	tc.reason = ""
}

// Outstanding reports whether a response request is in flight
func (tc *TurnCoordinator) Outstanding() bool {
	return tc.outstanding
}
