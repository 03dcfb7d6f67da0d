package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound event types
const (
	TypeSessionCreated     = "session.created"
	TypeSessionUpdated     = "session.updated"
	TypeSpeechStarted      = "input_audio_buffer.speech_started"
	TypeSpeechStopped      = "input_audio_buffer.speech_stopped"
	TypeAudioCommitted     = "input_audio_buffer.committed"
	TypeResponseCreated    = "response.created"
	TypeResponseDone       = "response.done"
	TypeOutputAudioStarted = "output_audio_buffer.started"
	TypeOutputAudioStopped = "output_audio_buffer.stopped"
	TypeResponseAudioDelta = "response.audio.delta"
	TypeError              = "error"
)

// Outbound message types
const (
	TypeSessionUpdate          = "session.update"
	TypeInputAudioAppend       = "input_audio_buffer.append"
	TypeResponseCreate         = "response.create"
	TypeConversationItemCreate = "conversation.item.create"
)

// DecodeError describes an inbound frame that could not be used
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

// Unsupported reports whether the frame was well formed but of a type
// this client does not handle
func (e *DecodeError) Unsupported() bool {
	return e != nil && e.Code == "unsupported"
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// SessionInfo is the session object echoed by the agent service
type SessionInfo struct {
	ID    string `json:"id"`
	Model string `json:"model,omitempty"`
	Voice string `json:"voice,omitempty"`
}

// SessionCreated confirms the remote session exists. The client may send
// its configuration only after this arrives.
type SessionCreated struct {
	Type    string      `json:"type"`
	EventID string      `json:"event_id,omitempty"`
	Session SessionInfo `json:"session"`
}

// SessionUpdated acknowledges a session.update
type SessionUpdated struct {
	Type    string      `json:"type"`
	EventID string      `json:"event_id,omitempty"`
	Session SessionInfo `json:"session"`
}

// SpeechStarted is the remote VAD detecting user speech
type SpeechStarted struct {
	Type         string `json:"type"`
	AudioStartMS int64  `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

// SpeechStopped is the remote VAD detecting the end of user speech
type SpeechStopped struct {
	Type       string `json:"type"`
	AudioEndMS int64  `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

// AudioCommitted reports that the user's audio became a conversation item
type AudioCommitted struct {
	Type           string `json:"type"`
	PreviousItemID string `json:"previous_item_id,omitempty"`
	ItemID         string `json:"item_id"`
}

// ResponseInfo describes a response and, once done, its output items
type ResponseInfo struct {
	ID     string       `json:"id"`
	Status string       `json:"status,omitempty"`
	Output []OutputItem `json:"output,omitempty"`
}

// OutputItem is one item produced by a response: a message or a
// function call
type OutputItem struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Name      string        `json:"name,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
}

// ContentPart is a piece of message content
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// FunctionCall is an agent-issued tool invocation
type FunctionCall struct {
	CallID    string
	Name      string
	Arguments string
}

// FunctionCalls returns the function-call items of a finished response
func (r ResponseInfo) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, item := range r.Output {
		if item.Type == "function_call" {
			calls = append(calls, FunctionCall{CallID: item.CallID, Name: item.Name, Arguments: item.Arguments})
		}
	}
	return calls
}

// Transcript joins the spoken or written text of a finished response
func (r ResponseInfo) Transcript() string {
	var parts []string
	for _, item := range r.Output {
		for _, c := range item.Content {
			switch {
			case c.Transcript != "":
				parts = append(parts, c.Transcript)
			case c.Text != "":
				parts = append(parts, c.Text)
			}
		}
	}
	return strings.Join(parts, " ")
}

// ResponseCreated reports that the agent started a response
type ResponseCreated struct {
	Type     string       `json:"type"`
	Response ResponseInfo `json:"response"`
}

// ResponseDone reports that a response finished, possibly with tool calls
type ResponseDone struct {
	Type     string       `json:"type"`
	Response ResponseInfo `json:"response"`
}

// OutputAudioStarted reports that agent speech began playing
type OutputAudioStarted struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

// OutputAudioStopped reports that agent speech finished playing
type OutputAudioStopped struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

// ResponseAudioDelta carries agent speech when the transport has no media
// track
type ResponseAudioDelta struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
	Delta      string `json:"delta"`
}

// ErrorDetail is the payload of an error event
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// ErrorEvent reports a problem detected by the agent service
type ErrorEvent struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// DecodeServerEvent parses one inbound data-channel frame into its typed
// event. Unknown types return a DecodeError whose Unsupported method is
// true.
func DecodeServerEvent(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeSessionCreated:
		var msg SessionCreated
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid session.created", "")
		}
		return msg, nil
	case TypeSessionUpdated:
		var msg SessionUpdated
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid session.updated", "")
		}
		return msg, nil
	case TypeSpeechStarted:
		var msg SpeechStarted
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid speech_started", "")
		}
		return msg, nil
	case TypeSpeechStopped:
		var msg SpeechStopped
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid speech_stopped", "")
		}
		return msg, nil
	case TypeAudioCommitted:
		var msg AudioCommitted
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid input_audio_buffer.committed", "")
		}
		if strings.TrimSpace(msg.ItemID) == "" {
			return nil, badRequest("input_audio_buffer.committed.item_id is required", "item_id")
		}
		return msg, nil
	case TypeResponseCreated:
		var msg ResponseCreated
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid response.created", "")
		}
		return msg, nil
	case TypeResponseDone:
		var msg ResponseDone
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid response.done", "")
		}
		for _, call := range msg.Response.FunctionCalls() {
			if strings.TrimSpace(call.CallID) == "" {
				return nil, badRequest("function_call.call_id is required", "call_id")
			}
		}
		return msg, nil
	case TypeOutputAudioStarted:
		var msg OutputAudioStarted
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid output_audio_buffer.started", "")
		}
		return msg, nil
	case TypeOutputAudioStopped:
		var msg OutputAudioStopped
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid output_audio_buffer.stopped", "")
		}
		return msg, nil
	case TypeResponseAudioDelta:
		var msg ResponseAudioDelta
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid response.audio.delta", "")
		}
		return msg, nil
	case TypeError:
		var msg ErrorEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid error event", "")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported event type", typ)
	}
}
