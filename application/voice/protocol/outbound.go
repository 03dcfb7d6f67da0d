package protocol

import (
	"encoding/base64"
	"encoding/json"
)

// ToolDefinition describes one function the agent may call
type ToolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// TurnDetection configures server-side voice activity detection
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
}

// SessionConfig is the session object sent in session.update
type SessionConfig struct {
	Instructions      string           `json:"instructions,omitempty"`
	Voice             string           `json:"voice,omitempty"`
	Modalities        []string         `json:"modalities,omitempty"`
	InputAudioFormat  string           `json:"input_audio_format,omitempty"`
	OutputAudioFormat string           `json:"output_audio_format,omitempty"`
	TurnDetection     *TurnDetection   `json:"turn_detection,omitempty"`
	Tools             []ToolDefinition `json:"tools,omitempty"`
	ToolChoice        string           `json:"tool_choice,omitempty"`
}

// SessionUpdate configures the remote session
type SessionUpdate struct {
	Type    string        `json:"type"`
	EventID string        `json:"event_id,omitempty"`
	Session SessionConfig `json:"session"`
}

// InputAudioAppend streams captured audio to the agent
type InputAudioAppend struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
	Audio   string `json:"audio"`
	Final   bool   `json:"final,omitempty"`
}

// NewInputAudioAppend base64-encodes pcm into an append message. An empty
// final append marks the end of the user's audio.
func NewInputAudioAppend(pcm []byte, final bool) InputAudioAppend {
	return InputAudioAppend{
		Type:  TypeInputAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
		Final: final,
	}
}

// InputItem is an element of a response's explicit input list
type InputItem struct {
	Type    string         `json:"type"`
	ID      string         `json:"id,omitempty"`
	Role    string         `json:"role,omitempty"`
	Content []InputContent `json:"content,omitempty"`
}

// InputContent is text attached to an input item
type InputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponseOptions shapes one requested response
type ResponseOptions struct {
	Instructions string      `json:"instructions,omitempty"`
	Input        []InputItem `json:"input,omitempty"`
}

// ResponseCreate asks the agent to respond
type ResponseCreate struct {
	Type     string          `json:"type"`
	EventID  string          `json:"event_id,omitempty"`
	Response ResponseOptions `json:"response"`
}

// NewResponseCreate builds a response request. When itemID is set the
// committed audio item is referenced explicitly; the graph context rides
// along as a system message so the agent reasons over the current graph.
func NewResponseCreate(itemID, graphContext string) ResponseCreate {
	var input []InputItem
	if itemID != "" {
		input = append(input, InputItem{Type: "item_reference", ID: itemID})
	}
	if graphContext != "" {
		input = append(input, InputItem{
			Type:    "message",
			Role:    "system",
			Content: []InputContent{{Type: "input_text", Text: graphContext}},
		})
	}
	return ResponseCreate{Type: TypeResponseCreate, Response: ResponseOptions{Input: input}}
}

// ConversationItem is an item added to the conversation by the client
type ConversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// ConversationItemCreate adds an item to the conversation
type ConversationItemCreate struct {
	Type    string           `json:"type"`
	EventID string           `json:"event_id,omitempty"`
	Item    ConversationItem `json:"item"`
}

// NewFunctionCallOutput reports a tool result back to the agent
func NewFunctionCallOutput(callID string, output []byte) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{Type: "function_call_output", CallID: callID, Output: string(output)},
	}
}

// Encode marshals an outbound message
func Encode(msg any) ([]byte, error) {
	return json.Marshal(msg)
}
