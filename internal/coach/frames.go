// Package coach implements both ends of the tool-call channel: the frame
// codec, the tool vocabulary with schema validation, the dispatcher that
// answers tool calls, and the reconnecting WebSocket client.
package coach

import "encoding/json"

// Frame types. Outbound from the client: text, context, tool_result.
// Inbound from the server: connected, text, tool_call, error.
const (
	FrameText       = "text"
	FrameContext    = "context"
	FrameToolResult = "tool_result"
	FrameConnected  = "connected"
	FrameToolCall   = "tool_call"
	FrameError      = "error"
)

// Frame is the envelope for all coach channel messages, discriminated by
// Type. Unused fields stay empty for any given type.
type Frame struct {
	Type string `json:"type"`

	// text frames
	Content string `json:"content,omitempty"`

	// error frames
	Message string `json:"message,omitempty"`

	// connected frames
	SessionID    string   `json:"session_id,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`

	// context frames carry an opaque analysis snapshot
	Analysis json.RawMessage `json:"analysis,omitempty"`

	// tool_call / tool_result frames
	ID      string          `json:"id,omitempty"` // correlation id
	Name    string          `json:"name,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Result  map[string]any  `json:"result,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// NewTextFrame creates a text frame.
func NewTextFrame(content string) Frame {
	return Frame{Type: FrameText, Content: content}
}

// NewContextFrame creates a context frame around an analysis snapshot.
func NewContextFrame(analysis any) (Frame, error) {
	raw, err := json.Marshal(analysis)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameContext, Analysis: raw}, nil
}

// NewConnectedFrame creates the channel-ready frame with its advertised
// capabilities.
func NewConnectedFrame(sessionID string, capabilities []string) Frame {
	return Frame{Type: FrameConnected, SessionID: sessionID, Capabilities: capabilities}
}

// NewToolCallFrame creates a tool_call frame.
func NewToolCallFrame(id, name string, args map[string]any) (Frame, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameToolCall, ID: id, Name: name, Args: raw}, nil
}

// NewToolResultFrame creates a tool_result frame answering one call.
func NewToolResultFrame(id, name string, result map[string]any, isError bool) Frame {
	return Frame{Type: FrameToolResult, ID: id, Name: name, Result: result, IsError: isError}
}

// NewErrorFrame creates an error frame.
func NewErrorFrame(message string) Frame {
	return Frame{Type: FrameError, Message: message}
}

// ParseFrame decodes one wire message.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// ArgsMap decodes a tool_call frame's arguments. Absent args decode to an
// empty map.
func (f Frame) ArgsMap() (map[string]any, error) {
	if len(f.Args) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(f.Args, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
