// Package model puts the analysis/coach model behind a streaming Producer
// interface with Gemini, Anthropic, and scripted backends.
package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Role constants for coach conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AnalysisKind selects the analysis flavor and its expected payload shape.
type AnalysisKind string

const (
	AnalyzePerformance AnalysisKind = "performance"
	AnalyzeComparison  AnalysisKind = "comparison"
	AnalyzeFix         AnalysisKind = "fix"
)

// AnalysisRequest asks a producer to analyze one local video file.
type AnalysisRequest struct {
	VideoPath string       // local mp4 path, already converted
	MimeType  string       // defaults to video/mp4
	Kind      AnalysisKind // selects the prompt's payload contract
	Prompt    string       // fully rendered instruction
	// PriorSignature is the thought signature from an earlier analysis in
	// the same session, threaded through for continuity.
	PriorSignature string
}

// Message is one turn in a coach conversation.
type Message struct {
	Role        string
	Content     string
	ToolCalls   []ToolCall   // assistant turns that invoked tools
	ToolResults []ToolResult // user turns answering tool calls
}

// ToolCall is a producer request to invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult answers one tool call.
type ToolResult struct {
	ID     string
	Name   string
	Result map[string]any
}

// Tool describes one tool the coach may invoke.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// CoachRequest is the input to one coach turn.
type CoachRequest struct {
	System      string
	Messages    []Message
	Tools       []Tool
	MaxTokens   int
	Temperature *float32
}

// EventType discriminates producer stream events.
type EventType string

const (
	EventStatus   EventType = "status"   // progress narration, replaces prior status
	EventThinking EventType = "thinking" // model thought summaries
	EventDelta    EventType = "delta"    // text chunk
	EventToolCall EventType = "tool_call"
	EventComplete EventType = "complete" // terminal analysis payload
	EventError    EventType = "error"    // terminal failure
)

// Event is one chunk of a producer stream. Analysis streams end with exactly
// one complete or error before the channel closes; coach turns end with the
// channel closing after the final delta or tool call.
type Event struct {
	Type     EventType
	Content  string
	ToolCall *ToolCall
	Err      error
}

// Producer is the opaque model backend. Both operations stream; the returned
// channel is closed when the stream ends or ctx is canceled.
type Producer interface {
	AnalyzeVideo(ctx context.Context, req AnalysisRequest) (<-chan Event, error)
	CoachTurn(ctx context.Context, req CoachRequest) (<-chan Event, error)
	Name() string
}

// ProviderError is returned when a producer backend fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP-like status code (401, 429, 500, etc.)
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// SynthSignature derives a thought signature from stream content when the
// backend supplies no native one.
func SynthSignature(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return "ts_" + hex.EncodeToString(sum[:])[:16]
}
