// Package ingest implements the one-shot streaming request protocol: an
// analysis or fix-evaluation request is issued once and answered with an
// ordered sequence of typed events, terminated by exactly one complete or
// error event. The tracker enforces admission control (one in-flight
// sequence per target) and folds terminal payloads into the session model.
package ingest

import "encoding/json"

// EventType discriminates stream events.
type EventType string

const (
	// EventStatus replaces the prior status line, never accumulated.
	EventStatus EventType = "status"
	// EventThinking appends to the request's reasoning transcript.
	EventThinking EventType = "thinking"
	// EventPartial carries narration chunks, accumulated for display only
	// and never concatenated into the final parse.
	EventPartial EventType = "analysis"
	// EventComplete carries the full structured result as one JSON unit.
	EventComplete EventType = "complete"
	// EventError terminates the sequence; the message surfaces verbatim.
	EventError EventType = "error"
)

// Event is one element of a streaming response sequence.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
}

// Terminal reports whether the event ends its sequence.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// UnmarshalJSON accepts both string and structured content; a structured
// complete payload passes through as its JSON text so it still parses as
// one unit.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    EventType       `json:"type"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Type = raw.Type
	if len(raw.Content) == 0 {
		e.Content = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.Content, &s); err == nil {
		e.Content = s
		return nil
	}
	e.Content = string(raw.Content)
	return nil
}
