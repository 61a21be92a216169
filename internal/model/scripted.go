package model

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/fermata-app/fermata/internal/domain"
)

// Scripted is a deterministic offline backend. It streams canned analysis
// payloads and answers coach turns with keyword-driven replies, so the full
// pipeline runs without network access or API keys.
type Scripted struct{}

// NewScripted creates the scripted backend.
func NewScripted() *Scripted { return &Scripted{} }

// Name returns the backend name.
func (s *Scripted) Name() string { return "scripted" }

// AnalyzeVideo streams the fixed analysis for the request kind. Fix
// evaluations report unfixed when the video filename contains "unfixed",
// which keeps retry flows reachable in development.
func (s *Scripted) AnalyzeVideo(ctx context.Context, req AnalysisRequest) (<-chan Event, error) {
	if req.VideoPath == "" {
		return nil, &ProviderError{Provider: "scripted", Message: "analysis request missing video path"}
	}

	ch := make(chan Event, 8)
	go func() {
		defer close(ch)
		emit := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(Event{Type: EventStatus, Content: "Uploading video to AI..."}) {
			return
		}
		if !emit(Event{Type: EventStatus, Content: "Analyzing performance..."}) {
			return
		}
		if !emit(Event{Type: EventThinking, Content: "Reviewing pitch, timing, and dynamics across the take."}) {
			return
		}

		payload, narration := s.payload(req)
		for _, chunk := range narration {
			if !emit(Event{Type: EventDelta, Content: chunk}) {
				return
			}
		}
		emit(Event{Type: EventComplete, Content: payload})
	}()
	return ch, nil
}

func (s *Scripted) payload(req AnalysisRequest) (payload string, narration []string) {
	signature := SynthSignature(req.VideoPath + string(req.Kind))

	switch req.Kind {
	case AnalyzeFix:
		fixed := !strings.Contains(filepath.Base(req.VideoPath), "unfixed")
		res := domain.FixResult{
			IsFixed:     fixed,
			Explanation: "The retake holds the phrase steady where the original drifted.",
			Tips:        "Keep the breath support consistent through the sustained note.",
		}
		if !fixed {
			res.Explanation = "The retake still drifts on the sustained phrase."
			res.Tips = "Slow the phrase down and land the first note before tempo."
		}
		return mustJSON(res), []string{"Comparing the retake against the flagged moment... "}

	case AnalyzeComparison:
		postable := true
		res := domain.AnalysisResult{
			OverallScore: 81,
			Summary:      "Stronger take overall: steadier intonation and a more confident close.",
			FeedbackItems: []domain.FeedbackItem{{
				TimestampSeconds: 41.2,
				Category:         domain.CategoryTiming,
				Severity:         domain.SeverityMinor,
				Title:            "Slight rush into the bridge",
				Description:      "The bridge entry lands a hair early against the backing pulse.",
				Action:           "Count the pickup bar out loud once before the bridge.",
			}},
			Strengths:         []string{"Confident dynamics in the final chorus"},
			ThoughtSignature:  signature,
			ComparisonSummary: "Score up 9 points; the pitch drift from the first take is gone.",
			IGPostable:        &postable,
			IGVerdict:         "Post it. The final chorus is the hook.",
		}
		return mustJSON(res), []string{"Holding both takes side by side... ", "the retake wins on pitch and energy."}

	default:
		res := domain.AnalysisResult{
			OverallScore: 72,
			Summary:      "Solid take with a few fixable pitch and timing issues.",
			FeedbackItems: []domain.FeedbackItem{
				{
					TimestampSeconds: 12.5,
					Category:         domain.CategoryVocal,
					Severity:         domain.SeverityCritical,
					Title:            "Pitch drift on the sustained note",
					Description:      "The held note at the end of the first phrase slides flat.",
					Action:           "Practice the phrase slowly with a drone on the target pitch.",
				},
				{
					TimestampSeconds: 34.0,
					Category:         domain.CategoryTiming,
					Severity:         domain.SeverityImprovement,
					Title:            "Late entry after the rest",
					Description:      "The entry after the half-bar rest lags the beat.",
					Action:           "Subdivide the rest out loud before the entry.",
				},
			},
			Strengths:        []string{"Warm tone in the lower register", "Clear diction throughout"},
			ThoughtSignature: signature,
			SongName:         "Clair de Lune",
			SongArtist:       "Debussy",
		}
		return mustJSON(res), []string{"Scoring the take... ", "two issues stand out, both fixable."}
	}
}

// CoachTurn answers from the last user message with simple keyword rules.
// Tool results get an acknowledgement; fix or seek language triggers the
// matching tool call so the client-side loop is exercised end to end.
func (s *Scripted) CoachTurn(ctx context.Context, req CoachRequest) (<-chan Event, error) {
	ch := make(chan Event, 8)
	go func() {
		defer close(ch)
		emit := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		last := lastUserMessage(req.Messages)
		text := strings.ToLower(last.Content)

		switch {
		case len(last.ToolResults) > 0:
			emitText(emit, "Done. Take a look and tell me what you hear.")

		case strings.Contains(text, "greet the user"):
			emitText(emit, "Hey! I watched your take. Want to walk through the feedback together, or jump straight to fixing the biggest issue?")

		case strings.Contains(text, "fix"):
			if !emit(Event{Type: EventToolCall, ToolCall: &ToolCall{Name: "open_fix_modal", Args: map[string]any{"index": float64(0)}}}) {
				return
			}

		case strings.Contains(text, "show me") || strings.Contains(text, "seek") || strings.Contains(text, "that moment"):
			if !emit(Event{Type: EventToolCall, ToolCall: &ToolCall{Name: "seek_video", Args: map[string]any{"timestamp_seconds": float64(12.5)}}}) {
				return
			}

		case strings.Contains(text, "original"):
			if !emit(Event{Type: EventToolCall, ToolCall: &ToolCall{Name: "show_original", Args: map[string]any{}}}) {
				return
			}

		case strings.Contains(text, "record") || strings.Contains(text, "try again"):
			if !emit(Event{Type: EventToolCall, ToolCall: &ToolCall{Name: "open_recorder", Args: map[string]any{"focus_hint": "Keep the sustained note steady this time."}}}) {
				return
			}

		default:
			emitText(emit, "Focus on the sustained note first. Sing it slowly against a drone, then bring it back to tempo.")
		}
	}()
	return ch, nil
}

func emitText(emit func(Event) bool, text string) {
	for _, word := range strings.SplitAfter(text, " ") {
		if !emit(Event{Type: EventDelta, Content: word}) {
			return
		}
	}
}

func lastUserMessage(messages []Message) Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i]
		}
	}
	return Message{}
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
