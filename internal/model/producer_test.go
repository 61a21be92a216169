package model

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fermata-app/fermata/internal/config"
	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/logging"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func completeEvent(t *testing.T, events []Event) Event {
	t.Helper()
	var completes []Event
	for _, ev := range events {
		if ev.Type == EventComplete {
			completes = append(completes, ev)
		}
	}
	require.Len(t, completes, 1, "stream must end with exactly one complete event")
	require.Equal(t, EventComplete, events[len(events)-1].Type, "complete must be the final event")
	return completes[0]
}

func joinedText(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == EventDelta {
			b.WriteString(ev.Content)
		}
	}
	return b.String()
}

// --- Registry tests ---

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := NewRegistry(silentLog())

	mock := &MockProducer{ProviderName: "test-backend"}
	reg.Register("test-backend", mock)

	p, err := reg.Resolve("test-backend")
	require.NoError(t, err)
	assert.Equal(t, "test-backend", p.Name())
}

func TestRegistryFallback(t *testing.T) {
	reg := NewRegistry(silentLog())

	reg.Register("default-backend", &MockProducer{ProviderName: "default-backend"})
	reg.SetFallback("default-backend")

	p, err := reg.Resolve("unknown-backend-xyz")
	require.NoError(t, err)
	assert.Equal(t, "default-backend", p.Name())
}

func TestRegistryResolveNotFound(t *testing.T) {
	reg := NewRegistry(silentLog())

	_, err := reg.Resolve("nonexistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no producer backend")
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("a", &MockProducer{ProviderName: "a"})
	reg.Register("b", &MockProducer{ProviderName: "b"})

	names := reg.List()
	assert.Len(t, names, 2)
	assert.Contains(t, names, "a")
	assert.Contains(t, names, "b")
}

func TestNewRegistryFromConfigDefaultsToScripted(t *testing.T) {
	reg, err := NewRegistryFromConfig(config.ProducerConfig{}, silentLog())
	require.NoError(t, err)

	p, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "scripted", p.Name())
}

func TestNewRegistryFromConfigGemini(t *testing.T) {
	reg, err := NewRegistryFromConfig(config.ProducerConfig{
		Backend: "gemini",
		APIKey:  "test-key",
	}, silentLog())
	require.NoError(t, err)

	p, err := reg.Resolve("gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	// The scripted backend stays available for explicit selection.
	p, err = reg.Resolve("scripted")
	require.NoError(t, err)
	assert.Equal(t, "scripted", p.Name())
}

func TestNewRegistryFromConfigMissingKey(t *testing.T) {
	_, err := NewRegistryFromConfig(config.ProducerConfig{Backend: "anthropic"}, silentLog())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not available")
}

func TestFromConfig(t *testing.T) {
	p, err := FromConfig(config.ProducerConfig{Backend: "scripted"}, silentLog())
	require.NoError(t, err)
	assert.Equal(t, "scripted", p.Name())
}

// --- Scripted backend tests ---

func TestScriptedAnalyzePerformance(t *testing.T) {
	s := NewScripted()

	ch, err := s.AnalyzeVideo(context.Background(), AnalysisRequest{
		VideoPath: "/tmp/take1.mp4",
		Kind:      AnalyzePerformance,
		Prompt:    AnalysisPrompt,
	})
	require.NoError(t, err)

	events := collect(t, ch)
	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, EventStatus, events[0].Type)
	assert.Equal(t, "Uploading video to AI...", events[0].Content)
	assert.Equal(t, EventStatus, events[1].Type)
	assert.Equal(t, "Analyzing performance...", events[1].Content)
	assert.Equal(t, EventThinking, events[2].Type)

	res, err := domain.ParseAnalysisResult(completeEvent(t, events).Content)
	require.NoError(t, err)
	assert.Equal(t, 72, res.OverallScore)
	assert.Len(t, res.FeedbackItems, 2)
	assert.True(t, strings.HasPrefix(res.ThoughtSignature, "ts_"))
	assert.Equal(t, "Clair de Lune", res.SongName)
	assert.Equal(t, domain.SeverityCritical, res.FeedbackItems[0].Severity)
}

func TestScriptedAnalyzeComparison(t *testing.T) {
	s := NewScripted()

	ch, err := s.AnalyzeVideo(context.Background(), AnalysisRequest{
		VideoPath: "/tmp/final.mp4",
		Kind:      AnalyzeComparison,
	})
	require.NoError(t, err)

	res, err := domain.ParseAnalysisResult(completeEvent(t, collect(t, ch)).Content)
	require.NoError(t, err)
	assert.Equal(t, 81, res.OverallScore)
	assert.NotEmpty(t, res.ComparisonSummary)
	require.NotNil(t, res.IGPostable)
	assert.True(t, *res.IGPostable)
	assert.NotEmpty(t, res.IGVerdict)
}

func TestScriptedAnalyzeFix(t *testing.T) {
	s := NewScripted()

	ch, err := s.AnalyzeVideo(context.Background(), AnalysisRequest{
		VideoPath: "/tmp/clip-1.mp4",
		Kind:      AnalyzeFix,
	})
	require.NoError(t, err)
	res, err := domain.ParseFixResult(completeEvent(t, collect(t, ch)).Content)
	require.NoError(t, err)
	assert.True(t, res.IsFixed)
	assert.NotEmpty(t, res.Explanation)

	// A filename containing "unfixed" flips the verdict.
	ch, err = s.AnalyzeVideo(context.Background(), AnalysisRequest{
		VideoPath: "/tmp/clip-unfixed.mp4",
		Kind:      AnalyzeFix,
	})
	require.NoError(t, err)
	res, err = domain.ParseFixResult(completeEvent(t, collect(t, ch)).Content)
	require.NoError(t, err)
	assert.False(t, res.IsFixed)
}

func TestScriptedAnalyzeMissingPath(t *testing.T) {
	s := NewScripted()

	_, err := s.AnalyzeVideo(context.Background(), AnalysisRequest{Kind: AnalyzePerformance})
	assert.Error(t, err)

	var provErr *ProviderError
	assert.ErrorAs(t, err, &provErr)
	assert.Equal(t, "scripted", provErr.Provider)
}

func TestScriptedAnalyzeDeterministic(t *testing.T) {
	s := NewScripted()
	req := AnalysisRequest{VideoPath: "/tmp/take1.mp4", Kind: AnalyzePerformance}

	ch1, err := s.AnalyzeVideo(context.Background(), req)
	require.NoError(t, err)
	ch2, err := s.AnalyzeVideo(context.Background(), req)
	require.NoError(t, err)

	first := completeEvent(t, collect(t, ch1)).Content
	second := completeEvent(t, collect(t, ch2)).Content
	assert.Equal(t, first, second)
}

func TestScriptedCoachGreeting(t *testing.T) {
	s := NewScripted()

	ch, err := s.CoachTurn(context.Background(), CoachRequest{
		System:   DefaultCoachSystem,
		Messages: []Message{{Role: RoleUser, Content: GreetingInstruction}},
	})
	require.NoError(t, err)

	events := collect(t, ch)
	for _, ev := range events {
		assert.Equal(t, EventDelta, ev.Type)
	}
	assert.Contains(t, joinedText(events), "watched your take")
}

func TestScriptedCoachFixKeyword(t *testing.T) {
	s := NewScripted()

	ch, err := s.CoachTurn(context.Background(), CoachRequest{
		Messages: []Message{{Role: RoleUser, Content: "Let's fix the pitch issue"}},
	})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1)
	require.Equal(t, EventToolCall, events[0].Type)
	require.NotNil(t, events[0].ToolCall)
	assert.Equal(t, "open_fix_modal", events[0].ToolCall.Name)
	assert.Equal(t, float64(0), events[0].ToolCall.Args["index"])
}

func TestScriptedCoachSeekKeyword(t *testing.T) {
	s := NewScripted()

	ch, err := s.CoachTurn(context.Background(), CoachRequest{
		Messages: []Message{{Role: RoleUser, Content: "show me that moment"}},
	})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1)
	require.Equal(t, EventToolCall, events[0].Type)
	assert.Equal(t, "seek_video", events[0].ToolCall.Name)
	assert.Equal(t, 12.5, events[0].ToolCall.Args["timestamp_seconds"])
}

func TestScriptedCoachToolResultAck(t *testing.T) {
	s := NewScripted()

	ch, err := s.CoachTurn(context.Background(), CoachRequest{
		Messages: []Message{
			{Role: RoleUser, Content: "show me that moment"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "tc1", Name: "seek_video", Args: map[string]any{"timestamp_seconds": 12.5}}}},
			{Role: RoleUser, ToolResults: []ToolResult{{ID: "tc1", Name: "seek_video", Result: map[string]any{"ok": true}}}},
		},
	})
	require.NoError(t, err)

	text := joinedText(collect(t, ch))
	assert.Contains(t, text, "Take a look")
}

func TestScriptedCoachCancellation(t *testing.T) {
	s := NewScripted()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, err := s.CoachTurn(ctx, CoachRequest{
		Messages: []Message{{Role: RoleUser, Content: "any advice?"}},
	})
	require.NoError(t, err)

	// The channel must close even when nothing drains it.
	for range ch {
	}
}

// --- MockProducer tests ---

func TestMockProducerDefaults(t *testing.T) {
	mock := &MockProducer{}
	assert.Equal(t, "mock", mock.Name())

	ch, err := mock.AnalyzeVideo(context.Background(), AnalysisRequest{})
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, EventStatus, events[0].Type)
	assert.Equal(t, EventComplete, events[1].Type)

	ch, err = mock.CoachTurn(context.Background(), CoachRequest{})
	require.NoError(t, err)
	events = collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, EventDelta, events[0].Type)
}

func TestMockProducerFuncs(t *testing.T) {
	mock := &MockProducer{
		ProviderName: "custom",
		AnalyzeFunc: func(ctx context.Context, req AnalysisRequest) (<-chan Event, error) {
			return nil, &ProviderError{Provider: "custom", Message: "boom", Code: 500}
		},
	}
	assert.Equal(t, "custom", mock.Name())

	_, err := mock.AnalyzeVideo(context.Background(), AnalysisRequest{})
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, 500, provErr.Code)
}

// --- Signature and error formatting ---

func TestSynthSignature(t *testing.T) {
	sig := SynthSignature("some stream content")
	assert.True(t, strings.HasPrefix(sig, "ts_"))
	assert.Len(t, sig, 3+16)

	assert.Equal(t, sig, SynthSignature("some stream content"))
	assert.NotEqual(t, sig, SynthSignature("different content"))
}

func TestProviderErrorFormat(t *testing.T) {
	err := &ProviderError{Provider: "gemini", Message: "rate limited", Code: 429}
	assert.Equal(t, "gemini: 429 rate limited", err.Error())

	err2 := &ProviderError{Provider: "anthropic", Message: "unknown error"}
	assert.Equal(t, "anthropic: unknown error", err2.Error())
}

// --- Prompt rendering ---

func TestComparisonPrompt(t *testing.T) {
	prompt := ComparisonPrompt("Solid take with pitch drift.", 67)
	assert.Contains(t, prompt, "67/100")
	assert.Contains(t, prompt, "Solid take with pitch drift.")
	assert.Contains(t, prompt, "comparison_summary")
	assert.Contains(t, prompt, "ig_postable")
	assert.True(t, strings.HasPrefix(prompt, AnalysisPrompt))
}

func TestFixPrompt(t *testing.T) {
	prompt := FixPrompt(domain.FeedbackItem{
		Title:       "Pitch drift on the sustained note",
		Category:    domain.CategoryVocal,
		Severity:    domain.SeverityCritical,
		Description: "The held note slides flat.",
		Action:      "Practice with a drone.",
	})
	assert.Contains(t, prompt, "Pitch drift on the sustained note")
	assert.Contains(t, prompt, "vocal")
	assert.Contains(t, prompt, "Practice with a drone.")
	assert.Contains(t, prompt, "is_fixed")
}

func TestContextBlock(t *testing.T) {
	score := 72
	block := ContextBlock(domain.AnalysisView{
		Score:   &score,
		Summary: "Solid take.",
		Feedback: []domain.FeedbackItem{
			{Title: "Pitch drift"},
			{Title: "Late entry"},
			{Title: "Rushed bridge"},
			{Title: "Fourth issue"},
		},
	})
	assert.Contains(t, block, "Last score: 72/100")
	assert.Contains(t, block, "Summary: Solid take.")
	assert.Contains(t, block, "Pitch drift, Late entry, Rushed bridge")
	assert.NotContains(t, block, "Fourth issue")
}

func TestContextBlockEmpty(t *testing.T) {
	block := ContextBlock(domain.AnalysisView{})
	assert.Contains(t, block, "Last score: N/A")
	assert.Contains(t, block, "No previous analysis")
	assert.NotContains(t, block, "Key issues")
}
