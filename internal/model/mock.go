package model

import "context"

// MockProducer is a test double for Producer.
type MockProducer struct {
	ProviderName string
	AnalyzeFunc  func(ctx context.Context, req AnalysisRequest) (<-chan Event, error)
	CoachFunc    func(ctx context.Context, req CoachRequest) (<-chan Event, error)
}

func (m *MockProducer) Name() string {
	if m.ProviderName != "" {
		return m.ProviderName
	}
	return "mock"
}

func (m *MockProducer) AnalyzeVideo(ctx context.Context, req AnalysisRequest) (<-chan Event, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, req)
	}
	ch := make(chan Event, 2)
	ch <- Event{Type: EventStatus, Content: "Analyzing performance..."}
	ch <- Event{Type: EventComplete, Content: `{"overall_score":70,"summary":"mock analysis","feedback_items":[]}`}
	close(ch)
	return ch, nil
}

func (m *MockProducer) CoachTurn(ctx context.Context, req CoachRequest) (<-chan Event, error) {
	if m.CoachFunc != nil {
		return m.CoachFunc(ctx, req)
	}
	ch := make(chan Event, 1)
	ch <- Event{Type: EventDelta, Content: "mock coach reply"}
	close(ch)
	return ch, nil
}
