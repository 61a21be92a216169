package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fermata-app/fermata/internal/api"
	"github.com/fermata-app/fermata/internal/coach"
	"github.com/fermata-app/fermata/internal/config"
	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/hooks"
	"github.com/fermata-app/fermata/internal/ingest"
	"github.com/fermata-app/fermata/internal/logging"
	"github.com/fermata-app/fermata/internal/session"
)

const analysisPayload = `{"overall_score":72,"summary":"Solid take.","feedback_items":[{"title":"Pitch drift","category":"vocal","severity":"critical"},{"title":"Rushed bridge","category":"timing","severity":"improvement"}],"thought_signature":"ts_1"}`

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// fakeStreamer scripts the ingestion client.
type fakeStreamer struct {
	mu        sync.Mutex
	analysis  []ingest.Event
	fix       []ingest.Event
	analyses  []ingest.AnalyzeRequest
	fixes     []ingest.FixRequest
}

func (f *fakeStreamer) StreamAnalysis(ctx context.Context, req ingest.AnalyzeRequest) (<-chan ingest.Event, error) {
	f.mu.Lock()
	f.analyses = append(f.analyses, req)
	events := f.analysis
	f.mu.Unlock()
	return replay(events), nil
}

func (f *fakeStreamer) StreamFix(ctx context.Context, req ingest.FixRequest) (<-chan ingest.Event, error) {
	f.mu.Lock()
	f.fixes = append(f.fixes, req)
	events := f.fix
	f.mu.Unlock()
	return replay(events), nil
}

func replay(events []ingest.Event) <-chan ingest.Event {
	ch := make(chan ingest.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

// fakeChannel stands in for the coach channel.
type fakeChannel struct {
	mu        sync.Mutex
	sessionID string
	handlers  coach.Handlers
	connected bool
	closed    bool
	texts     []string
	results   []coach.Frame
	contexts  int
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	if h := f.handlers.OnStateChange; h != nil {
		h(coach.StateConnected)
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.connected = false
	f.mu.Unlock()
	if h := f.handlers.OnStateChange; h != nil {
		h(coach.StateDisconnected)
	}
	return nil
}

func (f *fakeChannel) Status() coach.ChannelStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := coach.StateDisconnected
	if f.connected {
		state = coach.StateConnected
	}
	return coach.ChannelStatus{State: state, SessionID: f.sessionID}
}

func (f *fakeChannel) SendText(content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, content)
	return nil
}

func (f *fakeChannel) SendToolResult(id, name string, result map[string]any, isError bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, coach.NewToolResultFrame(id, name, result, isError))
	return nil
}

func (f *fakeChannel) QueueContext(analysis any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contexts++
	return nil
}

func (f *fakeChannel) contextCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contexts
}

// channelRecorder is a ChannelFactory that hands out fakes.
type channelRecorder struct {
	mu    sync.Mutex
	chans []*fakeChannel
}

func (r *channelRecorder) factory(sessionID string, handlers coach.Handlers) CoachLink {
	ch := &fakeChannel{sessionID: sessionID, handlers: handlers}
	r.mu.Lock()
	r.chans = append(r.chans, ch)
	r.mu.Unlock()
	return ch
}

func (r *channelRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chans)
}

func (r *channelRecorder) last() *fakeChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.chans) == 0 {
		return nil
	}
	return r.chans[len(r.chans)-1]
}

type orchHarness struct {
	o        *Orchestrator
	model    *session.Model
	streamer *fakeStreamer
	channels *channelRecorder
	hooks    *hooks.Manager
	outcomes chan ingest.Outcome
}

func newOrchHarness(t *testing.T, serverURL string, opts ...Option) *orchHarness {
	t.Helper()
	log := silentLog()
	h := &orchHarness{
		streamer: &fakeStreamer{},
		channels: &channelRecorder{},
		hooks:    hooks.NewManager(log),
		outcomes: make(chan ingest.Outcome, 8),
	}
	client := api.NewClient(serverURL, "tok", log)
	h.model = session.NewModel(log)
	tracker := ingest.NewTracker(h.streamer, h.model, log)
	handlers := Handlers{OnOutcome: func(out ingest.Outcome) { h.outcomes <- out }}

	allOpts := append([]Option{
		WithChannelFactory(h.channels.factory),
		WithHooks(h.hooks),
	}, opts...)
	h.o = New(config.Config{}, client, h.model, tracker, handlers, log, allOpts...)
	return h
}

func (h *orchHarness) waitOutcome(t *testing.T) ingest.Outcome {
	t.Helper()
	select {
	case out := <-h.outcomes:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ingestion outcome")
		return ingest.Outcome{}
	}
}

// recordEvents collects hook emissions by event name.
func recordEvents(h *orchHarness, events ...string) *[]string {
	var mu sync.Mutex
	seen := &[]string{}
	for _, ev := range events {
		h.hooks.On(ev, "test", func(ctx context.Context, p hooks.Payload) error {
			mu.Lock()
			defer mu.Unlock()
			*seen = append(*seen, p.Event)
			return nil
		})
	}
	return seen
}

// --- bootstrap tests ---

func TestBootstrapHydratesMostRecent(t *testing.T) {
	score := 68
	stored := &domain.Session{
		ID: "s-recent",
		Original: &domain.VideoSlot{
			Score:    &score,
			Summary:  "Good take.",
			Feedback: []domain.FeedbackItem{{Title: "Pitch drift"}},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/sessions":
			json.NewEncoder(w).Encode([]domain.SessionSummary{
				{SessionID: "s-recent", HasOriginal: true},
				{SessionID: "s-older"},
			})
		case "/api/sessions/s-recent":
			json.NewEncoder(w).Encode(stored)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h := newOrchHarness(t, srv.URL)
	seen := recordEvents(h, hooks.EventSessionHydrated)

	id := h.o.Bootstrap(t.Context())
	assert.Equal(t, "s-recent", id)
	assert.Equal(t, "s-recent", h.model.SessionID())
	assert.True(t, h.model.HasResult())
	assert.Equal(t, 1, h.model.Feedback().Len())
	assert.Equal(t, []string{hooks.EventSessionHydrated}, *seen)
}

func TestBootstrapFallsBackToFreshSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/sessions" && r.Method == http.MethodGet:
			http.Error(w, `{"error":"store offline"}`, http.StatusInternalServerError)
		case r.URL.Path == "/api/sessions" && r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]string{"session_id": "s-fresh"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h := newOrchHarness(t, srv.URL)
	seen := recordEvents(h, hooks.EventSessionStarted)

	id := h.o.Bootstrap(t.Context())
	assert.Equal(t, "s-fresh", id)
	assert.Equal(t, "s-fresh", h.model.SessionID())
	assert.False(t, h.model.HasResult())
	assert.Equal(t, []string{hooks.EventSessionStarted}, *seen)
}

func TestBootstrapRunsUnpersistedWhenServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // every request now fails to connect

	h := newOrchHarness(t, srv.URL)
	id := h.o.Bootstrap(t.Context())
	assert.Empty(t, id)
	assert.Empty(t, h.model.SessionID())
}

// --- auto-open edge tests ---

func TestFirstAnalysisResultOpensCoach(t *testing.T) {
	h := newOrchHarness(t, "http://unused.invalid")
	h.model.StartSession("s1")
	h.streamer.analysis = []ingest.Event{{Type: ingest.EventComplete, Content: analysisPayload}}

	_, err := h.o.AnalyzeVideo(t.Context(), "uploads/take.mp4", domain.RoleOriginal, 0)
	require.NoError(t, err)
	out := h.waitOutcome(t)
	require.NotNil(t, out.Analysis)

	require.Equal(t, 1, h.channels.count())
	ch := h.channels.last()
	assert.Equal(t, "s1", ch.sessionID)
	assert.True(t, ch.connected)
	assert.Equal(t, 1, ch.contextCount())

	// A later result refreshes the open channel instead of opening another.
	_, err = h.o.AnalyzeVideo(t.Context(), "uploads/take2.mp4", domain.RoleOriginal, 0)
	require.NoError(t, err)
	h.waitOutcome(t)
	assert.Equal(t, 1, h.channels.count())
	assert.Equal(t, 2, ch.contextCount())
}

func TestHydratedResultDoesNotReopenCoach(t *testing.T) {
	h := newOrchHarness(t, "http://unused.invalid")
	score := 60
	h.o.adopt(t.Context(), &domain.Session{
		ID:       "s1",
		Original: &domain.VideoSlot{Score: &score, Feedback: []domain.FeedbackItem{{Title: "a"}}},
	})

	h.streamer.analysis = []ingest.Event{{Type: ingest.EventComplete, Content: analysisPayload}}
	_, err := h.o.AnalyzeVideo(t.Context(), "uploads/take.mp4", domain.RoleOriginal, 0)
	require.NoError(t, err)
	h.waitOutcome(t)

	// The hydrated session already had a result, so the edge never fires.
	assert.Equal(t, 0, h.channels.count())
}

func TestAutoOpenDisabled(t *testing.T) {
	h := newOrchHarness(t, "http://unused.invalid", WithAutoOpenCoach(false))
	h.model.StartSession("s1")
	h.streamer.analysis = []ingest.Event{{Type: ingest.EventComplete, Content: analysisPayload}}

	_, err := h.o.AnalyzeVideo(t.Context(), "uploads/take.mp4", domain.RoleOriginal, 0)
	require.NoError(t, err)
	h.waitOutcome(t)
	assert.Equal(t, 0, h.channels.count())
}

func TestAnalysisCompletedHookCarriesScore(t *testing.T) {
	h := newOrchHarness(t, "http://unused.invalid", WithAutoOpenCoach(false))
	h.model.StartSession("s1")
	h.streamer.analysis = []ingest.Event{{Type: ingest.EventComplete, Content: analysisPayload}}

	var got map[string]any
	var mu sync.Mutex
	h.hooks.On(hooks.EventAnalysisCompleted, "test", func(ctx context.Context, p hooks.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		got = p.Data
		return nil
	})

	_, err := h.o.AnalyzeVideo(t.Context(), "uploads/take.mp4", domain.RoleOriginal, 0)
	require.NoError(t, err)
	h.waitOutcome(t)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, "s1", got["session_id"])
	assert.Equal(t, "original", got["role"])
	assert.Equal(t, 72, got["score"])
}

// --- session switching tests ---

func TestNewSessionClosesCoachAndResetsState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"session_id": "s2"})
	}))
	defer srv.Close()

	h := newOrchHarness(t, srv.URL)
	h.model.StartSession("s1")
	require.NoError(t, h.o.ConnectCoach(t.Context()))
	first := h.channels.last()
	h.o.UI().SetTab(TabCompare)

	id, err := h.o.NewSession(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "s2", id)
	assert.True(t, first.closed)
	assert.Equal(t, coach.StateDisconnected, h.o.CoachStatus().State)
	assert.Equal(t, TabOriginal, h.o.UI().Snapshot().Tab)

	// The next result is the new session's first: the edge re-arms.
	h.streamer.analysis = []ingest.Event{{Type: ingest.EventComplete, Content: analysisPayload}}
	_, err = h.o.AnalyzeVideo(t.Context(), "uploads/take.mp4", domain.RoleOriginal, 0)
	require.NoError(t, err)
	h.waitOutcome(t)
	assert.Equal(t, 2, h.channels.count())
	assert.Equal(t, "s2", h.channels.last().sessionID)
}

func TestSendChatWithoutCoach(t *testing.T) {
	h := newOrchHarness(t, "http://unused.invalid")
	err := h.o.SendChat("hello")
	assert.ErrorIs(t, err, coach.ErrNotConnected)
}

func TestSendChatDelivers(t *testing.T) {
	h := newOrchHarness(t, "http://unused.invalid")
	h.model.StartSession("s1")
	require.NoError(t, h.o.ConnectCoach(t.Context()))
	require.NoError(t, h.o.SendChat("how was that?"))
	assert.Equal(t, []string{"how was that?"}, h.channels.last().texts)
}

// --- fix evaluation tests ---

func TestEvaluateFixRejectsOutOfRangeIndex(t *testing.T) {
	h := newOrchHarness(t, "http://unused.invalid")
	h.model.StartSession("s1")

	_, err := h.o.EvaluateFix(t.Context(), "/tmp/clip.mp4", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no feedback item 3")
	assert.Empty(t, h.streamer.fixes)
}

func TestFixEvaluatedHook(t *testing.T) {
	h := newOrchHarness(t, "http://unused.invalid", WithAutoOpenCoach(false))
	h.model.StartSession("s1")
	h.streamer.analysis = []ingest.Event{{Type: ingest.EventComplete, Content: analysisPayload}}
	_, err := h.o.AnalyzeVideo(t.Context(), "uploads/take.mp4", domain.RoleOriginal, 0)
	require.NoError(t, err)
	h.waitOutcome(t)

	seen := recordEvents(h, hooks.EventFixEvaluated)
	h.streamer.fix = []ingest.Event{{Type: ingest.EventComplete, Content: `{"is_fixed":true,"explanation":"Clean now."}`}}

	tracker := h.o.tracker
	_, err = tracker.StartFix(t.Context(), "http://x/clip.mp4", "uploads/clip.mp4", 0)
	require.NoError(t, err)
	out := h.waitOutcome(t)
	require.NotNil(t, out.Fix)
	assert.True(t, out.Fixed)
	assert.Equal(t, []string{hooks.EventFixEvaluated}, *seen)
	assert.Equal(t, 1, h.model.Feedback().AddressedCount())
}
