package orchestrator

import (
	"strings"
	"sync"
	"time"
)

// Display tabs. Compare becomes meaningful once a final take is scored; the
// state layer does not enforce that.
const (
	TabOriginal = "original"
	TabPractice = "practice"
	TabFinal    = "final"
	TabCompare  = "compare"
)

// PlaybackState is where the playback head sits, and in which take.
type PlaybackState struct {
	Video     string    `json:"video,omitempty"`
	Position  float64   `json:"position"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// RecorderState describes the capture flow the coach asked for.
type RecorderState struct {
	Open      bool   `json:"open"`
	FocusHint string `json:"focus_hint,omitempty"`
	Kind      string `json:"kind,omitempty"` // practice | final
}

// CountdownState is the pre-recording countdown.
type CountdownState struct {
	Seconds   int       `json:"seconds"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// FixModalState tracks the fix flow opened for one feedback item.
type FixModalState struct {
	Open  bool `json:"open"`
	Index int  `json:"index"`
}

// UISnapshot is a copy of the advisory state for display.
type UISnapshot struct {
	Tab       string         `json:"tab"`
	Playback  PlaybackState  `json:"playback"`
	Recorder  RecorderState  `json:"recorder"`
	Countdown CountdownState `json:"countdown"`
	FixModal  FixModalState  `json:"fix_modal"`
}

// UIState is the advisory presentation state the coach's tools steer:
// which tab is displayed, where playback sits, whether the recorder or fix
// modal is open. It never feeds back into session data; mutations flow only
// through the orchestrator's tool handlers and explicit user actions.
type UIState struct {
	mu        sync.Mutex
	tab       string
	playback  PlaybackState
	recorder  RecorderState
	countdown CountdownState
	fixModal  FixModalState
}

// NewUIState starts on the original tab with everything closed.
func NewUIState() *UIState {
	return &UIState{tab: TabOriginal}
}

// SetTab changes the displayed tab. Empty input is ignored.
func (s *UIState) SetTab(tab string) {
	tab = strings.TrimSpace(tab)
	if tab == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tab = tab
}

// Seek moves the playback head. An empty video keeps the head in the take it
// was in.
func (s *UIState) Seek(video string, seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if video != "" {
		s.playback.Video = video
	}
	s.playback.Position = seconds
	s.playback.UpdatedAt = time.Now().UTC()
}

// OpenRecorder begins the capture flow.
func (s *UIState) OpenRecorder(focusHint, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = RecorderState{Open: true, FocusHint: focusHint, Kind: kind}
}

// CloseRecorder ends the capture flow and clears the countdown.
func (s *UIState) CloseRecorder() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = RecorderState{}
	s.countdown = CountdownState{}
}

// StartCountdown arms the pre-recording countdown.
func (s *UIState) StartCountdown(seconds int) {
	if seconds <= 0 {
		seconds = 3
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countdown = CountdownState{Seconds: seconds, StartedAt: time.Now().UTC()}
}

// OpenFixModal opens the fix flow for one feedback item.
func (s *UIState) OpenFixModal(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixModal = FixModalState{Open: true, Index: index}
}

// CloseFixModal dismisses the fix flow.
func (s *UIState) CloseFixModal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixModal = FixModalState{}
}

// Reset returns the state to its starting shape, used on session switches.
func (s *UIState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tab = TabOriginal
	s.playback = PlaybackState{}
	s.recorder = RecorderState{}
	s.countdown = CountdownState{}
	s.fixModal = FixModalState{}
}

// Snapshot returns a copy for display.
func (s *UIState) Snapshot() UISnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return UISnapshot{
		Tab:       s.tab,
		Playback:  s.playback,
		Recorder:  s.recorder,
		Countdown: s.countdown,
		FixModal:  s.fixModal,
	}
}
