package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/logging"
)

// ErrStaleGeneration marks a terminal event whose request predates the
// current session. The event is discarded without mutating anything.
var ErrStaleGeneration = errors.New("session: stale generation")

// Model owns the active session's slots and identifier. Every session
// replacement bumps a generation counter; in-flight requests tag themselves
// with the generation at issue time so late results against a superseded
// session are rejected instead of corrupting the new one.
type Model struct {
	mu       sync.Mutex
	log      *logging.Logger
	sess     *domain.Session
	gen      uint64
	feedback *FeedbackList
}

// NewModel returns a model holding a fresh empty session at generation 1.
func NewModel(log *logging.Logger) *Model {
	if log == nil {
		log = logging.Nop()
	}
	now := time.Now().UTC()
	return &Model{
		log:      log.Sub("session"),
		sess:     &domain.Session{CreatedAt: now, UpdatedAt: now},
		gen:      1,
		feedback: NewFeedbackList(),
	}
}

// Feedback returns the feedback list for the active analysis.
func (m *Model) Feedback() *FeedbackList {
	return m.feedback
}

// Generation returns the tag an ingestion request must capture at issue
// time and present back when its terminal event applies.
func (m *Model) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// SessionID returns the persisted identifier, empty until first persisted.
func (m *Model) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.ID
}

// SetSessionID records the identifier assigned on first persistence.
func (m *Model) SetSessionID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess.ID = id
	m.sess.UpdatedAt = time.Now().UTC()
}

// StartSession replaces the session with a fresh empty one and bumps the
// generation, which invalidates every in-flight request.
func (m *Model) StartSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	m.sess = &domain.Session{ID: id, CreatedAt: now, UpdatedAt: now}
	m.gen++
	m.feedback.SetAll(nil)
	m.log.Debug().Str("id", id).Uint64("generation", m.gen).Msg("session started")
}

// Hydrate replaces the session with a persisted one and rebuilds the
// feedback list from the derived active view.
func (m *Model) Hydrate(sess *domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = sess.Clone()
	m.gen++
	if view, ok := m.sess.ActiveView(); ok {
		m.feedback.SetAll(view.Feedback)
	} else {
		m.feedback.SetAll(nil)
	}
	m.log.Debug().Str("id", sess.ID).Uint64("generation", m.gen).Msg("session hydrated")
}

// Snapshot returns a deep copy of the current session.
func (m *Model) Snapshot() *domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.Clone()
}

// ActiveView derives which slot's result should drive the display.
func (m *Model) ActiveView() (domain.AnalysisView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.ActiveView()
}

// HasResult reports whether any slot carries an analysis result. The
// orchestrator watches the false-to-true edge to auto-open the coach.
func (m *Model) HasResult() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sess.ActiveView()
	return ok
}

// AttachVideo records an uploaded take in the original or final slot.
func (m *Model) AttachVideo(role domain.VideoRole, url, blob string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := m.sess.EnsureSlot(role)
	if slot == nil {
		return fmt.Errorf("session: role %q has no slot", role)
	}
	slot.URL = url
	slot.BlobName = blob
	m.sess.UpdatedAt = time.Now().UTC()
	return nil
}

// AddPracticeClip appends a clip and returns its ordinal number.
func (m *Model) AddPracticeClip(url, blob, focusHint string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	clip := m.sess.AddPracticeClip(url, blob, time.Now().UTC())
	clip.FocusHint = focusHint
	m.sess.UpdatedAt = clip.CreatedAt
	return clip.ClipNumber
}

// ApplyAnalysis folds a terminal analysis result into the slot the request
// declared, then re-syncs the feedback list to the derived active view.
// A stale generation tag rejects the whole application.
func (m *Model) ApplyAnalysis(tag uint64, role domain.VideoRole, clipNumber int, res *domain.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tag != m.gen {
		m.log.Debug().Uint64("tag", tag).Uint64("generation", m.gen).Msg("discarding stale analysis")
		return ErrStaleGeneration
	}

	now := time.Now().UTC()
	switch role {
	case domain.RoleOriginal, domain.RoleFinal:
		m.sess.EnsureSlot(role).ApplyResult(res, now)
	case domain.RolePractice:
		clip := m.clipByNumber(clipNumber)
		if clip == nil {
			return fmt.Errorf("session: no practice clip %d", clipNumber)
		}
		clip.ApplyResult(res)
	default:
		return fmt.Errorf("session: role %q has no slot", role)
	}
	m.sess.UpdatedAt = now

	if view, ok := m.sess.ActiveView(); ok {
		m.feedback.SetAll(view.Feedback)
	}
	return nil
}

// ApplyFixResult folds a terminal fix-evaluation into exactly one feedback
// item: status per the verdict, explanation, attempt counter, and the clip
// that was judged. The original slot's copy is mirrored so persistence and
// the addressed count see the same state. Returns whether the item is now
// fixed.
func (m *Model) ApplyFixResult(tag uint64, index int, res *domain.FixResult, clipURL, clipBlob string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tag != m.gen {
		m.log.Debug().Uint64("tag", tag).Uint64("generation", m.gen).Msg("discarding stale fix result")
		return false, ErrStaleGeneration
	}

	status := domain.FixUnfixed
	if res.IsFixed {
		status = domain.FixFixed
	}
	if !m.feedback.UpdateStatus(index, status, res.Explanation) {
		return false, nil
	}
	m.feedback.SetFixClip(index, clipURL, clipBlob)

	if item, ok := m.feedback.Item(index); ok {
		if m.sess.Original != nil && index < len(m.sess.Original.Feedback) {
			m.sess.Original.Feedback[index] = item
		}
	}
	m.sess.UpdatedAt = time.Now().UTC()
	return res.IsFixed, nil
}

// MarkItemStatus applies a user-initiated status change (skip, mark fixed
// anyway, try again) outside the fix-evaluation flow.
func (m *Model) MarkItemStatus(index int, status domain.FixStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.feedback.UpdateStatus(index, status, "") {
		return false
	}
	if item, ok := m.feedback.Item(index); ok {
		if m.sess.Original != nil && index < len(m.sess.Original.Feedback) {
			m.sess.Original.Feedback[index] = item
		}
	}
	m.sess.UpdatedAt = time.Now().UTC()
	return true
}

func (m *Model) clipByNumber(n int) *domain.PracticeClip {
	for i := range m.sess.PracticeClips {
		if m.sess.PracticeClips[i].ClipNumber == n {
			return &m.sess.PracticeClips[i]
		}
	}
	return nil
}
