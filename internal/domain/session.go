package domain

import (
	"fmt"
	"slices"
	"time"
)

// Session is the unit of persisted coaching state: one original take, the
// practice clips recorded against its feedback, and eventually a final take
// compared with the original. A session never mixes slots from two
// identifiers; locally it is superseded, never deleted.
type Session struct {
	ID            string         `json:"session_id"`
	CreatedAt     time.Time      `json:"created_at,omitzero"`
	UpdatedAt     time.Time      `json:"updated_at,omitzero"`
	Original      *VideoSlot     `json:"original,omitempty"`
	PracticeClips []PracticeClip `json:"practice_clips,omitempty"`
	Final         *VideoSlot     `json:"final,omitempty"`
}

// SessionSummary is the listing projection of a session.
type SessionSummary struct {
	SessionID         string    `json:"session_id"`
	CreatedAt         time.Time `json:"created_at,omitzero"`
	UpdatedAt         time.Time `json:"updated_at,omitzero"`
	HasOriginal       bool      `json:"has_original"`
	HasFinal          bool      `json:"has_final"`
	PracticeClipCount int       `json:"practice_clip_count"`
	OriginalScore     *int      `json:"original_score,omitempty"`
	FinalScore        *int      `json:"final_score,omitempty"`
	Improvement       *int      `json:"improvement,omitempty"`
}

// ContextFeedback is one feedback row in the coach context snapshot,
// indexed the way tool calls address items.
type ContextFeedback struct {
	Index       int       `json:"index"`
	Title       string    `json:"title"`
	Category    Category  `json:"category"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description,omitempty"`
	Action      string    `json:"action,omitempty"`
	Status      FixStatus `json:"status"`
}

// ContextClip summarizes one practice clip for the coach.
type ContextClip struct {
	ClipNumber int    `json:"clip_number"`
	FocusHint  string `json:"focus_hint,omitempty"`
	Section    string `json:"section,omitempty"`
}

// SessionContext is the coach-facing snapshot of a session: enough for the
// agent to talk about progress without carrying the full document.
type SessionContext struct {
	SessionID         string            `json:"session_id"`
	HasOriginal       bool              `json:"has_original"`
	HasFinal          bool              `json:"has_final"`
	PracticeClipCount int               `json:"practice_clip_count"`
	OriginalScore     *int              `json:"original_score,omitempty"`
	OriginalSummary   string            `json:"original_summary,omitempty"`
	OriginalFeedback  []ContextFeedback `json:"original_feedback,omitempty"`
	OriginalStrengths []string          `json:"original_strengths,omitempty"`
	FeedbackAddressed int               `json:"feedback_addressed,omitempty"`
	FeedbackTotal     int               `json:"feedback_total,omitempty"`
	PracticeClips     []ContextClip     `json:"practice_clips,omitempty"`
	FinalScore        *int              `json:"final_score,omitempty"`
	Improvement       *int              `json:"improvement,omitempty"`
}

// AnalysisView is a read-only projection of the slot whose result should
// drive the display.
type AnalysisView struct {
	Role       VideoRole      `json:"role"`
	ClipNumber int            `json:"clip_number,omitempty"`
	Score      *int           `json:"score,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Feedback   []FeedbackItem `json:"feedback,omitempty"`
	Strengths  []string       `json:"strengths,omitempty"`
}

// Slot returns the original or final slot for a role, nil when absent.
// Practice clips are managed separately.
func (s *Session) Slot(role VideoRole) *VideoSlot {
	switch role {
	case RoleOriginal:
		return s.Original
	case RoleFinal:
		return s.Final
	}
	return nil
}

// EnsureSlot returns the slot for a role, allocating it when absent.
// Returns nil for the practice role.
func (s *Session) EnsureSlot(role VideoRole) *VideoSlot {
	switch role {
	case RoleOriginal:
		if s.Original == nil {
			s.Original = &VideoSlot{}
		}
		return s.Original
	case RoleFinal:
		if s.Final == nil {
			s.Final = &VideoSlot{}
		}
		return s.Final
	}
	return nil
}

// AddPracticeClip appends a clip with the next ordinal number and returns
// a pointer to it, valid until the next append.
func (s *Session) AddPracticeClip(url, blobName string, at time.Time) *PracticeClip {
	s.PracticeClips = append(s.PracticeClips, PracticeClip{
		ClipNumber: len(s.PracticeClips) + 1,
		URL:        url,
		BlobName:   blobName,
		CreatedAt:  at,
	})
	return &s.PracticeClips[len(s.PracticeClips)-1]
}

// LatestPracticeClip returns the most recent clip, nil when none exist.
func (s *Session) LatestPracticeClip() *PracticeClip {
	if len(s.PracticeClips) == 0 {
		return nil
	}
	return &s.PracticeClips[len(s.PracticeClips)-1]
}

// Improvement returns the final minus original score delta, nil until both
// slots are scored.
func (s *Session) Improvement() *int {
	if !s.Original.HasResult() || !s.Final.HasResult() {
		return nil
	}
	delta := *s.Final.Score - *s.Original.Score
	return &delta
}

// FeedbackTotal counts the original take's feedback items.
func (s *Session) FeedbackTotal() int {
	if s.Original == nil {
		return 0
	}
	return len(s.Original.Feedback)
}

// FeedbackAddressed counts the original take's items marked fixed.
func (s *Session) FeedbackAddressed() int {
	if s.Original == nil {
		return 0
	}
	return AddressedCount(s.Original.Feedback)
}

// ActiveView derives which result drives the display: the final take once
// scored, else the original, else the newest practice clip with a result.
// The view is a copy; mutating it never touches the session.
func (s *Session) ActiveView() (AnalysisView, bool) {
	if s.Final.HasResult() {
		return slotView(RoleFinal, s.Final), true
	}
	if s.Original.HasResult() {
		return slotView(RoleOriginal, s.Original), true
	}
	for i := len(s.PracticeClips) - 1; i >= 0; i-- {
		clip := &s.PracticeClips[i]
		if clip.HasResult() {
			score := *clip.Score
			return AnalysisView{
				Role:       RolePractice,
				ClipNumber: clip.ClipNumber,
				Score:      &score,
				Summary:    clip.Summary,
				Feedback:   slices.Clone(clip.Feedback),
				Strengths:  slices.Clone(clip.Strengths),
			}, true
		}
	}
	return AnalysisView{}, false
}

func slotView(role VideoRole, slot *VideoSlot) AnalysisView {
	score := *slot.Score
	return AnalysisView{
		Role:      role,
		Score:     &score,
		Summary:   slot.Summary,
		Feedback:  slices.Clone(slot.Feedback),
		Strengths: slices.Clone(slot.Strengths),
	}
}

// Context builds the coach snapshot.
func (s *Session) Context() SessionContext {
	ctx := SessionContext{
		SessionID:         s.ID,
		HasOriginal:       s.Original.HasVideo(),
		HasFinal:          s.Final.HasVideo(),
		PracticeClipCount: len(s.PracticeClips),
	}
	if s.Original != nil {
		if s.Original.Score != nil {
			score := *s.Original.Score
			ctx.OriginalScore = &score
		}
		ctx.OriginalSummary = s.Original.Summary
		for i, item := range s.Original.Feedback {
			status := item.FixStatus
			if status == "" {
				status = FixUnfixed
			}
			ctx.OriginalFeedback = append(ctx.OriginalFeedback, ContextFeedback{
				Index:       i,
				Title:       item.Title,
				Category:    item.Category,
				Severity:    item.Severity,
				Description: item.Description,
				Action:      item.Action,
				Status:      status,
			})
		}
		ctx.OriginalStrengths = slices.Clone(s.Original.Strengths)
		ctx.FeedbackAddressed = s.FeedbackAddressed()
		ctx.FeedbackTotal = s.FeedbackTotal()
	}
	for _, clip := range s.PracticeClips {
		cc := ContextClip{ClipNumber: clip.ClipNumber, FocusHint: clip.FocusHint}
		if clip.SectionStart != nil && clip.SectionEnd != nil {
			cc.Section = fmt.Sprintf("%g-%g", *clip.SectionStart, *clip.SectionEnd)
		}
		ctx.PracticeClips = append(ctx.PracticeClips, cc)
	}
	if s.Final.HasResult() {
		score := *s.Final.Score
		ctx.FinalScore = &score
		ctx.Improvement = s.Improvement()
	}
	return ctx
}

// Summary builds the listing projection.
func (s *Session) Summary() SessionSummary {
	sum := SessionSummary{
		SessionID:         s.ID,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
		HasOriginal:       s.Original.HasVideo(),
		HasFinal:          s.Final.HasVideo(),
		PracticeClipCount: len(s.PracticeClips),
	}
	if s.Original.HasResult() {
		score := *s.Original.Score
		sum.OriginalScore = &score
	}
	if s.Final.HasResult() {
		score := *s.Final.Score
		sum.FinalScore = &score
	}
	sum.Improvement = s.Improvement()
	return sum
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := &Session{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if s.Original != nil {
		slot := s.Original.Clone()
		c.Original = &slot
	}
	if s.Final != nil {
		slot := s.Final.Clone()
		c.Final = &slot
	}
	if len(s.PracticeClips) > 0 {
		c.PracticeClips = make([]PracticeClip, len(s.PracticeClips))
		for i, clip := range s.PracticeClips {
			c.PracticeClips[i] = clip.Clone()
		}
	}
	return c
}
