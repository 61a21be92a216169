package domain

import (
	"slices"
	"time"
)

// VideoRole names which slot of a session a video occupies.
type VideoRole string

const (
	RoleOriginal VideoRole = "original"
	RolePractice VideoRole = "practice"
	RoleFinal    VideoRole = "final"
)

// Valid reports whether the role is one of the known slot names.
func (r VideoRole) Valid() bool {
	return r == RoleOriginal || r == RolePractice || r == RoleFinal
}

// VideoSlot holds an original or final take and its analysis result.
// Score and feedback are populated only when a streaming analysis completes;
// afterwards only feedback-item status changes mutate the slot.
type VideoSlot struct {
	URL              string         `json:"url,omitempty"`
	BlobName         string         `json:"blob_name,omitempty"`
	Score            *int           `json:"score,omitempty"`
	Summary          string         `json:"summary,omitempty"`
	SongName         string         `json:"song_name,omitempty"`
	SongArtist       string         `json:"song_artist,omitempty"`
	Feedback         []FeedbackItem `json:"feedback,omitempty"`
	Strengths        []string       `json:"strengths,omitempty"`
	ThoughtSignature string         `json:"thought_signature,omitempty"`
	AnalyzedAt       time.Time      `json:"analyzed_at,omitzero"`

	// Final slot only, set by the comparison analysis.
	ComparisonSummary string `json:"comparison_summary,omitempty"`
	IGPostable        *bool  `json:"ig_postable,omitempty"`
	IGVerdict         string `json:"ig_verdict,omitempty"`
}

// HasVideo reports whether a take has been attached to the slot.
func (v *VideoSlot) HasVideo() bool {
	return v != nil && (v.URL != "" || v.BlobName != "")
}

// HasResult reports whether an analysis has scored the slot.
func (v *VideoSlot) HasResult() bool {
	return v != nil && v.Score != nil
}

// Clone returns a deep copy of the slot.
func (v VideoSlot) Clone() VideoSlot {
	c := v
	c.Feedback = slices.Clone(v.Feedback)
	c.Strengths = slices.Clone(v.Strengths)
	if v.Score != nil {
		score := *v.Score
		c.Score = &score
	}
	if v.IGPostable != nil {
		postable := *v.IGPostable
		c.IGPostable = &postable
	}
	return c
}

// PracticeClip is one short recorded fix attempt. Clips are append-only
// within a session and keep their ordinal position.
type PracticeClip struct {
	ClipNumber       int            `json:"clip_number"`
	URL              string         `json:"url,omitempty"`
	BlobName         string         `json:"blob_name,omitempty"`
	SectionStart     *float64       `json:"section_start,omitempty"`
	SectionEnd       *float64       `json:"section_end,omitempty"`
	FocusHint        string         `json:"focus_hint,omitempty"`
	Score            *int           `json:"score,omitempty"`
	Summary          string         `json:"summary,omitempty"`
	Feedback         []FeedbackItem `json:"feedback,omitempty"`
	Strengths        []string       `json:"strengths,omitempty"`
	ThoughtSignature string         `json:"thought_signature,omitempty"`
	CreatedAt        time.Time      `json:"created_at,omitzero"`
}

// HasResult reports whether an analysis has scored the clip.
func (c *PracticeClip) HasResult() bool {
	return c != nil && c.Score != nil
}

// Clone returns a deep copy of the clip.
func (c PracticeClip) Clone() PracticeClip {
	out := c
	out.Feedback = slices.Clone(c.Feedback)
	out.Strengths = slices.Clone(c.Strengths)
	if c.Score != nil {
		score := *c.Score
		out.Score = &score
	}
	if c.SectionStart != nil {
		start := *c.SectionStart
		out.SectionStart = &start
	}
	if c.SectionEnd != nil {
		end := *c.SectionEnd
		out.SectionEnd = &end
	}
	return out
}
