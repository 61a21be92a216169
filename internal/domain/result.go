package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// AnalysisResult is the terminal payload of a streaming analysis request.
// It arrives as one JSON document inside the complete event, never
// reassembled from partial chunks.
type AnalysisResult struct {
	OverallScore      int            `json:"overall_score"`
	Summary           string         `json:"summary"`
	FeedbackItems     []FeedbackItem `json:"feedback_items"`
	Strengths         []string       `json:"strengths,omitempty"`
	ThoughtSignature  string         `json:"thought_signature,omitempty"`
	SongName          string         `json:"song_name,omitempty"`
	SongArtist        string         `json:"song_artist,omitempty"`
	ComparisonSummary string         `json:"comparison_summary,omitempty"`
	IGPostable        *bool          `json:"ig_postable,omitempty"`
	IGVerdict         string         `json:"ig_verdict,omitempty"`
}

// FixResult is the terminal payload of a fix-evaluation request.
type FixResult struct {
	IsFixed     bool   `json:"is_fixed"`
	Explanation string `json:"explanation"`
	Tips        string `json:"tips,omitempty"`
}

// StripCodeFence removes a surrounding markdown code fence. The producer
// sometimes wraps its JSON in ```json ... ``` despite instructions.
func StripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimPrefix(t, "json")
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

// ParseAnalysisResult decodes a complete-event payload, tolerating a
// markdown code fence around the JSON document.
func ParseAnalysisResult(payload string) (*AnalysisResult, error) {
	var res AnalysisResult
	if err := json.Unmarshal([]byte(StripCodeFence(payload)), &res); err != nil {
		return nil, fmt.Errorf("analysis payload: %w", err)
	}
	for i := range res.FeedbackItems {
		if res.FeedbackItems[i].FixStatus == "" {
			res.FeedbackItems[i].FixStatus = FixUnfixed
		}
	}
	return &res, nil
}

// ParseFixResult decodes a fix-evaluation complete-event payload.
func ParseFixResult(payload string) (*FixResult, error) {
	var res FixResult
	if err := json.Unmarshal([]byte(StripCodeFence(payload)), &res); err != nil {
		return nil, fmt.Errorf("fix payload: %w", err)
	}
	return &res, nil
}

// ApplyResult folds an analysis result into the slot: score, summary,
// feedback (replacing any prior list), strengths, and continuation token.
func (v *VideoSlot) ApplyResult(res *AnalysisResult, at time.Time) {
	score := res.OverallScore
	v.Score = &score
	v.Summary = res.Summary
	v.Feedback = slices.Clone(res.FeedbackItems)
	v.Strengths = slices.Clone(res.Strengths)
	v.ThoughtSignature = res.ThoughtSignature
	v.AnalyzedAt = at
	if res.SongName != "" {
		v.SongName = res.SongName
	}
	if res.SongArtist != "" {
		v.SongArtist = res.SongArtist
	}
	if res.ComparisonSummary != "" {
		v.ComparisonSummary = res.ComparisonSummary
	}
	if res.IGPostable != nil {
		postable := *res.IGPostable
		v.IGPostable = &postable
	}
	if res.IGVerdict != "" {
		v.IGVerdict = res.IGVerdict
	}
}

// ApplyResult folds an analysis result into a practice clip.
func (c *PracticeClip) ApplyResult(res *AnalysisResult) {
	score := res.OverallScore
	c.Score = &score
	c.Summary = res.Summary
	c.Feedback = slices.Clone(res.FeedbackItems)
	c.Strengths = slices.Clone(res.Strengths)
	c.ThoughtSignature = res.ThoughtSignature
}
