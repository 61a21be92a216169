package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

// --- Severity tests ---

func TestSeverityPriority(t *testing.T) {
	assert.Equal(t, 0, SeverityCritical.Priority())
	assert.Equal(t, 1, SeverityImprovement.Priority())
	assert.Equal(t, 2, SeverityMinor.Priority())
	assert.Equal(t, 3, Severity("novel").Priority())

	assert.Less(t, SeverityCritical.Priority(), SeverityImprovement.Priority())
	assert.Less(t, SeverityImprovement.Priority(), SeverityMinor.Priority())
}

// --- FeedbackItem tests ---

func TestAddressedCount(t *testing.T) {
	items := []FeedbackItem{
		{Title: "pitch", FixStatus: FixFixed},
		{Title: "timing", FixStatus: FixUnfixed},
		{Title: "strum", FixStatus: FixSkipped},
		{Title: "breath", FixStatus: FixFixed},
	}

	assert.Equal(t, 2, AddressedCount(items))
	assert.Equal(t, 0, AddressedCount(nil))
}

func TestFeedbackItemJSON_UnknownCategorySurvives(t *testing.T) {
	item := FeedbackItem{
		TimestampSeconds: 12.5,
		Category:         Category("stagecraft"),
		Severity:         SeverityMinor,
		Title:            "eye contact",
		Description:      "look up from the fretboard",
	}

	data, err := json.Marshal(item)
	require.NoError(t, err)

	var decoded FeedbackItem
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, Category("stagecraft"), decoded.Category)
}

// --- VideoRole tests ---

func TestVideoRoleValid(t *testing.T) {
	assert.True(t, RoleOriginal.Valid())
	assert.True(t, RolePractice.Valid())
	assert.True(t, RoleFinal.Valid())
	assert.False(t, VideoRole("teaser").Valid())
	assert.False(t, VideoRole("").Valid())
}

// --- VideoSlot tests ---

func TestVideoSlotPredicates(t *testing.T) {
	var nilSlot *VideoSlot
	assert.False(t, nilSlot.HasVideo())
	assert.False(t, nilSlot.HasResult())

	slot := &VideoSlot{BlobName: "uploads/take.mp4"}
	assert.True(t, slot.HasVideo())
	assert.False(t, slot.HasResult())

	slot.Score = intPtr(72)
	assert.True(t, slot.HasResult())
}

func TestVideoSlotClone_IsDeep(t *testing.T) {
	slot := VideoSlot{
		URL:      "http://x/take.mp4",
		Score:    intPtr(80),
		Feedback: []FeedbackItem{{Title: "pitch"}},
	}

	clone := slot.Clone()
	clone.Feedback[0].Title = "changed"
	*clone.Score = 10

	assert.Equal(t, "pitch", slot.Feedback[0].Title)
	assert.Equal(t, 80, *slot.Score)
}

// --- Parsing tests ---

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare json", in: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "fenced no lang", in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "single line fence", in: "```json {\"a\":1} ```", want: `{"a":1}`},
		{name: "surrounding whitespace", in: "  \n{\"a\":1}\n  ", want: `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFence(tt.in))
		})
	}
}

func TestParseAnalysisResult(t *testing.T) {
	payload := `{
		"overall_score": 78,
		"summary": "Solid take with timing drift in the bridge.",
		"feedback_items": [
			{"timestamp_seconds": 42.5, "category": "timing", "severity": "critical", "title": "Bridge rushes", "description": "You speed up entering the bridge.", "action": "Practice with a metronome at 90 BPM."}
		],
		"strengths": ["Clean chord changes"],
		"thought_signature": "gts_a1b2c3d4e5f60718",
		"song_name": "Blackbird",
		"song_artist": "The Beatles"
	}`

	res, err := ParseAnalysisResult(payload)
	require.NoError(t, err)

	assert.Equal(t, 78, res.OverallScore)
	assert.Len(t, res.FeedbackItems, 1)
	assert.Equal(t, CategoryTiming, res.FeedbackItems[0].Category)
	assert.Equal(t, SeverityCritical, res.FeedbackItems[0].Severity)
	assert.Equal(t, FixUnfixed, res.FeedbackItems[0].FixStatus)
	assert.Equal(t, "gts_a1b2c3d4e5f60718", res.ThoughtSignature)
	assert.Equal(t, "Blackbird", res.SongName)
}

func TestParseAnalysisResult_Fenced(t *testing.T) {
	payload := "```json\n{\"overall_score\": 65, \"summary\": \"ok\", \"feedback_items\": []}\n```"

	res, err := ParseAnalysisResult(payload)
	require.NoError(t, err)
	assert.Equal(t, 65, res.OverallScore)
}

func TestParseAnalysisResult_Invalid(t *testing.T) {
	_, err := ParseAnalysisResult("here is your analysis: great job!")
	assert.Error(t, err)

	_, err = ParseAnalysisResult(`{"overall_score": `)
	assert.Error(t, err)
}

func TestParseFixResult(t *testing.T) {
	res, err := ParseFixResult(`{"is_fixed": true, "explanation": "Much cleaner transition.", "tips": "Keep the wrist loose."}`)
	require.NoError(t, err)

	assert.True(t, res.IsFixed)
	assert.Equal(t, "Much cleaner transition.", res.Explanation)
	assert.Equal(t, "Keep the wrist loose.", res.Tips)
}

func TestParseFixResult_Invalid(t *testing.T) {
	_, err := ParseFixResult("not even close")
	assert.Error(t, err)
}

// --- ApplyResult tests ---

func TestVideoSlotApplyResult(t *testing.T) {
	slot := VideoSlot{
		URL:      "http://x/take.mp4",
		Feedback: []FeedbackItem{{Title: "stale"}},
	}
	postable := true
	res := &AnalysisResult{
		OverallScore:      88,
		Summary:           "Strong final take.",
		FeedbackItems:     []FeedbackItem{{Title: "fresh", FixStatus: FixUnfixed}},
		Strengths:         []string{"Dynamics"},
		ThoughtSignature:  "ts_0011223344556677",
		ComparisonSummary: "Timing improved markedly.",
		IGPostable:        &postable,
		IGVerdict:         "Post it.",
	}

	at := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	slot.ApplyResult(res, at)

	assert.Equal(t, 88, *slot.Score)
	assert.Equal(t, "Strong final take.", slot.Summary)
	require.Len(t, slot.Feedback, 1)
	assert.Equal(t, "fresh", slot.Feedback[0].Title)
	assert.Equal(t, []string{"Dynamics"}, slot.Strengths)
	assert.Equal(t, "ts_0011223344556677", slot.ThoughtSignature)
	assert.Equal(t, "Timing improved markedly.", slot.ComparisonSummary)
	assert.True(t, *slot.IGPostable)
	assert.Equal(t, at, slot.AnalyzedAt)
	// Video reference is untouched by result application.
	assert.Equal(t, "http://x/take.mp4", slot.URL)
}

func TestPracticeClipApplyResult(t *testing.T) {
	clip := PracticeClip{ClipNumber: 2, BlobName: "uploads/clip2.mp4"}
	res := &AnalysisResult{OverallScore: 70, Summary: "Better.", FeedbackItems: []FeedbackItem{}}

	clip.ApplyResult(res)

	assert.Equal(t, 70, *clip.Score)
	assert.Equal(t, "Better.", clip.Summary)
	assert.Equal(t, "uploads/clip2.mp4", clip.BlobName)
}

// --- Session tests ---

func TestSessionSlots(t *testing.T) {
	s := &Session{}
	assert.Nil(t, s.Slot(RoleOriginal))
	assert.Nil(t, s.Slot(RolePractice))

	orig := s.EnsureSlot(RoleOriginal)
	require.NotNil(t, orig)
	assert.Same(t, orig, s.Original)
	assert.Same(t, orig, s.EnsureSlot(RoleOriginal))
	assert.Same(t, orig, s.Slot(RoleOriginal))

	assert.Nil(t, s.EnsureSlot(RolePractice))
}

func TestAddPracticeClip_Ordinals(t *testing.T) {
	s := &Session{}
	now := time.Now().UTC()

	first := s.AddPracticeClip("http://x/1.mp4", "uploads/1.mp4", now)
	assert.Equal(t, 1, first.ClipNumber)

	second := s.AddPracticeClip("http://x/2.mp4", "uploads/2.mp4", now)
	assert.Equal(t, 2, second.ClipNumber)

	require.Len(t, s.PracticeClips, 2)
	assert.Equal(t, "uploads/2.mp4", s.LatestPracticeClip().BlobName)
}

func TestImprovement(t *testing.T) {
	s := &Session{}
	assert.Nil(t, s.Improvement())

	s.Original = &VideoSlot{Score: intPtr(60)}
	assert.Nil(t, s.Improvement())

	s.Final = &VideoSlot{Score: intPtr(75)}
	require.NotNil(t, s.Improvement())
	assert.Equal(t, 15, *s.Improvement())
}

func TestFeedbackCounts(t *testing.T) {
	s := &Session{}
	assert.Equal(t, 0, s.FeedbackTotal())
	assert.Equal(t, 0, s.FeedbackAddressed())

	s.Original = &VideoSlot{Feedback: []FeedbackItem{
		{Title: "a", FixStatus: FixFixed},
		{Title: "b", FixStatus: FixUnfixed},
	}}

	assert.Equal(t, 2, s.FeedbackTotal())
	assert.Equal(t, 1, s.FeedbackAddressed())
}

func TestActiveView_Priority(t *testing.T) {
	now := time.Now().UTC()

	// Empty session has no view.
	s := &Session{}
	_, ok := s.ActiveView()
	assert.False(t, ok)

	// Practice result alone drives the view.
	s.AddPracticeClip("http://x/1.mp4", "uploads/1.mp4", now)
	s.PracticeClips[0].Score = intPtr(55)
	view, ok := s.ActiveView()
	require.True(t, ok)
	assert.Equal(t, RolePractice, view.Role)
	assert.Equal(t, 1, view.ClipNumber)

	// An original score beats any practice score, even a later one.
	s.Original = &VideoSlot{Score: intPtr(62), Summary: "original summary"}
	s.AddPracticeClip("http://x/2.mp4", "uploads/2.mp4", now)
	s.PracticeClips[1].Score = intPtr(90)
	view, ok = s.ActiveView()
	require.True(t, ok)
	assert.Equal(t, RoleOriginal, view.Role)
	assert.Equal(t, 62, *view.Score)

	// A scored final wins outright.
	s.Final = &VideoSlot{Score: intPtr(81)}
	view, ok = s.ActiveView()
	require.True(t, ok)
	assert.Equal(t, RoleFinal, view.Role)
	assert.Equal(t, 81, *view.Score)

	// An unscored final does not.
	s.Final.Score = nil
	view, _ = s.ActiveView()
	assert.Equal(t, RoleOriginal, view.Role)
}

func TestActiveView_NewestPracticeWithResult(t *testing.T) {
	now := time.Now().UTC()
	s := &Session{}
	s.AddPracticeClip("", "uploads/1.mp4", now)
	s.AddPracticeClip("", "uploads/2.mp4", now)
	s.AddPracticeClip("", "uploads/3.mp4", now)
	s.PracticeClips[0].Score = intPtr(50)
	s.PracticeClips[1].Score = intPtr(58)
	// Clip 3 has no result yet.

	view, ok := s.ActiveView()
	require.True(t, ok)
	assert.Equal(t, 2, view.ClipNumber)
	assert.Equal(t, 58, *view.Score)
}

func TestActiveView_ReturnsCopies(t *testing.T) {
	s := &Session{Original: &VideoSlot{
		Score:    intPtr(70),
		Feedback: []FeedbackItem{{Title: "pitch"}},
	}}

	view, ok := s.ActiveView()
	require.True(t, ok)

	view.Feedback[0].Title = "mutated"
	*view.Score = 0

	assert.Equal(t, "pitch", s.Original.Feedback[0].Title)
	assert.Equal(t, 70, *s.Original.Score)
}

func TestSessionSummary(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	s := &Session{
		ID:        "sess-1",
		CreatedAt: now,
		UpdatedAt: now,
		Original:  &VideoSlot{BlobName: "uploads/orig.mp4", Score: intPtr(60)},
		Final:     &VideoSlot{BlobName: "uploads/final.mp4", Score: intPtr(72)},
	}
	s.AddPracticeClip("", "uploads/c1.mp4", now)

	sum := s.Summary()

	assert.Equal(t, "sess-1", sum.SessionID)
	assert.True(t, sum.HasOriginal)
	assert.True(t, sum.HasFinal)
	assert.Equal(t, 1, sum.PracticeClipCount)
	assert.Equal(t, 60, *sum.OriginalScore)
	assert.Equal(t, 72, *sum.FinalScore)
	assert.Equal(t, 12, *sum.Improvement)
}

func TestSessionSummary_Sparse(t *testing.T) {
	s := &Session{ID: "sess-2"}
	sum := s.Summary()

	assert.False(t, sum.HasOriginal)
	assert.False(t, sum.HasFinal)
	assert.Nil(t, sum.OriginalScore)
	assert.Nil(t, sum.Improvement)
}

func TestSessionClone_IsDeep(t *testing.T) {
	now := time.Now().UTC()
	s := &Session{
		ID:       "sess-1",
		Original: &VideoSlot{Score: intPtr(60), Feedback: []FeedbackItem{{Title: "pitch"}}},
	}
	s.AddPracticeClip("", "uploads/1.mp4", now)

	c := s.Clone()
	c.Original.Feedback[0].Title = "changed"
	c.PracticeClips[0].BlobName = "changed"
	*c.Original.Score = 0

	assert.Equal(t, "pitch", s.Original.Feedback[0].Title)
	assert.Equal(t, "uploads/1.mp4", s.PracticeClips[0].BlobName)
	assert.Equal(t, 60, *s.Original.Score)
}

func TestSessionJSON_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	s := &Session{
		ID:        "sess-1",
		CreatedAt: now,
		UpdatedAt: now,
		Original: &VideoSlot{
			URL:      "http://x/orig.mp4",
			BlobName: "uploads/orig.mp4",
			Score:    intPtr(64),
			Feedback: []FeedbackItem{{Title: "pitch", Severity: SeverityCritical, FixStatus: FixUnfixed}},
		},
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded Session
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, s.ID, decoded.ID)
	require.NotNil(t, decoded.Original)
	assert.Equal(t, 64, *decoded.Original.Score)
	require.Len(t, decoded.Original.Feedback, 1)
	assert.Equal(t, FixUnfixed, decoded.Original.Feedback[0].FixStatus)
	assert.Nil(t, decoded.Final)
}
