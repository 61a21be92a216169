package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/logging"
)

func intPtr(v int) *int { return &v }

func analysisResult(score int, titles ...string) *domain.AnalysisResult {
	res := &domain.AnalysisResult{OverallScore: score, Summary: "summary"}
	for _, title := range titles {
		res.FeedbackItems = append(res.FeedbackItems, domain.FeedbackItem{
			Title:     title,
			Severity:  domain.SeverityImprovement,
			FixStatus: domain.FixUnfixed,
		})
	}
	return res
}

func TestNewModel_Empty(t *testing.T) {
	m := NewModel(logging.Nop())

	assert.Empty(t, m.SessionID())
	assert.Equal(t, uint64(1), m.Generation())
	assert.False(t, m.HasResult())
	assert.Zero(t, m.Feedback().Len())
}

func TestStartSession_BumpsGeneration(t *testing.T) {
	m := NewModel(nil)
	gen := m.Generation()

	m.StartSession("sess-1")

	assert.Equal(t, "sess-1", m.SessionID())
	assert.Equal(t, gen+1, m.Generation())
}

func TestSetSessionID(t *testing.T) {
	m := NewModel(nil)
	gen := m.Generation()

	m.SetSessionID("sess-9")

	// Assigning the persisted id is not a session switch.
	assert.Equal(t, "sess-9", m.SessionID())
	assert.Equal(t, gen, m.Generation())
}

func TestAttachVideo(t *testing.T) {
	m := NewModel(nil)

	require.NoError(t, m.AttachVideo(domain.RoleOriginal, "http://x/take.mp4", "uploads/take.mp4"))

	snap := m.Snapshot()
	require.NotNil(t, snap.Original)
	assert.Equal(t, "uploads/take.mp4", snap.Original.BlobName)
	assert.False(t, m.HasResult())

	assert.Error(t, m.AttachVideo(domain.RolePractice, "u", "b"))
	assert.Error(t, m.AttachVideo(domain.VideoRole("bogus"), "u", "b"))
}

func TestApplyAnalysis_PopulatesSlotAndFeedback(t *testing.T) {
	m := NewModel(nil)
	require.NoError(t, m.AttachVideo(domain.RoleOriginal, "http://x/take.mp4", "uploads/take.mp4"))

	err := m.ApplyAnalysis(m.Generation(), domain.RoleOriginal, 0, analysisResult(74, "Pitch", "Timing"))
	require.NoError(t, err)

	snap := m.Snapshot()
	require.True(t, snap.Original.HasResult())
	assert.Equal(t, 74, *snap.Original.Score)

	assert.True(t, m.HasResult())
	assert.Equal(t, 2, m.Feedback().Len())

	view, ok := m.ActiveView()
	require.True(t, ok)
	assert.Equal(t, domain.RoleOriginal, view.Role)
}

func TestApplyAnalysis_StaleGenerationRejected(t *testing.T) {
	m := NewModel(nil)
	require.NoError(t, m.AttachVideo(domain.RoleOriginal, "", "uploads/s1.mp4"))
	tag := m.Generation()

	// The user switches sessions while the request is in flight.
	m.StartSession("sess-2")

	err := m.ApplyAnalysis(tag, domain.RoleOriginal, 0, analysisResult(99, "Pitch"))
	assert.ErrorIs(t, err, ErrStaleGeneration)

	// Nothing leaked into the new session.
	snap := m.Snapshot()
	assert.Nil(t, snap.Original)
	assert.False(t, m.HasResult())
	assert.Zero(t, m.Feedback().Len())
}

func TestApplyAnalysis_PracticeClip(t *testing.T) {
	m := NewModel(nil)
	n := m.AddPracticeClip("http://x/c1.mp4", "uploads/c1.mp4", "focus on the bridge")
	assert.Equal(t, 1, n)

	err := m.ApplyAnalysis(m.Generation(), domain.RolePractice, n, analysisResult(61, "Strum noise"))
	require.NoError(t, err)

	snap := m.Snapshot()
	require.Len(t, snap.PracticeClips, 1)
	assert.Equal(t, 61, *snap.PracticeClips[0].Score)
	assert.Equal(t, "focus on the bridge", snap.PracticeClips[0].FocusHint)

	// With no scored original, the clip's result drives the view.
	view, ok := m.ActiveView()
	require.True(t, ok)
	assert.Equal(t, domain.RolePractice, view.Role)
	assert.Equal(t, 1, m.Feedback().Len())
}

func TestApplyAnalysis_UnknownClipRejected(t *testing.T) {
	m := NewModel(nil)

	err := m.ApplyAnalysis(m.Generation(), domain.RolePractice, 3, analysisResult(50))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrStaleGeneration)
}

func TestApplyAnalysis_FinalKeepsOriginalFeedbackOutOfView(t *testing.T) {
	m := NewModel(nil)
	require.NoError(t, m.AttachVideo(domain.RoleOriginal, "", "uploads/orig.mp4"))
	require.NoError(t, m.ApplyAnalysis(m.Generation(), domain.RoleOriginal, 0, analysisResult(60, "Pitch", "Timing")))

	require.NoError(t, m.AttachVideo(domain.RoleFinal, "", "uploads/final.mp4"))
	require.NoError(t, m.ApplyAnalysis(m.Generation(), domain.RoleFinal, 0, analysisResult(80, "Minor polish")))

	view, ok := m.ActiveView()
	require.True(t, ok)
	assert.Equal(t, domain.RoleFinal, view.Role)
	assert.Equal(t, 1, m.Feedback().Len())
}

func TestApplyFixResult_TransitionsExactlyOneItem(t *testing.T) {
	m := NewModel(nil)
	require.NoError(t, m.AttachVideo(domain.RoleOriginal, "", "uploads/orig.mp4"))
	require.NoError(t, m.ApplyAnalysis(m.Generation(), domain.RoleOriginal, 0, analysisResult(60, "A", "B")))
	require.Zero(t, m.Feedback().AddressedCount())

	fixed, err := m.ApplyFixResult(m.Generation(), 0,
		&domain.FixResult{IsFixed: true, Explanation: "clean now"},
		"http://x/fix.mp4", "uploads/fix.mp4")
	require.NoError(t, err)
	assert.True(t, fixed)

	itemA, _ := m.Feedback().Item(0)
	assert.Equal(t, domain.FixFixed, itemA.FixStatus)
	assert.Equal(t, "clean now", itemA.FixExplanation)
	assert.Equal(t, "uploads/fix.mp4", itemA.FixClipBlob)
	assert.Equal(t, 1, itemA.FixAttempts)

	itemB, _ := m.Feedback().Item(1)
	assert.Equal(t, domain.FixUnfixed, itemB.FixStatus)
	assert.Zero(t, itemB.FixAttempts)

	assert.Equal(t, 1, m.Feedback().AddressedCount())

	// The original slot's copy mirrors the list.
	snap := m.Snapshot()
	assert.Equal(t, domain.FixFixed, snap.Original.Feedback[0].FixStatus)
	assert.Equal(t, 1, snap.FeedbackAddressed())
}

func TestApplyFixResult_FailedVerdictLeavesUnfixed(t *testing.T) {
	m := NewModel(nil)
	require.NoError(t, m.AttachVideo(domain.RoleOriginal, "", "uploads/orig.mp4"))
	require.NoError(t, m.ApplyAnalysis(m.Generation(), domain.RoleOriginal, 0, analysisResult(60, "A")))

	fixed, err := m.ApplyFixResult(m.Generation(), 0,
		&domain.FixResult{IsFixed: false, Explanation: "still drifting"}, "", "")
	require.NoError(t, err)
	assert.False(t, fixed)

	item, _ := m.Feedback().Item(0)
	assert.Equal(t, domain.FixUnfixed, item.FixStatus)
	assert.Equal(t, "still drifting", item.FixExplanation)
	assert.Equal(t, 1, item.FixAttempts)
	assert.Zero(t, m.Feedback().AddressedCount())
}

func TestApplyFixResult_StaleGenerationRejected(t *testing.T) {
	m := NewModel(nil)
	require.NoError(t, m.AttachVideo(domain.RoleOriginal, "", "uploads/orig.mp4"))
	require.NoError(t, m.ApplyAnalysis(m.Generation(), domain.RoleOriginal, 0, analysisResult(60, "A")))
	tag := m.Generation()

	m.StartSession("sess-2")

	_, err := m.ApplyFixResult(tag, 0, &domain.FixResult{IsFixed: true}, "", "")
	assert.ErrorIs(t, err, ErrStaleGeneration)
}

func TestApplyFixResult_OutOfBoundsIsNoop(t *testing.T) {
	m := NewModel(nil)
	require.NoError(t, m.AttachVideo(domain.RoleOriginal, "", "uploads/orig.mp4"))
	require.NoError(t, m.ApplyAnalysis(m.Generation(), domain.RoleOriginal, 0, analysisResult(60, "A")))

	fixed, err := m.ApplyFixResult(m.Generation(), 9, &domain.FixResult{IsFixed: true}, "", "")
	require.NoError(t, err)
	assert.False(t, fixed)
	assert.Zero(t, m.Feedback().AddressedCount())
}

func TestMarkItemStatus(t *testing.T) {
	m := NewModel(nil)
	require.NoError(t, m.AttachVideo(domain.RoleOriginal, "", "uploads/orig.mp4"))
	require.NoError(t, m.ApplyAnalysis(m.Generation(), domain.RoleOriginal, 0, analysisResult(60, "A")))

	// Skip, then reopen for another try.
	assert.True(t, m.MarkItemStatus(0, domain.FixSkipped))
	item, _ := m.Feedback().Item(0)
	assert.Equal(t, domain.FixSkipped, item.FixStatus)

	assert.True(t, m.MarkItemStatus(0, domain.FixUnfixed))
	item, _ = m.Feedback().Item(0)
	assert.Equal(t, domain.FixUnfixed, item.FixStatus)
	assert.Equal(t, 2, item.FixAttempts)

	assert.False(t, m.MarkItemStatus(42, domain.FixSkipped))
}

func TestHydrate_PriorityAndFeedbackSync(t *testing.T) {
	m := NewModel(nil)
	gen := m.Generation()

	persisted := &domain.Session{
		ID:       "sess-7",
		Original: &domain.VideoSlot{BlobName: "uploads/orig.mp4", Score: intPtr(64), Feedback: twoItems()},
	}
	persisted.AddPracticeClip("", "uploads/c1.mp4", persisted.CreatedAt)
	persisted.PracticeClips[0].Score = intPtr(90)
	persisted.PracticeClips[0].Feedback = []domain.FeedbackItem{{Title: "clip item"}}

	m.Hydrate(persisted)

	assert.Equal(t, "sess-7", m.SessionID())
	assert.Equal(t, gen+1, m.Generation())

	// Original beats a later practice result when no final score exists.
	view, ok := m.ActiveView()
	require.True(t, ok)
	assert.Equal(t, domain.RoleOriginal, view.Role)
	assert.Equal(t, 2, m.Feedback().Len())
}

func TestHydrate_IsolatedFromCallerMutation(t *testing.T) {
	m := NewModel(nil)
	persisted := &domain.Session{
		ID:       "sess-8",
		Original: &domain.VideoSlot{Score: intPtr(50), Feedback: twoItems()},
	}

	m.Hydrate(persisted)
	persisted.Original.Feedback[0].Title = "mutated outside"

	item, _ := m.Feedback().Item(0)
	assert.Equal(t, "Pitch drifts flat", item.Title)
}
