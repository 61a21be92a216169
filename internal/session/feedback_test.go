package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fermata-app/fermata/internal/domain"
)

func twoItems() []domain.FeedbackItem {
	return []domain.FeedbackItem{
		{Title: "Pitch drifts flat", Severity: domain.SeverityCritical, FixStatus: domain.FixUnfixed},
		{Title: "Rushed bridge", Severity: domain.SeverityImprovement, FixStatus: domain.FixUnfixed},
	}
}

func TestSetAll_ReplacesAndClearsHighlight(t *testing.T) {
	l := NewFeedbackList()
	l.SetAll(twoItems())
	require.True(t, l.Highlight(1))

	l.SetAll([]domain.FeedbackItem{{Title: "only one"}})

	assert.Equal(t, 1, l.Len())
	_, ok := l.Highlighted()
	assert.False(t, ok)
}

func TestSetAll_CopiesInput(t *testing.T) {
	items := twoItems()
	l := NewFeedbackList()
	l.SetAll(items)

	items[0].Title = "mutated after SetAll"

	got, ok := l.Item(0)
	require.True(t, ok)
	assert.Equal(t, "Pitch drifts flat", got.Title)
}

func TestUpdateStatus(t *testing.T) {
	l := NewFeedbackList()
	l.SetAll(twoItems())

	assert.True(t, l.UpdateStatus(0, domain.FixFixed, "nailed it"))

	item, ok := l.Item(0)
	require.True(t, ok)
	assert.Equal(t, domain.FixFixed, item.FixStatus)
	assert.Equal(t, "nailed it", item.FixExplanation)
	assert.Equal(t, 1, item.FixAttempts)

	// The sibling item is untouched.
	other, _ := l.Item(1)
	assert.Equal(t, domain.FixUnfixed, other.FixStatus)
	assert.Equal(t, 0, other.FixAttempts)
}

func TestUpdateStatus_EmptyExplanationKeepsPrior(t *testing.T) {
	l := NewFeedbackList()
	l.SetAll(twoItems())

	l.UpdateStatus(0, domain.FixUnfixed, "still rushing the entry")
	l.UpdateStatus(0, domain.FixFixed, "")

	item, _ := l.Item(0)
	assert.Equal(t, domain.FixFixed, item.FixStatus)
	assert.Equal(t, "still rushing the entry", item.FixExplanation)
}

func TestUpdateStatus_OutOfBoundsIsFullNoop(t *testing.T) {
	l := NewFeedbackList()
	l.SetAll(twoItems())

	assert.False(t, l.UpdateStatus(-1, domain.FixFixed, "x"))
	assert.False(t, l.UpdateStatus(2, domain.FixFixed, "x"))
	assert.False(t, l.UpdateStatus(99, domain.FixFixed, "x"))

	for i := 0; i < l.Len(); i++ {
		item, _ := l.Item(i)
		assert.Equal(t, domain.FixUnfixed, item.FixStatus)
		assert.Zero(t, item.FixAttempts)
	}
}

// The attempt counter never decreases and equals the number of in-bounds
// UpdateStatus calls naming that index, whatever statuses those calls carry.
func TestUpdateStatus_AttemptCounterCountsCalls(t *testing.T) {
	l := NewFeedbackList()
	l.SetAll(twoItems())

	calls := []domain.FixStatus{
		domain.FixUnfixed, domain.FixFixed, domain.FixUnfixed,
		domain.FixSkipped, domain.FixFixed,
	}
	prev := 0
	for _, status := range calls {
		l.UpdateStatus(0, status, "")
		item, _ := l.Item(0)
		assert.GreaterOrEqual(t, item.FixAttempts, prev)
		prev = item.FixAttempts
	}

	item, _ := l.Item(0)
	assert.Equal(t, len(calls), item.FixAttempts)

	other, _ := l.Item(1)
	assert.Zero(t, other.FixAttempts)
}

func TestSetFixClip(t *testing.T) {
	l := NewFeedbackList()
	l.SetAll(twoItems())

	assert.True(t, l.SetFixClip(1, "http://x/clip.mp4", "uploads/clip.mp4"))
	assert.False(t, l.SetFixClip(5, "http://x/clip.mp4", "uploads/clip.mp4"))

	item, _ := l.Item(1)
	assert.Equal(t, "http://x/clip.mp4", item.FixClipURL)
	assert.Equal(t, "uploads/clip.mp4", item.FixClipBlob)
	// No status or attempt side effects.
	assert.Equal(t, domain.FixUnfixed, item.FixStatus)
	assert.Zero(t, item.FixAttempts)
}

func TestHighlight(t *testing.T) {
	l := NewFeedbackList()
	l.SetAll(twoItems())

	_, ok := l.Highlighted()
	assert.False(t, ok)

	assert.True(t, l.Highlight(1))
	idx, ok := l.Highlighted()
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	// Out of bounds leaves the current pointer alone.
	assert.False(t, l.Highlight(7))
	idx, ok = l.Highlighted()
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	l.ClearHighlight()
	_, ok = l.Highlighted()
	assert.False(t, ok)
}

func TestHighlight_NoOtherFieldChanges(t *testing.T) {
	l := NewFeedbackList()
	l.SetAll(twoItems())
	before := l.Items()

	l.Highlight(0)
	l.ClearHighlight()

	assert.Equal(t, before, l.Items())
}

func TestAddressedCount(t *testing.T) {
	l := NewFeedbackList()
	l.SetAll(twoItems())
	assert.Zero(t, l.AddressedCount())

	l.UpdateStatus(0, domain.FixFixed, "")
	assert.Equal(t, 1, l.AddressedCount())

	l.UpdateStatus(1, domain.FixSkipped, "")
	assert.Equal(t, 1, l.AddressedCount())

	// Reopening drops the count back.
	l.UpdateStatus(0, domain.FixUnfixed, "")
	assert.Zero(t, l.AddressedCount())
}

func TestItems_ReturnsCopy(t *testing.T) {
	l := NewFeedbackList()
	l.SetAll(twoItems())

	items := l.Items()
	items[0].Title = "mutated"

	got, _ := l.Item(0)
	assert.Equal(t, "Pitch drifts flat", got.Title)
}
