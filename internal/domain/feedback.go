package domain

// Category classifies what aspect of the performance a feedback item targets.
// Unknown categories from the analysis service survive round trips unchanged.
type Category string

const (
	CategoryVocal        Category = "vocal"
	CategoryInstrumental Category = "instrumental"
	CategoryTiming       Category = "timing"
)

// Severity ranks a feedback item for display.
type Severity string

const (
	SeverityCritical    Severity = "critical"
	SeverityImprovement Severity = "improvement"
	SeverityMinor       Severity = "minor"
)

// Priority returns the display rank of a severity. Lower sorts first;
// unknown severities sort last.
func (s Severity) Priority() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityImprovement:
		return 1
	case SeverityMinor:
		return 2
	}
	return 3
}

// FixStatus is the lifecycle state of one feedback item's fix loop.
type FixStatus string

const (
	FixUnfixed FixStatus = "unfixed"
	FixFixed   FixStatus = "fixed"
	FixSkipped FixStatus = "skipped"
)

// FeedbackItem is one scored issue identified in a video, independently
// fixable. Status and attempt fields are mutated only by the fix-evaluation
// flow; items are never deleted, only marked fixed or skipped.
type FeedbackItem struct {
	TimestampSeconds float64   `json:"timestamp_seconds"`
	Category         Category  `json:"category"`
	Severity         Severity  `json:"severity"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Action           string    `json:"action,omitempty"`
	FixStatus        FixStatus `json:"fix_status,omitempty"`
	FixClipURL       string    `json:"fix_clip_url,omitempty"`
	FixClipBlob      string    `json:"fix_clip_blob,omitempty"`
	FixExplanation   string    `json:"fix_explanation,omitempty"`
	FixAttempts      int       `json:"fix_attempts,omitempty"`
}

// AddressedCount returns how many items carry a fixed status.
func AddressedCount(items []FeedbackItem) int {
	n := 0
	for _, it := range items {
		if it.FixStatus == FixFixed {
			n++
		}
	}
	return n
}
