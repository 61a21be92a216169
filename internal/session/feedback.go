// Package session holds the client-side session state machine: the mutable
// feedback list for the active analysis and the session model that owns the
// video slots. Both are safe for concurrent use; the orchestrator is the only
// caller that mutates them from remote tool calls.
package session

import (
	"slices"
	"sync"

	"github.com/fermata-app/fermata/internal/domain"
)

// FeedbackList is the mutable list of scored issues for the active analysis,
// plus the advisory highlight pointer the coach uses to direct attention.
type FeedbackList struct {
	mu        sync.Mutex
	items     []domain.FeedbackItem
	highlight int // index, -1 when none
}

// NewFeedbackList returns an empty list with no highlight.
func NewFeedbackList() *FeedbackList {
	return &FeedbackList{highlight: -1}
}

// SetAll replaces the list atomically and clears the highlight. Used only
// when a fresh analysis completes or a session is hydrated.
func (l *FeedbackList) SetAll(items []domain.FeedbackItem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = slices.Clone(items)
	l.highlight = -1
}

// UpdateStatus sets an item's fix status, overwrites its explanation when
// non-empty, and increments its attempt counter. Out-of-bounds indices are a
// silent no-op: nothing changes, not even the counter. Transitions are
// unrestricted at this layer.
func (l *FeedbackList) UpdateStatus(index int, status domain.FixStatus, explanation string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.items) {
		return false
	}
	item := &l.items[index]
	item.FixStatus = status
	if explanation != "" {
		item.FixExplanation = explanation
	}
	item.FixAttempts++
	return true
}

// SetFixClip records the clip that addressed an item. Does not touch the
// status or attempt counter.
func (l *FeedbackList) SetFixClip(index int, url, blob string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.items) {
		return false
	}
	l.items[index].FixClipURL = url
	l.items[index].FixClipBlob = blob
	return true
}

// Highlight points the UI at an item. Advisory only; no other field changes.
// Out-of-bounds indices are rejected without clearing the current highlight.
func (l *FeedbackList) Highlight(index int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.items) {
		return false
	}
	l.highlight = index
	return true
}

// ClearHighlight removes the pointer.
func (l *FeedbackList) ClearHighlight() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.highlight = -1
}

// Highlighted returns the current pointer, ok false when none is set.
func (l *FeedbackList) Highlighted() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.highlight < 0 {
		return 0, false
	}
	return l.highlight, true
}

// Items returns a copy of the list.
func (l *FeedbackList) Items() []domain.FeedbackItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.items)
}

// Item returns a copy of one item, ok false when out of bounds.
func (l *FeedbackList) Item(index int) (domain.FeedbackItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.items) {
		return domain.FeedbackItem{}, false
	}
	return l.items[index], true
}

// Len returns the number of items.
func (l *FeedbackList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// AddressedCount returns how many items are marked fixed.
func (l *FeedbackList) AddressedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.AddressedCount(l.items)
}
