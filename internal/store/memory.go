package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fermata-app/fermata/internal/domain"
)

// MemoryStore is an in-memory SessionStore for tests and the memory backend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
	seq      int
}

type memoryEntry struct {
	sess *domain.Session
	seq  int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memoryEntry)}
}

// Create inserts a new session, assigning an id and timestamps when missing.
func (m *MemoryStore) Create(_ context.Context, sess *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = sess.CreatedAt
	}

	m.seq++
	m.sessions[sess.ID] = &memoryEntry{sess: sess.Clone(), seq: m.seq}
	return nil
}

// Get returns a copy of the session by id.
func (m *MemoryStore) Get(_ context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.sess.Clone(), nil
}

// Save replaces the stored session, stamping UpdatedAt.
func (m *MemoryStore) Save(_ context.Context, sess *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sess.ID]; !ok {
		return ErrNotFound
	}
	sess.UpdatedAt = time.Now().UTC()
	m.seq++
	m.sessions[sess.ID] = &memoryEntry{sess: sess.Clone(), seq: m.seq}
	return nil
}

// Delete removes a session by id.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// List returns session summaries newest-first. Limit of 0 defaults to 20.
func (m *MemoryStore) List(_ context.Context, limit int) ([]domain.SessionSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	m.mu.RLock()
	entries := make([]*memoryEntry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sortNewestFirst(entries)

	if len(entries) > limit {
		entries = entries[:limit]
	}
	sums := make([]domain.SessionSummary, 0, len(entries))
	for _, e := range entries {
		sums = append(sums, e.sess.Summary())
	}
	return sums, nil
}

// Search finds sessions whose feedback text contains the query,
// case-insensitively. Limit of 0 defaults to 20.
func (m *MemoryStore) Search(_ context.Context, query string, limit int) ([]domain.SessionSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}

	m.mu.RLock()
	var matched []*memoryEntry
	for _, e := range m.sessions {
		if strings.Contains(strings.ToLower(searchText(e.sess)), needle) {
			matched = append(matched, e)
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(matched)

	if len(matched) > limit {
		matched = matched[:limit]
	}
	sums := make([]domain.SessionSummary, 0, len(matched))
	for _, e := range matched {
		sums = append(sums, e.sess.Summary())
	}
	return sums, nil
}

// Close is a no-op for the memory backend.
func (m *MemoryStore) Close() error { return nil }

// sortNewestFirst orders by UpdatedAt descending, breaking ties by most
// recent write.
func sortNewestFirst(entries []*memoryEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].sess.UpdatedAt.Equal(entries[j].sess.UpdatedAt) {
			return entries[i].sess.UpdatedAt.After(entries[j].sess.UpdatedAt)
		}
		return entries[i].seq > entries[j].seq
	})
}
