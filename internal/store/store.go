// Package store provides session persistence behind a single interface with
// SQLite, Postgres, and in-memory backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fermata-app/fermata/internal/config"
	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/logging"
)

// ErrNotFound is returned when a session id has no stored document.
var ErrNotFound = errors.New("session not found")

// DefaultListLimit caps session listings when the caller passes 0.
const DefaultListLimit = 20

// SessionStore persists whole session documents. Save replaces the stored
// document and stamps UpdatedAt; listings come back newest-first.
type SessionStore interface {
	Create(ctx context.Context, sess *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Save(ctx context.Context, sess *domain.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]domain.SessionSummary, error)
	Search(ctx context.Context, query string, limit int) ([]domain.SessionSummary, error)
	Close() error
}

// New builds the backend selected by config: "sqlite" (default), "postgres",
// or "memory". The SQLite path falls back to <data>/fermata.db.
func New(cfg config.StoreConfig, dataDir string, log *logging.Logger) (SessionStore, error) {
	switch cfg.Backend {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = sqlitePath(dataDir)
		}
		db, err := Open(path, log)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(db), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("store: postgres backend requires store.dsn")
		}
		return OpenPostgres(cfg.DSN, log)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

// searchText flattens the searchable prose of a session into one blob for
// full-text indexing: song metadata, summaries, feedback, and strengths.
func searchText(sess *domain.Session) string {
	var parts []string
	add := func(s string) {
		if s != "" {
			parts = append(parts, s)
		}
	}
	addSlot := func(slot *domain.VideoSlot) {
		if slot == nil {
			return
		}
		add(slot.SongName)
		add(slot.SongArtist)
		add(slot.Summary)
		add(slot.ComparisonSummary)
		for _, item := range slot.Feedback {
			add(item.Title)
			add(item.Description)
			add(item.Action)
		}
		for _, s := range slot.Strengths {
			add(s)
		}
	}

	addSlot(sess.Original)
	addSlot(sess.Final)
	for i := range sess.PracticeClips {
		clip := &sess.PracticeClips[i]
		add(clip.Summary)
		for _, item := range clip.Feedback {
			add(item.Title)
			add(item.Description)
		}
	}
	return strings.Join(parts, "\n")
}

// ftsQuery quotes each term so user input never trips FTS5 query syntax.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}
