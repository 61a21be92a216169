package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/hooks"
	"github.com/fermata-app/fermata/internal/store"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	sess := &domain.Session{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(r.Context(), sess); err != nil {
		s.log.Error().Err(err).Msg("creating session")
		writeError(w, http.StatusInternalServerError, "creating session")
		return
	}

	if s.hooks != nil {
		s.hooks.Emit(r.Context(), hooks.EventSessionStarted, map[string]any{
			"session_id": sess.ID,
		})
	}
	s.log.Info().Str("session", sess.ID).Msg("session created")
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sess.ID})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.List(r.Context(), store.DefaultListLimit)
	if err != nil {
		s.log.Error().Err(err).Msg("listing sessions")
		writeError(w, http.StatusInternalServerError, "listing sessions")
		return
	}
	if summaries == nil {
		summaries = []domain.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleSearchSessions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	summaries, err := s.store.Search(r.Context(), query, store.DefaultListLimit)
	if err != nil {
		s.log.Error().Err(err).Str("query", query).Msg("searching sessions")
		writeError(w, http.StatusInternalServerError, "searching sessions")
		return
	}
	if summaries == nil {
		summaries = []domain.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionContext(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Context())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.log.Error().Err(err).Str("session", id).Msg("deleting session")
		writeError(w, http.StatusInternalServerError, "deleting session")
		return
	}
	s.log.Info().Str("session", id).Msg("session deleted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// loadSession fetches the session named in the route, writing the error
// response itself when the fetch fails.
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	id := mux.Vars(r)["id"]
	sess, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return nil, false
		}
		s.log.Error().Err(err).Str("session", id).Msg("loading session")
		writeError(w, http.StatusInternalServerError, "loading session")
		return nil, false
	}
	return sess, true
}
