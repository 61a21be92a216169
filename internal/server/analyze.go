package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/hooks"
	"github.com/fermata-app/fermata/internal/ingest"
	"github.com/fermata-app/fermata/internal/model"
	"github.com/fermata-app/fermata/internal/store"
)

// handleAnalyzeVideo streams a full-analysis producer run as SSE. When the
// request names a session, the terminal payload is folded into the declared
// role's slot before the complete event is forwarded.
func (s *Server) handleAnalyzeVideo(w http.ResponseWriter, r *http.Request) {
	var req ingest.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VideoURL == "" {
		writeError(w, http.StatusBadRequest, "video_url is required")
		return
	}
	role := req.VideoType
	if role == "" {
		role = domain.RoleOriginal
	}
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "unknown video_type")
		return
	}

	var sess *domain.Session
	if req.SessionID != "" {
		var err error
		sess, err = s.store.Get(r.Context(), req.SessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "session not found")
				return
			}
			s.log.Error().Err(err).Str("session", req.SessionID).Msg("loading session")
			writeError(w, http.StatusInternalServerError, "loading session")
			return
		}
	}

	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.runAnalysis(r.Context(), stream, sess, role, req.VideoURL)
}

// handleAnalyzeFix streams a fix-evaluation producer run as SSE and folds
// the verdict into the named feedback item.
func (s *Server) handleAnalyzeFix(w http.ResponseWriter, r *http.Request) {
	var req ingest.FixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VideoURL == "" {
		writeError(w, http.StatusBadRequest, "video_url is required")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	sess, err := s.store.Get(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.log.Error().Err(err).Str("session", req.SessionID).Msg("loading session")
		writeError(w, http.StatusInternalServerError, "loading session")
		return
	}
	if sess.Original == nil || req.FeedbackIndex < 0 || req.FeedbackIndex >= len(sess.Original.Feedback) {
		writeError(w, http.StatusBadRequest, "feedback index out of range")
		return
	}

	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.runFix(r.Context(), stream, sess, req.FeedbackIndex, req.VideoURL)
}

func (s *Server) runAnalysis(ctx context.Context, stream *sseStream, sess *domain.Session, role domain.VideoRole, videoURL string) {
	sessionID := ""
	if sess != nil {
		sessionID = sess.ID
	}
	log := s.log.Sub("analyze")

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventAnalysisStarted, map[string]any{
			"session_id": sessionID,
			"role":       string(role),
		})
	}

	stream.send(ingest.Event{Type: ingest.EventStatus, Content: "Preparing video..."})

	path, blobName, cleanup, err := s.stageVideo(ctx, videoURL)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("staging video failed")
		stream.send(ingest.Event{Type: ingest.EventError, Content: err.Error()})
		return
	}
	defer cleanup()

	prompt := model.AnalysisPrompt
	kind := model.AnalyzePerformance
	prior := ""
	if sess != nil && sess.Original.HasResult() {
		prior = sess.Original.ThoughtSignature
		if role == domain.RoleFinal {
			kind = model.AnalyzeComparison
			prompt = model.ComparisonPrompt(sess.Original.Summary, *sess.Original.Score)
		}
	}

	events, err := s.producer.AnalyzeVideo(ctx, model.AnalysisRequest{
		VideoPath:      path,
		MimeType:       "video/mp4",
		Kind:           kind,
		Prompt:         prompt,
		PriorSignature: prior,
	})
	if err != nil {
		log.Error().Err(err).Msg("producer rejected analysis")
		stream.send(ingest.Event{Type: ingest.EventError, Content: err.Error()})
		return
	}

	start := time.Now()
	s.bridge(ctx, stream, events, func(payload string) {
		log.Info().
			Str("session", sessionID).
			Str("role", string(role)).
			Dur("took", time.Since(start)).
			Msg("analysis complete")
		s.persistAnalysis(ctx, sess, role, blobName, payload)
	})
}

func (s *Server) runFix(ctx context.Context, stream *sseStream, sess *domain.Session, index int, videoURL string) {
	log := s.log.Sub("analyze")
	item := sess.Original.Feedback[index]

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventAnalysisStarted, map[string]any{
			"session_id": sess.ID,
			"role":       "fix",
			"index":      index,
		})
	}

	stream.send(ingest.Event{Type: ingest.EventStatus, Content: "Preparing clip..."})

	path, blobName, cleanup, err := s.stageVideo(ctx, videoURL)
	if err != nil {
		log.Warn().Err(err).Str("session", sess.ID).Msg("staging clip failed")
		stream.send(ingest.Event{Type: ingest.EventError, Content: err.Error()})
		return
	}
	defer cleanup()

	events, err := s.producer.AnalyzeVideo(ctx, model.AnalysisRequest{
		VideoPath:      path,
		MimeType:       "video/mp4",
		Kind:           model.AnalyzeFix,
		Prompt:         model.FixPrompt(item),
		PriorSignature: sess.Original.ThoughtSignature,
	})
	if err != nil {
		log.Error().Err(err).Msg("producer rejected fix evaluation")
		stream.send(ingest.Event{Type: ingest.EventError, Content: err.Error()})
		return
	}

	s.bridge(ctx, stream, events, func(payload string) {
		s.persistFix(ctx, sess, index, blobName, payload)
	})
}

// bridge forwards producer events onto the SSE wire until the stream ends.
// onComplete runs before the complete event is forwarded, so a client that
// refetches on complete sees the persisted state.
func (s *Server) bridge(ctx context.Context, stream *sseStream, events <-chan model.Event, onComplete func(payload string)) {
	for ev := range events {
		var out ingest.Event
		switch ev.Type {
		case model.EventStatus:
			out = ingest.Event{Type: ingest.EventStatus, Content: ev.Content}
		case model.EventThinking:
			out = ingest.Event{Type: ingest.EventThinking, Content: ev.Content}
		case model.EventDelta:
			out = ingest.Event{Type: ingest.EventPartial, Content: ev.Content}
		case model.EventComplete:
			onComplete(ev.Content)
			stream.send(ingest.Event{Type: ingest.EventComplete, Content: ev.Content})
			return
		case model.EventError:
			msg := ev.Content
			if msg == "" && ev.Err != nil {
				msg = ev.Err.Error()
			}
			stream.send(ingest.Event{Type: ingest.EventError, Content: msg})
			return
		default:
			continue
		}
		if err := stream.send(out); err != nil {
			// Client went away; the request context cancels the producer.
			s.log.Debug().Err(err).Msg("analysis stream client lost")
			return
		}
	}
	// Producer closed without a terminal event.
	stream.send(ingest.Event{Type: ingest.EventError, Content: "analysis stream ended unexpectedly"})
}

// stageVideo resolves a video reference to a local mp4 path: blob lookup,
// then conversion when the container needs it. The cleanup removes any
// converted copy.
func (s *Server) stageVideo(ctx context.Context, videoURL string) (string, string, func(), error) {
	name := blobNameFromURL(videoURL)
	if name == "" {
		return "", "", nil, fmt.Errorf("unusable video reference %q", videoURL)
	}
	if !s.blobs.Exists(name) {
		return "", "", nil, fmt.Errorf("video %s not found in upload store", name)
	}

	f, err := s.blobs.Open(name)
	if err != nil {
		return "", "", nil, fmt.Errorf("opening video: %w", err)
	}
	local := f.Name()
	f.Close()

	path, cleanup, err := s.media.EnsureMP4(ctx, local)
	if err != nil {
		return "", "", nil, fmt.Errorf("converting video: %w", err)
	}
	return path, name, cleanup, nil
}

// blobNameFromURL extracts the blob name from a signed transfer URL, also
// accepting a bare name like "uploads/clip.webm".
func blobNameFromURL(raw string) string {
	if !strings.Contains(raw, "://") {
		return strings.TrimPrefix(raw, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := strings.TrimPrefix(u.Path, "/")
	for _, prefix := range []string{"api/upload/get/", "api/upload/put/"} {
		if rest, ok := strings.CutPrefix(p, prefix); ok {
			return rest
		}
	}
	return p
}

// persistAnalysis folds a terminal analysis payload into the session. A
// payload that fails to parse is logged and forwarded unpersisted; the
// client shows its own parsing-error status.
func (s *Server) persistAnalysis(ctx context.Context, sess *domain.Session, role domain.VideoRole, blobName, payload string) {
	if sess == nil {
		return
	}
	res, err := domain.ParseAnalysisResult(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("session", sess.ID).Msg("analysis payload did not parse; not persisted")
		return
	}

	now := time.Now().UTC()
	videoURL := s.freshDownloadURL(blobName)
	switch role {
	case domain.RolePractice:
		clip := sess.AddPracticeClip(videoURL, blobName, now)
		clip.ApplyResult(res)
	default:
		slot := sess.EnsureSlot(role)
		slot.URL = videoURL
		slot.BlobName = blobName
		slot.ApplyResult(res, now)
	}
	sess.UpdatedAt = now

	if err := s.store.Save(ctx, sess); err != nil {
		s.log.Error().Err(err).Str("session", sess.ID).Msg("saving analysis result")
		return
	}

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventAnalysisCompleted, map[string]any{
			"session_id": sess.ID,
			"role":       string(role),
			"score":      res.OverallScore,
		})
	}
}

// persistFix applies a fix verdict to the evaluated item: status, attempt
// counter, clip references, and the latest explanation.
func (s *Server) persistFix(ctx context.Context, sess *domain.Session, index int, blobName, payload string) {
	res, err := domain.ParseFixResult(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("session", sess.ID).Msg("fix payload did not parse; not persisted")
		return
	}

	item := &sess.Original.Feedback[index]
	if res.IsFixed {
		item.FixStatus = domain.FixFixed
	} else {
		item.FixStatus = domain.FixUnfixed
	}
	if res.Explanation != "" {
		item.FixExplanation = res.Explanation
	}
	item.FixAttempts++
	item.FixClipURL = s.freshDownloadURL(blobName)
	item.FixClipBlob = blobName
	sess.UpdatedAt = time.Now().UTC()

	if err := s.store.Save(ctx, sess); err != nil {
		s.log.Error().Err(err).Str("session", sess.ID).Msg("saving fix result")
		return
	}

	s.log.Info().
		Str("session", sess.ID).
		Int("index", index).
		Bool("is_fixed", res.IsFixed).
		Int("addressed", sess.FeedbackAddressed()).
		Msg("fix evaluated")

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventFixEvaluated, map[string]any{
			"session_id": sess.ID,
			"index":      index,
			"is_fixed":   res.IsFixed,
		})
	}
}

// freshDownloadURL mints a new signed link for a blob so persisted URLs
// start their expiry at analysis time, not upload time.
func (s *Server) freshDownloadURL(blobName string) string {
	u, err := s.blobs.DownloadURL(blobName)
	if err != nil {
		return blobName
	}
	return u
}

// sseStream writes server-sent events, flushing after every event so
// narration reaches the client as it is produced.
type sseStream struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEStream(w http.ResponseWriter) (*sseStream, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseStream{w: w, f: f}, nil
}

func (s *sseStream) send(ev ingest.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}
