package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fermata-app/fermata/internal/coach"
	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/hooks"
	"github.com/fermata-app/fermata/internal/logging"
	"github.com/fermata-app/fermata/internal/model"
	"github.com/fermata-app/fermata/internal/store"
)

const (
	// maxToolRounds bounds producer turns triggered by tool results within
	// one user message, so a misbehaving model cannot loop forever.
	maxToolRounds = 5

	coachReadLimit = 4 * 1024 * 1024 // 4MB
)

// coachCapabilities is what the connected frame advertises. Audio would be
// an additional entry; only text and tool calls are shipped.
var coachCapabilities = []string{"text", "tools"}

// handleCoach upgrades to WebSocket and runs the coaching agent for one
// session. Auth rides in the query because browsers cannot set headers on
// WebSocket dials.
func (s *Server) handleCoach(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "server token not configured")
		return
	}
	if !s.auth.CheckToken(r.URL.Query().Get("token")) {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	sess, err := s.store.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.log.Error().Err(err).Str("session", sessionID).Msg("loading session")
		writeError(w, http.StatusInternalServerError, "loading session")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(coachReadLimit)

	c := newCoachConn(s, conn, sess)

	// One coach per session: a reconnect supersedes the previous socket.
	if prev := s.coaches.add(sessionID, c); prev != nil {
		prev.close()
	}
	defer func() {
		s.coaches.remove(sessionID, c)
		c.close()
		if s.hooks != nil {
			s.hooks.Emit(context.Background(), hooks.EventCoachDisconnected, map[string]any{
				"session_id": sessionID,
			})
		}
		c.log.Info().Msg("coach disconnected")
	}()

	if s.hooks != nil {
		s.hooks.Emit(r.Context(), hooks.EventCoachConnected, map[string]any{
			"session_id": sessionID,
		})
	}
	c.log.Info().Str("remote", r.RemoteAddr).Msg("coach connected")

	c.run(r.Context())
}

// coachConn is one live coaching conversation. Frames are processed
// sequentially on the read loop; producer turns run inline, so
// conversation state needs no locking. Socket writes take writeMu because
// the flusher's idle timer also emits text frames.
type coachConn struct {
	server    *Server
	conn      *websocket.Conn
	sessionID string
	log       *logging.Logger

	writeMu sync.Mutex

	view     *domain.AnalysisView
	messages []model.Message
	pending  map[string]model.ToolCall // frame correlation id → producer call
	results  []model.ToolResult        // answered calls waiting for the next turn
	rounds   int
}

func newCoachConn(s *Server, conn *websocket.Conn, sess *domain.Session) *coachConn {
	c := &coachConn{
		server:    s,
		conn:      conn,
		sessionID: sess.ID,
		log:       s.log.Sub("coach").WithSession(sess.ID),
		pending:   make(map[string]model.ToolCall),
	}
	if view, ok := sess.ActiveView(); ok {
		c.view = &view
	}
	return c
}

func (c *coachConn) run(ctx context.Context) {
	c.writeFrame(coach.NewConnectedFrame(c.sessionID, coachCapabilities))

	// The kickoff turn references the score, so it only makes sense once
	// an analysis exists.
	if c.server.cfg.Coach.GreetingEnabled() && c.view != nil {
		c.messages = append(c.messages, model.Message{Role: model.RoleUser, Content: model.GreetingInstruction})
		c.runTurn(ctx)
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Debug().Err(err).Msg("coach read loop ended")
			return
		}
		frame, err := coach.ParseFrame(data)
		if err != nil {
			c.writeFrame(coach.NewErrorFrame("malformed frame: " + err.Error()))
			continue
		}
		c.handleFrame(ctx, frame)
	}
}

func (c *coachConn) handleFrame(ctx context.Context, frame coach.Frame) {
	switch frame.Type {
	case coach.FrameText:
		if strings.TrimSpace(frame.Content) == "" {
			return
		}
		c.rounds = 0
		c.messages = append(c.messages, model.Message{Role: model.RoleUser, Content: frame.Content})
		c.runTurn(ctx)

	case coach.FrameToolResult:
		c.handleToolResult(ctx, frame)

	case coach.FrameContext:
		var view domain.AnalysisView
		if err := json.Unmarshal(frame.Analysis, &view); err != nil {
			c.log.Warn().Err(err).Msg("unusable context frame")
			return
		}
		c.view = &view
		c.log.Debug().Str("role", string(view.Role)).Msg("context updated")

	default:
		c.log.Debug().Str("type", frame.Type).Msg("ignoring unexpected frame")
	}
}

func (c *coachConn) handleToolResult(ctx context.Context, frame coach.Frame) {
	call, ok := c.pending[frame.ID]
	if !ok {
		c.log.Warn().Str("id", frame.ID).Str("tool", frame.Name).Msg("tool result for unknown call")
		return
	}
	delete(c.pending, frame.ID)

	result := frame.Result
	if result == nil {
		if frame.IsError {
			result = map[string]any{"error": "tool failed"}
		} else {
			result = map[string]any{"status": "ok"}
		}
	}
	c.results = append(c.results, model.ToolResult{ID: call.ID, Name: call.Name, Result: result})
	c.maybeContinue(ctx)
}

// maybeContinue runs the follow-up turn once every outstanding tool call
// has an answer, up to the round limit.
func (c *coachConn) maybeContinue(ctx context.Context) {
	if len(c.pending) > 0 || len(c.results) == 0 {
		return
	}

	c.messages = append(c.messages, model.Message{Role: model.RoleUser, ToolResults: c.results})
	c.results = nil

	if c.rounds >= maxToolRounds {
		c.log.Warn().Int("rounds", c.rounds).Msg("tool round limit reached")
		c.writeFrame(coach.NewErrorFrame("tool round limit reached"))
		return
	}
	c.rounds++
	c.runTurn(ctx)
}

// runTurn issues one producer turn and streams its output: narration is
// boundary-flushed into text frames, tool calls are validated and forwarded
// with freshly minted correlation ids.
func (c *coachConn) runTurn(ctx context.Context) {
	events, err := c.server.producer.CoachTurn(ctx, model.CoachRequest{
		System:   c.systemPrompt(),
		Messages: c.messages,
		Tools:    coach.ModelTools(),
	})
	if err != nil {
		c.log.Error().Err(err).Msg("coach turn failed")
		c.writeFrame(coach.NewErrorFrame("coach turn failed: " + err.Error()))
		return
	}

	flusher := newStreamFlusher(streamFlusherConfig{}, func(chunk string) {
		c.writeFrame(coach.NewTextFrame(chunk))
	})

	var narration strings.Builder
	var calls []model.ToolCall

	for ev := range events {
		switch ev.Type {
		case model.EventDelta:
			narration.WriteString(ev.Content)
			flusher.OnDelta(ev.Content)
		case model.EventToolCall:
			if ev.ToolCall == nil {
				continue
			}
			// Flush so narration is ordered ahead of the call it leads into.
			flusher.Flush()
			calls = append(calls, *ev.ToolCall)
			c.forwardToolCall(*ev.ToolCall)
		case model.EventError:
			flusher.Flush()
			msg := ev.Content
			if msg == "" && ev.Err != nil {
				msg = ev.Err.Error()
			}
			c.log.Warn().Str("message", msg).Msg("producer error during turn")
			c.writeFrame(coach.NewErrorFrame(msg))
		}
	}
	flusher.Flush()

	if narration.Len() > 0 || len(calls) > 0 {
		c.messages = append(c.messages, model.Message{
			Role:      model.RoleAssistant,
			Content:   narration.String(),
			ToolCalls: calls,
		})
	}

	// Calls answered synthetically (validation failures) may already
	// complete the round.
	c.maybeContinue(ctx)
}

// forwardToolCall relays one producer tool call to the client. Calls that
// fail schema validation are answered directly with an error result and
// never reach the client.
func (c *coachConn) forwardToolCall(call model.ToolCall) {
	if err := coach.ValidateArgs(call.Name, call.Args); err != nil {
		c.log.Warn().Err(err).Str("tool", call.Name).Msg("producer tool call rejected")
		c.results = append(c.results, model.ToolResult{
			ID:     call.ID,
			Name:   call.Name,
			Result: map[string]any{"error": err.Error()},
		})
		return
	}

	frameID := uuid.New().String()
	frame, err := coach.NewToolCallFrame(frameID, call.Name, call.Args)
	if err != nil {
		c.results = append(c.results, model.ToolResult{
			ID:     call.ID,
			Name:   call.Name,
			Result: map[string]any{"error": err.Error()},
		})
		return
	}

	c.pending[frameID] = call
	c.writeFrame(frame)
	c.log.Debug().Str("tool", call.Name).Str("id", frameID).Msg("tool call forwarded")
}

func (c *coachConn) systemPrompt() string {
	base := c.server.cfg.Coach.SystemPrompt
	if base == "" {
		base = model.DefaultCoachSystem
	}
	if c.view != nil {
		base += "\n\n" + model.ContextBlock(*c.view)
	}
	return base
}

func (c *coachConn) writeFrame(frame coach.Frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(frame); err != nil {
		c.log.Debug().Err(err).Str("type", frame.Type).Msg("coach write failed")
	}
}

func (c *coachConn) close() {
	c.conn.Close()
}

// coachRegistry tracks the live coach connection per session.
type coachRegistry struct {
	mu    sync.Mutex
	conns map[string]*coachConn
}

func newCoachRegistry() *coachRegistry {
	return &coachRegistry{conns: make(map[string]*coachConn)}
}

// add registers a connection and returns the one it supersedes, if any.
func (r *coachRegistry) add(sessionID string, c *coachConn) *coachConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conns[sessionID]
	r.conns[sessionID] = c
	return prev
}

// remove drops the registration only if it still points at c.
func (r *coachRegistry) remove(sessionID string, c *coachConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[sessionID] == c {
		delete(r.conns, sessionID)
	}
}

func (r *coachRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *coachRegistry) closeAll() {
	r.mu.Lock()
	conns := make([]*coachConn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*coachConn)
	r.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}
