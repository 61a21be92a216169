// Package orchestrator is the client-side hub: it owns the active session
// model, routes ingestion outcomes and coach tool calls into it through one
// mutation path, manages the coach channel's lifecycle across session
// switches, and emits lifecycle hook events.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fermata-app/fermata/internal/api"
	"github.com/fermata-app/fermata/internal/coach"
	"github.com/fermata-app/fermata/internal/config"
	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/hooks"
	"github.com/fermata-app/fermata/internal/ingest"
	"github.com/fermata-app/fermata/internal/logging"
	"github.com/fermata-app/fermata/internal/session"
)

// CoachLink is the orchestrator's view of the coach channel.
type CoachLink interface {
	Connect(ctx context.Context) error
	Close() error
	Status() coach.ChannelStatus
	SendText(content string) error
	SendToolResult(id, name string, result map[string]any, isError bool) error
	QueueContext(analysis any) error
}

// ChannelFactory builds the channel for one session. The orchestrator calls
// it on every session switch, so each channel is keyed to exactly one id.
type ChannelFactory func(sessionID string, handlers coach.Handlers) CoachLink

// Handlers are the display-facing callbacks. All fire from ingestion or
// channel goroutines; they must be safe for concurrent use and quick.
type Handlers struct {
	OnProgress   func(ingest.Progress)
	OnOutcome    func(ingest.Outcome)
	OnCoachText  func(string)
	OnCoachTurn  func(string)
	OnCoachError func(string)
	OnCoachState func(coach.State)
}

// Option customizes an orchestrator.
type Option func(*Orchestrator)

// WithHooks attaches a lifecycle hook manager.
func WithHooks(h *hooks.Manager) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

// WithChannelFactory replaces how coach channels are built.
func WithChannelFactory(f ChannelFactory) Option {
	return func(o *Orchestrator) { o.newChannel = f }
}

// WithAutoOpenCoach controls whether the first analysis result of a session
// opens the coach channel on its own. One-shot commands turn it off.
func WithAutoOpenCoach(enabled bool) Option {
	return func(o *Orchestrator) { o.autoOpen = enabled }
}

// Orchestrator wires the API client, session model, ingestion tracker, and
// coach channel together. It is the only component that mutates the model in
// response to remote events.
type Orchestrator struct {
	cfg      config.Config
	log      *logging.Logger
	client   *api.Client
	model    *session.Model
	tracker  *ingest.Tracker
	hooks    *hooks.Manager
	dispatch *coach.Dispatcher
	ui       *UIState
	handlers Handlers
	autoOpen bool

	newChannel ChannelFactory

	mu         sync.Mutex
	channel    CoachLink
	coachState coach.State
	resultSeen bool // true once the session has any analysis result
}

// New builds an orchestrator over an API client, model, and tracker. The
// tracker must be bound to the same model.
func New(cfg config.Config, client *api.Client, model *session.Model, tracker *ingest.Tracker, handlers Handlers, log *logging.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = logging.Nop()
	}
	o := &Orchestrator{
		cfg:        cfg,
		log:        log.Sub("orchestrator"),
		client:     client,
		model:      model,
		tracker:    tracker,
		handlers:   handlers,
		ui:         NewUIState(),
		autoOpen:   true,
		coachState: coach.StateDisconnected,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.hooks == nil {
		o.hooks = hooks.NewManager(log)
	}
	if o.newChannel == nil {
		o.newChannel = func(sessionID string, h coach.Handlers) CoachLink {
			return coach.NewChannel(coach.Options{
				URL:           cfg.Client.ServerURL,
				SessionID:     sessionID,
				Token:         client.Token(),
				ReconnectBase: time.Duration(cfg.Coach.ReconnectBaseMS) * time.Millisecond,
				MaxAttempts:   cfg.Coach.ReconnectMaxAttempts,
			}, h, log)
		}
	}

	o.dispatch = coach.NewDispatcher(log)
	o.registerTools()

	tracker.OnProgress(func(p ingest.Progress) {
		if h := o.handlers.OnProgress; h != nil {
			h(p)
		}
	})
	tracker.OnOutcome(o.handleOutcome)
	return o
}

// UI returns the advisory presentation state.
func (o *Orchestrator) UI() *UIState { return o.ui }

// Hooks returns the lifecycle hook manager for handler registration.
func (o *Orchestrator) Hooks() *hooks.Manager { return o.hooks }

// Bootstrap restores the most recent persisted session; when none exists or
// anything fails it falls back to a fresh session, so startup never blocks on
// the server being healthy. Returns the active session id, empty when the
// session could not be persisted.
func (o *Orchestrator) Bootstrap(ctx context.Context) string {
	summaries, err := o.client.ListSessions(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("session list failed, starting fresh")
		return o.freshSession(ctx)
	}
	if len(summaries) == 0 {
		return o.freshSession(ctx)
	}

	id := summaries[0].SessionID
	sess, err := o.client.GetSession(ctx, id)
	if err != nil {
		o.log.Warn().Err(err).Str("id", id).Msg("session hydrate failed, starting fresh")
		return o.freshSession(ctx)
	}
	o.adopt(ctx, sess)
	return sess.ID
}

// NewSession creates a persisted session and makes it active. The previous
// session's coach channel is closed; in-flight ingestion against the old
// generation will be discarded as stale.
func (o *Orchestrator) NewSession(ctx context.Context) (string, error) {
	id, err := o.client.CreateSession(ctx)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	o.startLocal(ctx, id)
	return id, nil
}

// SwitchSession makes a persisted session active.
func (o *Orchestrator) SwitchSession(ctx context.Context, id string) error {
	sess, err := o.client.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("loading session %s: %w", id, err)
	}
	o.adopt(ctx, sess)
	return nil
}

func (o *Orchestrator) freshSession(ctx context.Context) string {
	id, err := o.NewSession(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("remote session create failed, running unpersisted")
		o.startLocal(ctx, "")
	}
	return id
}

func (o *Orchestrator) startLocal(ctx context.Context, id string) {
	o.dropChannel()
	o.model.StartSession(id)
	o.ui.Reset()
	o.mu.Lock()
	o.resultSeen = false
	o.mu.Unlock()
	o.hooks.Emit(ctx, hooks.EventSessionStarted, map[string]any{"session_id": id})
}

func (o *Orchestrator) adopt(ctx context.Context, sess *domain.Session) {
	o.dropChannel()
	o.model.Hydrate(sess)
	o.ui.Reset()
	hasResult := o.model.HasResult()
	o.mu.Lock()
	// A hydrated result is a prior one, so the auto-open edge has already
	// passed for this session.
	o.resultSeen = hasResult
	o.mu.Unlock()
	o.hooks.Emit(ctx, hooks.EventSessionHydrated, map[string]any{
		"session_id": sess.ID,
		"has_result": hasResult,
	})
	o.log.Info().Str("id", sess.ID).Bool("has_result", hasResult).Msg("session restored")
}

// UploadVideo pushes a local take through the signed-URL exchange and records
// it on the session: original/final takes fill their slot, practice takes
// append a clip. Returns the signed pair; practice uploads also return the
// clip number through it being recorded on the model.
func (o *Orchestrator) UploadVideo(ctx context.Context, path string, role domain.VideoRole) (*api.SignedUpload, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("unknown video role %q", role)
	}
	signed, err := o.client.UploadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if role == domain.RolePractice {
		n := o.model.AddPracticeClip(signed.DownloadURL, signed.Filename, "")
		o.hooks.Emit(ctx, hooks.EventClipCaptured, map[string]any{
			"session_id":  o.model.SessionID(),
			"clip_number": n,
			"blob":        signed.Filename,
		})
		return signed, nil
	}
	if err := o.model.AttachVideo(role, signed.DownloadURL, signed.Filename); err != nil {
		return nil, err
	}
	return signed, nil
}

// AnalyzeVideo starts the streaming analysis of an uploaded blob for a slot.
// clipNumber selects the practice clip and is ignored for other roles.
func (o *Orchestrator) AnalyzeVideo(ctx context.Context, blob string, role domain.VideoRole, clipNumber int) (ingest.Target, error) {
	target, err := o.tracker.StartAnalysis(ctx, blob, role, clipNumber)
	if err != nil {
		return target, err
	}
	o.hooks.Emit(ctx, hooks.EventAnalysisStarted, map[string]any{
		"session_id": o.model.SessionID(),
		"role":       string(role),
	})
	return target, nil
}

// CaptureClip uploads a finished recording as a practice clip and immediately
// starts its analysis. This is the path the recordings watcher feeds.
func (o *Orchestrator) CaptureClip(ctx context.Context, path, focusHint string) (ingest.Target, error) {
	signed, err := o.client.UploadFile(ctx, path)
	if err != nil {
		return ingest.Target{}, err
	}
	n := o.model.AddPracticeClip(signed.DownloadURL, signed.Filename, focusHint)
	o.hooks.Emit(ctx, hooks.EventClipCaptured, map[string]any{
		"session_id":  o.model.SessionID(),
		"clip_number": n,
		"blob":        signed.Filename,
	})
	return o.AnalyzeVideo(ctx, signed.Filename, domain.RolePractice, n)
}

// EvaluateFix uploads a fix clip and judges it against one feedback item.
func (o *Orchestrator) EvaluateFix(ctx context.Context, path string, index int) (ingest.Target, error) {
	if _, ok := o.model.Feedback().Item(index); !ok {
		return ingest.Target{}, fmt.Errorf("no feedback item %d", index)
	}
	signed, err := o.client.UploadFile(ctx, path)
	if err != nil {
		return ingest.Target{}, err
	}
	return o.tracker.StartFix(ctx, signed.DownloadURL, signed.Filename, index)
}

// MarkItem applies a user-initiated fix-status change (skip, mark fixed,
// try again) outside the evaluation flow.
func (o *Orchestrator) MarkItem(index int, status domain.FixStatus) bool {
	return o.model.MarkItemStatus(index, status)
}

// handleOutcome is the tracker's terminal callback: it emits lifecycle hooks,
// refreshes the coach's context, and fires the auto-open edge, then forwards
// the outcome to the display handler.
func (o *Orchestrator) handleOutcome(out ingest.Outcome) {
	ctx := context.Background()
	switch {
	case out.Stale || out.Superseded:
		o.log.Debug().Str("target", out.Target.String()).
			Bool("stale", out.Stale).Bool("superseded", out.Superseded).
			Msg("ingestion outcome discarded")
	case out.Err != "":
		o.log.Warn().Str("target", out.Target.String()).Str("error", out.Err).Msg("ingestion failed")
	case out.Analysis != nil:
		o.hooks.Emit(ctx, hooks.EventAnalysisCompleted, map[string]any{
			"session_id": o.model.SessionID(),
			"role":       string(out.Target.Role),
			"score":      out.Analysis.OverallScore,
		})
		o.afterAnalysis(ctx)
	case out.Fix != nil:
		o.hooks.Emit(ctx, hooks.EventFixEvaluated, map[string]any{
			"session_id": o.model.SessionID(),
			"index":      out.Target.Index,
			"is_fixed":   out.Fixed,
		})
	}

	if h := o.handlers.OnOutcome; h != nil {
		h(out)
	}
}

// afterAnalysis runs once an analysis result lands: a live coach gets a fresh
// context snapshot; otherwise the first result of the session opens the coach
// automatically. The edge fires once per session, not per result.
func (o *Orchestrator) afterAnalysis(ctx context.Context) {
	view, ok := o.model.ActiveView()
	if !ok {
		return
	}

	o.mu.Lock()
	ch := o.channel
	first := !o.resultSeen
	o.resultSeen = true
	o.mu.Unlock()

	if ch != nil {
		if err := ch.QueueContext(view); err != nil {
			o.log.Warn().Err(err).Msg("coach context refresh failed")
		}
		return
	}
	if first && o.autoOpen {
		o.log.Info().Msg("first result of the session, opening coach")
		if err := o.ConnectCoach(ctx); err != nil {
			o.log.Warn().Err(err).Msg("coach auto-open failed")
		}
	}
}

// ConnectCoach opens (or re-opens) the coach channel for the active session.
func (o *Orchestrator) ConnectCoach(ctx context.Context) error {
	o.mu.Lock()
	ch := o.channel
	if ch == nil {
		ch = o.newChannel(o.model.SessionID(), o.channelHandlers())
		o.channel = ch
	}
	o.mu.Unlock()

	if view, ok := o.model.ActiveView(); ok {
		if err := ch.QueueContext(view); err != nil {
			o.log.Warn().Err(err).Msg("queuing coach context failed")
		}
	}
	return ch.Connect(ctx)
}

// CloseCoach tears the channel down deliberately; no reconnect follows.
func (o *Orchestrator) CloseCoach() {
	o.dropChannel()
}

// CoachStatus reports the channel state; disconnected when none exists.
func (o *Orchestrator) CoachStatus() coach.ChannelStatus {
	o.mu.Lock()
	ch := o.channel
	o.mu.Unlock()
	if ch == nil {
		return coach.ChannelStatus{State: coach.StateDisconnected, SessionID: o.model.SessionID()}
	}
	return ch.Status()
}

// SendChat delivers one user message to the coach.
func (o *Orchestrator) SendChat(text string) error {
	o.mu.Lock()
	ch := o.channel
	o.mu.Unlock()
	if ch == nil {
		return coach.ErrNotConnected
	}
	return ch.SendText(text)
}

// Close shuts the coach channel down. In-flight ingestion sequences finish
// through their own contexts.
func (o *Orchestrator) Close() error {
	o.dropChannel()
	return nil
}

func (o *Orchestrator) dropChannel() {
	o.mu.Lock()
	ch := o.channel
	o.channel = nil
	o.mu.Unlock()
	// Close drives the state handler, which emits the disconnect hook while
	// the old session id is still current.
	if ch != nil {
		ch.Close()
	}
}

func (o *Orchestrator) channelHandlers() coach.Handlers {
	return coach.Handlers{
		OnConnected: func(f coach.Frame) {
			o.hooks.Emit(context.Background(), hooks.EventCoachConnected, map[string]any{
				"session_id":   o.model.SessionID(),
				"capabilities": f.Capabilities,
			})
		},
		OnText: func(s string) {
			if h := o.handlers.OnCoachText; h != nil {
				h(s)
			}
		},
		OnTurn: func(s string) {
			if h := o.handlers.OnCoachTurn; h != nil {
				h(s)
			}
		},
		OnToolCall: o.handleToolCall,
		OnRemoteError: func(msg string) {
			o.log.Warn().Str("message", msg).Msg("coach error")
			if h := o.handlers.OnCoachError; h != nil {
				h(msg)
			}
		},
		OnStateChange: o.handleCoachState,
	}
}

// handleToolCall dispatches one tool_call frame and answers it. Runs on the
// channel's read goroutine; handlers touch only advisory state, so dispatch
// is quick.
func (o *Orchestrator) handleToolCall(f coach.Frame) {
	result := o.dispatch.Dispatch(context.Background(), f)

	o.mu.Lock()
	ch := o.channel
	o.mu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.SendToolResult(result.ID, result.Name, result.Result, result.IsError); err != nil {
		o.log.Warn().Err(err).Str("tool", result.Name).Msg("tool result delivery failed")
	}
}

func (o *Orchestrator) handleCoachState(s coach.State) {
	o.mu.Lock()
	prev := o.coachState
	o.coachState = s
	o.mu.Unlock()

	if prev == coach.StateConnected && s != coach.StateConnected {
		o.hooks.Emit(context.Background(), hooks.EventCoachDisconnected, map[string]any{
			"session_id": o.model.SessionID(),
			"state":      string(s),
		})
	}
	if h := o.handlers.OnCoachState; h != nil {
		h(s)
	}
}
