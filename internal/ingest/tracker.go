package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/logging"
	"github.com/fermata-app/fermata/internal/session"
)

// StatusParseError is the local status shown when a complete payload fails
// to parse. The sequence is finished, nothing is applied, nothing retries.
const StatusParseError = "Analysis complete (parsing error)"

// TargetKind separates the two request kinds.
type TargetKind string

const (
	TargetAnalysis TargetKind = "analysis"
	TargetFix      TargetKind = "fix"
)

// Target identifies what a request mutates: one video slot (by role, plus
// clip number for practice) or one feedback item (by index). Admission
// control allows one in-flight sequence per target.
type Target struct {
	Kind  TargetKind
	Role  domain.VideoRole
	Clip  int
	Index int
}

func (t Target) String() string {
	switch t.Kind {
	case TargetFix:
		return fmt.Sprintf("fix:%d", t.Index)
	default:
		if t.Role == domain.RolePractice {
			return fmt.Sprintf("analysis:practice:%d", t.Clip)
		}
		return fmt.Sprintf("analysis:%s", t.Role)
	}
}

// Progress is a display-facing snapshot of an in-flight request.
type Progress struct {
	Target   Target
	Status   string // latest status line; replaced, never accumulated
	Thinking string // reasoning transcript, appended verbatim
	Partial  string // narration, accumulated for display only
}

// Outcome is the terminal disposition of one request.
type Outcome struct {
	Target     Target
	Analysis   *domain.AnalysisResult // set when an analysis applied
	Fix        *domain.FixResult      // set when a fix evaluation applied
	Fixed      bool                   // fix verdict
	Err        string                 // surfaced failure text, empty otherwise
	Stale      bool                   // discarded: session switched in flight
	Superseded bool                   // canceled: a newer request took the target
}

// Tracker owns in-flight streaming requests. It tags each request with the
// session generation at issue time, enforces one sequence per target by
// superseding, and applies terminal payloads to the model.
type Tracker struct {
	mu       sync.Mutex
	log      *logging.Logger
	client   Streamer
	model    *session.Model
	inflight map[string]*inflight

	onProgress func(Progress)
	onOutcome  func(Outcome)
}

type inflight struct {
	target     Target
	gen        uint64
	cancel     context.CancelFunc
	superseded atomic.Bool

	// Clip references recorded on the judged item when a fix succeeds.
	clipURL  string
	clipBlob string

	// Mutated only by the request's own read goroutine.
	status   string
	thinking string
	partial  string
}

// NewTracker wires a tracker over a streaming client and the session model.
func NewTracker(client Streamer, model *session.Model, log *logging.Logger) *Tracker {
	if log == nil {
		log = logging.Nop()
	}
	return &Tracker{
		log:      log.Sub("ingest"),
		client:   client,
		model:    model,
		inflight: make(map[string]*inflight),
	}
}

// OnProgress registers the handler for display updates. Called from request
// goroutines; the handler must be safe for concurrent use.
func (t *Tracker) OnProgress(fn func(Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onProgress = fn
}

// OnOutcome registers the handler for terminal dispositions.
func (t *Tracker) OnOutcome(fn func(Outcome)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOutcome = fn
}

// Active returns the targets with a sequence currently in flight.
func (t *Tracker) Active() []Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	targets := make([]Target, 0, len(t.inflight))
	for _, inf := range t.inflight {
		targets = append(targets, inf.target)
	}
	return targets
}

// StartAnalysis issues a full-analysis sequence for a video slot. A request
// already in flight against the same target is superseded: its context is
// canceled and its eventual exit is reported as superseded, not failed.
func (t *Tracker) StartAnalysis(ctx context.Context, blob string, role domain.VideoRole, clipNumber int) (Target, error) {
	if !role.Valid() {
		return Target{}, fmt.Errorf("ingest: unknown video role %q", role)
	}
	target := Target{Kind: TargetAnalysis, Role: role, Clip: clipNumber}

	req := AnalyzeRequest{
		VideoURL:  blob,
		SessionID: t.model.SessionID(),
		VideoType: role,
	}
	return target, t.launch(ctx, target, func(ctx context.Context) (<-chan Event, error) {
		return t.client.StreamAnalysis(ctx, req)
	}, "", "")
}

// StartFix issues a fix-evaluation sequence judging a clip against one
// feedback item.
func (t *Tracker) StartFix(ctx context.Context, clipURL, clipBlob string, index int) (Target, error) {
	if index < 0 || index >= t.model.Feedback().Len() {
		return Target{}, fmt.Errorf("ingest: no feedback item %d", index)
	}
	target := Target{Kind: TargetFix, Index: index}

	req := FixRequest{
		VideoURL:      clipBlob,
		SessionID:     t.model.SessionID(),
		FeedbackIndex: index,
	}
	return target, t.launch(ctx, target, func(ctx context.Context) (<-chan Event, error) {
		return t.client.StreamFix(ctx, req)
	}, clipURL, clipBlob)
}

func (t *Tracker) launch(ctx context.Context, target Target, open func(context.Context) (<-chan Event, error), clipURL, clipBlob string) error {
	ctx, cancel := context.WithCancel(ctx)
	inf := &inflight{
		target:   target,
		gen:      t.model.Generation(),
		cancel:   cancel,
		clipURL:  clipURL,
		clipBlob: clipBlob,
	}

	events, err := open(ctx)
	if err != nil {
		cancel()
		return err
	}

	key := target.String()
	t.mu.Lock()
	if prev, ok := t.inflight[key]; ok {
		prev.superseded.Store(true)
		prev.cancel()
		t.log.Debug().Str("target", key).Msg("superseding in-flight request")
	}
	t.inflight[key] = inf
	t.mu.Unlock()

	go t.run(ctx, inf, events)
	return nil
}

func (t *Tracker) run(ctx context.Context, inf *inflight, events <-chan Event) {
	out := t.consume(ctx, inf, events)
	// Free the target before announcing the outcome, so a handler that
	// immediately issues a follow-up request is not seen as superseding.
	t.remove(inf)
	inf.cancel()
	t.finish(out)
}

func (t *Tracker) consume(ctx context.Context, inf *inflight, events <-chan Event) Outcome {
	for {
		select {
		case <-ctx.Done():
			return t.abandoned(inf)
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return t.abandoned(inf)
				}
				return Outcome{Target: inf.target, Err: "stream ended unexpectedly"}
			}
			if out, done := t.apply(inf, ev); done {
				return out
			}
		}
	}
}

// apply folds one event into the request state. done is true on a terminal
// event, after which the sequence is finished.
func (t *Tracker) apply(inf *inflight, ev Event) (out Outcome, done bool) {
	switch ev.Type {
	case EventStatus:
		inf.status = ev.Content
		t.progress(inf)
	case EventThinking:
		inf.thinking += ev.Content
		t.progress(inf)
	case EventPartial:
		inf.partial += ev.Content
		t.progress(inf)
	case EventError:
		return Outcome{Target: inf.target, Err: ev.Content}, true
	case EventComplete:
		return t.complete(inf, ev.Content), true
	default:
		t.log.Warn().Str("type", string(ev.Type)).Msg("ignoring unknown stream event")
	}
	return Outcome{}, false
}

func (t *Tracker) complete(inf *inflight, payload string) Outcome {
	switch inf.target.Kind {
	case TargetFix:
		res, err := domain.ParseFixResult(payload)
		if err != nil {
			return t.parseFailed(inf, err)
		}
		fixed, applyErr := t.model.ApplyFixResult(inf.gen, inf.target.Index, res, inf.clipURL, inf.clipBlob)
		if applyErr == session.ErrStaleGeneration {
			return Outcome{Target: inf.target, Stale: true}
		}
		return Outcome{Target: inf.target, Fix: res, Fixed: fixed}
	default:
		res, err := domain.ParseAnalysisResult(payload)
		if err != nil {
			return t.parseFailed(inf, err)
		}
		applyErr := t.model.ApplyAnalysis(inf.gen, inf.target.Role, inf.target.Clip, res)
		if applyErr == session.ErrStaleGeneration {
			return Outcome{Target: inf.target, Stale: true}
		}
		if applyErr != nil {
			return Outcome{Target: inf.target, Err: applyErr.Error()}
		}
		return Outcome{Target: inf.target, Analysis: res}
	}
}

func (t *Tracker) parseFailed(inf *inflight, err error) Outcome {
	t.log.Warn().Err(err).Str("target", inf.target.String()).Msg("terminal payload failed to parse")
	inf.status = StatusParseError
	t.progress(inf)
	return Outcome{Target: inf.target, Err: StatusParseError}
}

func (t *Tracker) abandoned(inf *inflight) Outcome {
	if inf.superseded.Load() {
		return Outcome{Target: inf.target, Superseded: true}
	}
	// Parent context canceled (shutdown, session teardown). Quiet exit.
	return Outcome{Target: inf.target}
}

func (t *Tracker) progress(inf *inflight) {
	t.mu.Lock()
	fn := t.onProgress
	t.mu.Unlock()
	if fn != nil {
		fn(Progress{
			Target:   inf.target,
			Status:   inf.status,
			Thinking: inf.thinking,
			Partial:  inf.partial,
		})
	}
}

func (t *Tracker) finish(out Outcome) {
	t.mu.Lock()
	fn := t.onOutcome
	t.mu.Unlock()
	if fn != nil {
		fn(out)
	}
}

func (t *Tracker) remove(inf *inflight) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inflight[inf.target.String()] == inf {
		delete(t.inflight, inf.target.String())
	}
}
