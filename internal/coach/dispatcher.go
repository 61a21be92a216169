package coach

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/fermata-app/fermata/internal/logging"
)

// HandlerFunc executes one decoded tool call and returns the result map.
type HandlerFunc func(ctx context.Context, call Call) (map[string]any, error)

// Dispatcher routes tool_call frames to registered handlers. Every dispatch
// produces exactly one tool_result frame: unknown tools, bad arguments,
// handler errors, and handler panics all answer with an error result instead
// of dropping the call.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	log      *logging.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Nop()
	}
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		log:      log.Sub("coach.dispatch"),
	}
}

// Register adds a handler for one tool.
func (d *Dispatcher) Register(name string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = fn
}

// Handles reports whether a handler is registered for the tool.
func (d *Dispatcher) Handles(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[name]
	return ok
}

// Dispatch answers one tool_call frame with exactly one tool_result frame.
func (d *Dispatcher) Dispatch(ctx context.Context, frame Frame) Frame {
	id := frame.ID
	if id == "" {
		id = uuid.New().String()
	}
	name := frame.Name

	errorResult := func(msg string) Frame {
		return NewToolResultFrame(id, name, map[string]any{"error": msg}, true)
	}

	args, err := frame.ArgsMap()
	if err != nil {
		d.log.Warn().Err(err).Str("tool", name).Msg("malformed tool arguments")
		return errorResult("malformed arguments: " + err.Error())
	}

	d.mu.RLock()
	handler := d.handlers[name]
	d.mu.RUnlock()

	if _, known := SpecFor(name); !known {
		d.log.Warn().Str("tool", name).Msg("unknown tool requested")
		return errorResult(fmt.Sprintf("unknown tool %q", name))
	}
	if handler == nil {
		d.log.Warn().Str("tool", name).Msg("no handler registered for tool")
		return errorResult(fmt.Sprintf("no handler for tool %q", name))
	}

	if err := ValidateArgs(name, args); err != nil {
		d.log.Warn().Err(err).Str("tool", name).Msg("tool arguments rejected")
		return errorResult(err.Error())
	}

	call := DecodeCall(name, args)

	// The schema bounds wire values, but args built in-process can carry
	// non-JSON floats.
	if sv, ok := call.(SeekVideo); ok {
		if math.IsNaN(sv.TimestampSeconds) || math.IsInf(sv.TimestampSeconds, 0) || sv.TimestampSeconds < 0 {
			d.log.Warn().Float64("timestamp", sv.TimestampSeconds).Msg("seek rejected")
			return errorResult("timestamp_seconds must be a finite number >= 0")
		}
	}

	result, err := d.invoke(ctx, handler, call)
	if err != nil {
		d.log.Warn().Err(err).Str("tool", name).Msg("tool handler failed")
		return errorResult(err.Error())
	}
	if result == nil {
		result = map[string]any{"status": "ok"}
	}
	return NewToolResultFrame(id, name, result, false)
}

// invoke runs one handler, converting a panic into an error so a bad handler
// cannot take down the frame loop.
func (d *Dispatcher) invoke(ctx context.Context, handler HandlerFunc, call Call) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool handler panic: %v", r)
		}
	}()
	return handler(ctx, call)
}
