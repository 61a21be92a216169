package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fermata-app/fermata/internal/logging"
)

// ErrNotConnected is returned when sending on a closed channel.
var ErrNotConnected = errors.New("coach channel not connected")

// State is the channel's connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	// StateTerminal means reconnect attempts are exhausted; only an explicit
	// Connect leaves this state.
	StateTerminal State = "terminal"
)

// ChannelStatus is a snapshot of the channel's runtime state.
type ChannelStatus struct {
	State     State  `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Options configures a coach channel client.
type Options struct {
	URL           string // coach endpoint; http(s) schemes are converted to ws(s)
	SessionID     string
	Token         string
	ReconnectBase time.Duration // linear backoff base; default 2s
	MaxAttempts   int           // connect attempts per cycle before terminal; default 5
	Dialer        *websocket.Dialer
}

// Handlers are the callbacks a channel owner registers. All fire from the
// channel's goroutines; handlers must not block for long.
type Handlers struct {
	OnConnected   func(Frame)  // server's connected frame, capabilities included
	OnText        func(string) // each raw text chunk, for live rendering
	OnTurn        func(string) // concatenated text turn, flushed on a non-text frame or close
	OnToolCall    func(Frame)  // tool_call frames, typically fed to a Dispatcher
	OnRemoteError func(string)
	OnStateChange func(State)
}

// Channel is the client end of the tool-call WebSocket. It owns the
// connection, buffers consecutive text frames into turns, and reconnects
// with linear backoff: attempt n in a cycle waits n × base, and after
// MaxAttempts consecutive failures the channel goes terminal until the next
// explicit Connect.
type Channel struct {
	opts     Options
	handlers Handlers
	log      *logging.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	attempts   int
	lastErr    string
	manual     bool // closed deliberately; suppresses reconnect
	timer      *time.Timer
	gen        int // connection generation, guards stale read loops
	turn       strings.Builder
	pendingCtx json.RawMessage
}

// NewChannel creates a channel client. It does not connect.
func NewChannel(opts Options, handlers Handlers, log *logging.Logger) *Channel {
	if log == nil {
		log = logging.Nop()
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 2 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Channel{
		opts:     opts,
		handlers: handlers,
		state:    StateDisconnected,
		log:      log.Sub("coach.channel"),
	}
}

// Connect starts a fresh connection cycle, resetting the attempt counter.
// A terminal channel becomes usable again only through this call.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.attempts = 0
	c.manual = false
	c.lastErr = ""
	c.stopTimerLocked()
	c.mu.Unlock()

	return c.dial(ctx)
}

// Close shuts the channel down deliberately: no reconnect is scheduled. The
// local side is closed synchronously; the peer's close handshake is best
// effort.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.manual = true
	c.stopTimerLocked()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.flushTurn()
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
	c.transition(StateDisconnected)
	return nil
}

// Status returns a snapshot of the channel state.
func (c *Channel) Status() ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChannelStatus{
		State:     c.state,
		SessionID: c.opts.SessionID,
		Attempts:  c.attempts,
		LastError: c.lastErr,
	}
}

// SendText sends one user chat message.
func (c *Channel) SendText(content string) error {
	return c.send(NewTextFrame(content))
}

// SendToolResult answers one tool call.
func (c *Channel) SendToolResult(id, name string, result map[string]any, isError bool) error {
	return c.send(NewToolResultFrame(id, name, result, isError))
}

// QueueContext stages an analysis snapshot for the coach. It is flushed once
// after the next connected frame; if the channel is already up it is sent
// immediately.
func (c *Channel) QueueContext(analysis any) error {
	raw, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("encoding context: %w", err)
	}

	c.mu.Lock()
	connected := c.state == StateConnected && c.conn != nil
	if !connected {
		c.pendingCtx = raw
	}
	c.mu.Unlock()

	if connected {
		return c.send(Frame{Type: FrameContext, Analysis: raw})
	}
	return nil
}

func (c *Channel) send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(f)
}

func (c *Channel) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.manual {
		c.mu.Unlock()
		return nil
	}
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	c.transition(StateConnecting)
	c.log.Debug().Int("attempt", attempt).Str("session", c.opts.SessionID).Msg("dialing coach channel")

	conn, resp, err := c.dialer().DialContext(ctx, c.endpoint(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		c.lastErr = err.Error()
		c.mu.Unlock()
		c.scheduleReconnect()
		return fmt.Errorf("coach dial: %w", err)
	}

	c.mu.Lock()
	if c.manual {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.attempts = 0
	c.lastErr = ""
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.transition(StateConnected)
	go c.readLoop(conn, gen)
	return nil
}

// scheduleReconnect arms the retry timer after a failed dial or an
// unexpected closure. Attempt n waits n × base; past MaxAttempts the channel
// goes terminal.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	if c.manual {
		c.mu.Unlock()
		c.transition(StateDisconnected)
		return
	}
	next := c.attempts + 1
	if next > c.opts.MaxAttempts {
		c.mu.Unlock()
		c.log.Warn().Int("attempts", c.opts.MaxAttempts).Msg("coach reconnect attempts exhausted")
		c.transition(StateTerminal)
		return
	}
	delay := time.Duration(next) * c.opts.ReconnectBase
	c.stopTimerLocked()
	c.mu.Unlock()

	c.transition(StateDisconnected)
	c.log.Info().Int("attempt", next).Dur("delay", delay).Msg("scheduling coach reconnect")

	c.mu.Lock()
	if c.manual {
		c.mu.Unlock()
		return
	}
	c.timer = time.AfterFunc(delay, func() {
		c.dial(context.Background())
	})
	c.mu.Unlock()
}

func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(gen, err)
			return
		}

		frame, perr := ParseFrame(data)
		if perr != nil {
			c.log.Warn().Err(perr).Msg("dropping malformed coach frame")
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Channel) handleFrame(f Frame) {
	switch f.Type {
	case FrameConnected:
		c.log.Info().Strs("capabilities", f.Capabilities).Msg("coach channel ready")
		c.flushPendingContext()
		if h := c.handlers.OnConnected; h != nil {
			h(f)
		}

	case FrameText:
		c.mu.Lock()
		c.turn.WriteString(f.Content)
		c.mu.Unlock()
		if h := c.handlers.OnText; h != nil {
			h(f.Content)
		}

	case FrameToolCall:
		c.flushTurn()
		if h := c.handlers.OnToolCall; h != nil {
			h(f)
		}

	case FrameError:
		c.flushTurn()
		c.mu.Lock()
		c.lastErr = f.Message
		c.mu.Unlock()
		c.log.Warn().Str("message", f.Message).Msg("coach reported an error")
		if h := c.handlers.OnRemoteError; h != nil {
			h(f.Message)
		}

	default:
		c.log.Debug().Str("type", f.Type).Msg("ignoring unknown coach frame type")
	}
}

// flushTurn delivers the buffered text turn, if any.
func (c *Channel) flushTurn() {
	c.mu.Lock()
	text := c.turn.String()
	c.turn.Reset()
	c.mu.Unlock()

	if text == "" {
		return
	}
	if h := c.handlers.OnTurn; h != nil {
		h(text)
	}
}

func (c *Channel) flushPendingContext() {
	c.mu.Lock()
	raw := c.pendingCtx
	c.pendingCtx = nil
	c.mu.Unlock()

	if raw == nil {
		return
	}
	if err := c.send(Frame{Type: FrameContext, Analysis: raw}); err != nil {
		c.log.Warn().Err(err).Msg("context flush failed")
	}
}

func (c *Channel) handleDisconnect(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen {
		// A newer connection replaced this one; nothing to do.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	manual := c.manual
	if !manual {
		c.lastErr = err.Error()
	}
	c.mu.Unlock()

	c.flushTurn()
	if manual {
		c.transition(StateDisconnected)
		return
	}
	c.log.Warn().Err(err).Msg("coach channel closed unexpectedly")
	c.scheduleReconnect()
}

func (c *Channel) transition(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	if h := c.handlers.OnStateChange; h != nil {
		h(s)
	}
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Channel) dialer() *websocket.Dialer {
	if c.opts.Dialer != nil {
		return c.opts.Dialer
	}
	return websocket.DefaultDialer
}

// endpoint renders the dial URL: ws scheme, /coach path, session and token
// query parameters.
func (c *Channel) endpoint() string {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return c.opts.URL
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/coach"
	}
	q := u.Query()
	if c.opts.SessionID != "" {
		q.Set("session_id", c.opts.SessionID)
	}
	if c.opts.Token != "" {
		q.Set("token", c.opts.Token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
