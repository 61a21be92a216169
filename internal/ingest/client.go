package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/logging"
)

// AnalyzeRequest asks for a full analysis of one video.
type AnalyzeRequest struct {
	VideoURL  string           `json:"video_url"`
	SessionID string           `json:"session_id,omitempty"`
	VideoType domain.VideoRole `json:"video_type,omitempty"`
}

// FixRequest asks for a fix-evaluation of a clip against one feedback item.
type FixRequest struct {
	VideoURL      string `json:"video_url"`
	SessionID     string `json:"session_id"`
	FeedbackIndex int    `json:"feedback_index"`
}

// Streamer issues the two one-shot streaming request kinds. The returned
// channel yields events in arrival order and closes when the stream ends.
type Streamer interface {
	StreamAnalysis(ctx context.Context, req AnalyzeRequest) (<-chan Event, error)
	StreamFix(ctx context.Context, req FixRequest) (<-chan Event, error)
}

// Client talks to the analysis service's SSE endpoints.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logging.Logger
}

// NewClient creates a streaming client for the given server.
func NewClient(baseURL, token string, log *logging.Logger) *Client {
	if log == nil {
		log = logging.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// No overall timeout: an analysis stream legitimately runs for
		// minutes. Cancellation comes from the request context.
		http: &http.Client{},
		log:  log.Sub("ingest"),
	}
}

// StreamAnalysis issues a full-analysis request.
func (c *Client) StreamAnalysis(ctx context.Context, req AnalyzeRequest) (<-chan Event, error) {
	return c.stream(ctx, "/api/analyze/video/stream", req)
}

// StreamFix issues a fix-evaluation request.
func (c *Client) StreamFix(ctx context.Context, req FixRequest) (<-chan Event, error) {
	return c.stream(ctx, "/api/analyze/fix/stream", req)
}

func (c *Client) stream(ctx context.Context, path string, body any) (<-chan Event, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	events := make(chan Event)
	go c.readStream(ctx, httpReq, events)
	return events, nil
}

func (c *Client) readStream(ctx context.Context, req *http.Request, events chan<- Event) {
	defer close(events)

	send := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		send(Event{Type: EventError, Content: fmt.Sprintf("connection error: %v", err)})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		send(Event{Type: EventError, Content: fmt.Sprintf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))})
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	// Complete payloads carry a whole analysis document on one line.
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.log.Warn().Err(err).Msg("skipping undecodable stream line")
			continue
		}
		if !send(ev) {
			return
		}
		if ev.Terminal() {
			c.log.Debug().Str("path", req.URL.Path).Dur("elapsed", time.Since(start)).Msg("stream finished")
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		send(Event{Type: EventError, Content: fmt.Sprintf("connection error: %v", err)})
	}
}
