package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/logging"
)

const (
	defaultGeminiModel   = "gemini-3-pro-preview"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

	// File processing poll settings, matching the upload flow's 2 minute cap.
	filePollInterval = 2 * time.Second
	filePollMax      = 120 * time.Second
)

// GeminiOptions configures the Gemini backend.
type GeminiOptions struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature *float32
}

// Gemini is a direct HTTP client for the Gemini API: Files API upload for
// videos and streamGenerateContent SSE for both analysis and coach turns.
type Gemini struct {
	opts   GeminiOptions
	client *http.Client
	log    *logging.Logger
}

// NewGemini creates a Gemini backend.
func NewGemini(opts GeminiOptions, log *logging.Logger) *Gemini {
	if log == nil {
		log = logging.Nop()
	}
	if opts.Model == "" {
		opts.Model = defaultGeminiModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultGeminiBaseURL
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	return &Gemini{
		opts: opts,
		// Video upload plus analysis runs long; rely on ctx for cancellation.
		client: &http.Client{Timeout: 10 * time.Minute},
		log:    log.Sub("model.gemini"),
	}
}

// Name returns the backend name.
func (g *Gemini) Name() string { return "gemini" }

// AnalyzeVideo uploads the video to the Files API, waits for processing, and
// streams the analysis: status, thinking, delta narration, then one complete
// carrying the JSON payload with the thought signature injected.
func (g *Gemini) AnalyzeVideo(ctx context.Context, req AnalysisRequest) (<-chan Event, error) {
	if req.VideoPath == "" {
		return nil, &ProviderError{Provider: "gemini", Message: "analysis request missing video path"}
	}
	ch := make(chan Event, 8)
	go g.analyze(ctx, ch, req)
	return ch, nil
}

func (g *Gemini) analyze(ctx context.Context, ch chan Event, req AnalysisRequest) {
	defer close(ch)

	emit := func(ev Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(Event{Type: EventStatus, Content: "Uploading video to AI..."}) {
		return
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "video/mp4"
	}

	file, err := g.uploadFile(ctx, req.VideoPath, mimeType)
	if err != nil {
		emit(Event{Type: EventError, Err: err, Content: err.Error()})
		return
	}
	defer g.deleteFile(file.Name)

	if err := g.waitActive(ctx, file); err != nil {
		emit(Event{Type: EventError, Err: err, Content: err.Error()})
		return
	}

	if !emit(Event{Type: EventStatus, Content: "Analyzing performance..."}) {
		return
	}

	prompt := req.Prompt
	if req.PriorSignature != "" {
		prompt += "\n\nContinuation token from your previous analysis of this session: " + req.PriorSignature
	}

	body := map[string]any{
		"contents": []map[string]any{{
			"role": "user",
			"parts": []map[string]any{
				{"fileData": map[string]any{"fileUri": file.URI, "mimeType": file.MimeType}},
				{"text": prompt},
			},
		}},
		"generationConfig": g.generationConfig(map[string]any{
			"thinkingConfig": map[string]any{"includeThoughts": true},
		}),
	}

	var (
		responseText strings.Builder
		thoughtText  strings.Builder
		nativeSig    string
	)

	err = g.stream(ctx, body, func(part geminiPart) bool {
		if part.ThoughtSignature != "" && nativeSig == "" {
			nativeSig = nativeSignature(part.ThoughtSignature)
			g.log.Debug().Str("signature", nativeSig).Msg("captured thought signature")
		}
		switch {
		case part.Thought && part.Text != "":
			thoughtText.WriteString(part.Text)
			return emit(Event{Type: EventThinking, Content: part.Text})
		case part.Text != "":
			responseText.WriteString(part.Text)
			return emit(Event{Type: EventDelta, Content: part.Text})
		}
		return true
	})
	if err != nil {
		emit(Event{Type: EventError, Err: err, Content: err.Error()})
		return
	}

	signature := nativeSig
	if signature == "" {
		if thoughtText.Len() > 0 {
			signature = SynthSignature(thoughtText.String())
		} else {
			signature = SynthSignature(responseText.String())
		}
	}

	emit(Event{Type: EventComplete, Content: injectSignature(responseText.String(), signature)})
}

// CoachTurn streams one coaching turn: text deltas and tool calls.
func (g *Gemini) CoachTurn(ctx context.Context, req CoachRequest) (<-chan Event, error) {
	body, err := g.coachBody(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan Event, 8)
	go func() {
		defer close(ch)
		emit := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		err := g.stream(ctx, body, func(part geminiPart) bool {
			switch {
			case part.FunctionCall != nil:
				return emit(Event{Type: EventToolCall, ToolCall: &ToolCall{
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				}})
			case part.Thought && part.Text != "":
				return emit(Event{Type: EventThinking, Content: part.Text})
			case part.Text != "":
				return emit(Event{Type: EventDelta, Content: part.Text})
			}
			return true
		})
		if err != nil {
			emit(Event{Type: EventError, Err: err, Content: err.Error()})
		}
	}()
	return ch, nil
}

func (g *Gemini) coachBody(req CoachRequest) (map[string]any, error) {
	contents := make([]map[string]any, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			parts := make([]map[string]any, 0, 1+len(msg.ToolResults))
			for _, tr := range msg.ToolResults {
				parts = append(parts, map[string]any{
					"functionResponse": map[string]any{
						"name":     tr.Name,
						"response": tr.Result,
					},
				})
			}
			if msg.Content != "" {
				parts = append(parts, map[string]any{"text": msg.Content})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, map[string]any{"role": "user", "parts": parts})
		case RoleAssistant:
			parts := make([]map[string]any, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				parts = append(parts, map[string]any{"text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, map[string]any{
					"functionCall": map[string]any{
						"name": tc.Name,
						"args": tc.Args,
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, map[string]any{"role": "model", "parts": parts})
		default:
			return nil, fmt.Errorf("unknown message role %q", msg.Role)
		}
	}

	genCfg := g.generationConfig(nil)
	if req.MaxTokens > 0 {
		genCfg["maxOutputTokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		genCfg["temperature"] = *req.Temperature
	}

	body := map[string]any{
		"contents":         contents,
		"generationConfig": genCfg,
	}
	if req.System != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.System}},
		}
	}
	if len(req.Tools) > 0 {
		decls := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.InputSchema,
			}
		}
		body["tools"] = []map[string]any{{"functionDeclarations": decls}}
	}
	return body, nil
}

func (g *Gemini) generationConfig(extra map[string]any) map[string]any {
	cfg := map[string]any{"maxOutputTokens": g.opts.MaxTokens}
	if g.opts.Temperature != nil {
		cfg["temperature"] = *g.opts.Temperature
	}
	for k, v := range extra {
		cfg[k] = v
	}
	return cfg
}

// stream POSTs a streamGenerateContent request and feeds every response part
// to fn until the stream ends or fn returns false.
func (g *Gemini) stream(ctx context.Context, body map[string]any, fn func(geminiPart) bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s",
		g.opts.BaseURL, g.opts.Model, url.QueryEscape(g.opts.APIKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return &ProviderError{Provider: "gemini", Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	scanner := bufio.NewScanner(resp.Body)
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

		var chunk geminiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, cand := range chunk.Candidates {
			for _, part := range cand.Content.Parts {
				if !fn(part) {
					return nil
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading gemini stream: %w", err)
	}
	return nil
}

// uploadFile pushes a local file through the resumable Files API: a start
// request yields the upload URL, then one upload+finalize request carries
// the bytes.
func (g *Gemini) uploadFile(ctx context.Context, path, mimeType string) (*geminiFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening video: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat video: %w", err)
	}

	startBody, err := json.Marshal(map[string]any{
		"file": map[string]any{"display_name": filepath.Base(path)},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling upload start: %w", err)
	}

	startURL := fmt.Sprintf("%s/upload/v1beta/files?key=%s", g.opts.BaseURL, url.QueryEscape(g.opts.APIKey))
	startReq, err := http.NewRequestWithContext(ctx, http.MethodPost, startURL, bytes.NewReader(startBody))
	if err != nil {
		return nil, fmt.Errorf("creating upload start: %w", err)
	}
	startReq.Header.Set("X-Goog-Upload-Protocol", "resumable")
	startReq.Header.Set("X-Goog-Upload-Command", "start")
	startReq.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.FormatInt(info.Size(), 10))
	startReq.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)
	startReq.Header.Set("Content-Type", "application/json")

	startResp, err := g.client.Do(startReq)
	if err != nil {
		return nil, fmt.Errorf("upload start: %w", err)
	}
	io.Copy(io.Discard, startResp.Body)
	startResp.Body.Close()

	if startResp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: "gemini", Code: startResp.StatusCode, Message: "file upload start rejected"}
	}
	uploadURL := startResp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return nil, &ProviderError{Provider: "gemini", Message: "upload start returned no upload url"}
	}

	uploadReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, f)
	if err != nil {
		return nil, fmt.Errorf("creating upload: %w", err)
	}
	uploadReq.ContentLength = info.Size()
	uploadReq.Header.Set("X-Goog-Upload-Command", "upload, finalize")
	uploadReq.Header.Set("X-Goog-Upload-Offset", "0")

	uploadResp, err := g.client.Do(uploadReq)
	if err != nil {
		return nil, fmt.Errorf("uploading video: %w", err)
	}
	defer uploadResp.Body.Close()

	if uploadResp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(uploadResp.Body)
		return nil, &ProviderError{Provider: "gemini", Code: uploadResp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	var result struct {
		File geminiFile `json:"file"`
	}
	if err := json.NewDecoder(uploadResp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parsing upload response: %w", err)
	}

	g.log.Info().Str("file", result.File.Name).Str("state", result.File.State).Msg("video uploaded")
	return &result.File, nil
}

// waitActive polls the file until processing completes.
func (g *Gemini) waitActive(ctx context.Context, file *geminiFile) error {
	deadline := time.Now().Add(filePollMax)
	for file.State != "ACTIVE" {
		if file.State == "FAILED" {
			return &ProviderError{Provider: "gemini", Message: "file processing failed"}
		}
		if time.Now().After(deadline) {
			return &ProviderError{Provider: "gemini", Message: fmt.Sprintf("file processing timed out after %s", filePollMax)}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(filePollInterval):
		}

		fresh, err := g.getFile(ctx, file.Name)
		if err != nil {
			return err
		}
		*file = *fresh
	}
	return nil
}

func (g *Gemini) getFile(ctx context.Context, name string) (*geminiFile, error) {
	endpoint := fmt.Sprintf("%s/v1beta/%s?key=%s", g.opts.BaseURL, name, url.QueryEscape(g.opts.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating file get: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: "gemini", Code: resp.StatusCode, Message: "file status check failed"}
	}

	var file geminiFile
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing file status: %w", err)
	}
	return &file, nil
}

// deleteFile removes an uploaded file. Best effort, runs after analysis.
func (g *Gemini) deleteFile(name string) {
	if name == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1beta/%s?key=%s", g.opts.BaseURL, name, url.QueryEscape(g.opts.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return
	}
	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Warn().Err(err).Str("file", name).Msg("file cleanup failed")
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// nativeSignature converts a base64 thought signature into the stored form:
// the first 16 bytes, hex encoded, under a gts_ prefix.
func nativeSignature(b64 string) string {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil || len(raw) == 0 {
		return ""
	}
	if len(raw) > 16 {
		raw = raw[:16]
	}
	return "gts_" + hex.EncodeToString(raw)
}

// injectSignature adds the thought signature to a parsed analysis payload.
// Unparseable text passes through untouched so the client can surface the
// parse failure itself.
func injectSignature(text, signature string) string {
	stripped := domain.StripCodeFence(text)

	var payload map[string]any
	if err := json.Unmarshal([]byte(stripped), &payload); err != nil {
		return text
	}
	payload["thought_signature"] = signature

	out, err := json.Marshal(payload)
	if err != nil {
		return text
	}
	return string(out)
}

// Wire structures for the Gemini REST API.

type geminiFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	State    string `json:"state"`
}

type geminiStreamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

type geminiPart struct {
	Text             string `json:"text,omitempty"`
	Thought          bool   `json:"thought,omitempty"`
	ThoughtSignature string `json:"thoughtSignature,omitempty"`
	FunctionCall     *struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"functionCall,omitempty"`
}
