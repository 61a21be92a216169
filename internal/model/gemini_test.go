package model

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fermata-app/fermata/internal/domain"
)

func sseChunk(t *testing.T, parts ...map[string]any) string {
	t.Helper()
	chunk := map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": parts, "role": "model"}},
		},
	}
	data, err := json.Marshal(chunk)
	require.NoError(t, err)
	return "data: " + string(data) + "\n\n"
}

func tempVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "take.mp4")
	require.NoError(t, os.WriteFile(path, []byte("fake video bytes"), 0o644))
	return path
}

func TestGeminiAnalyzeVideoStream(t *testing.T) {
	sigRaw := []byte("0123456789abcdefEXTRA")
	sigB64 := base64.StdEncoding.EncodeToString(sigRaw)
	wantSig := "gts_" + hex.EncodeToString(sigRaw[:16])

	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/upload/v1beta/files":
			assert.Equal(t, "resumable", r.Header.Get("X-Goog-Upload-Protocol"))
			assert.Equal(t, "start", r.Header.Get("X-Goog-Upload-Command"))
			w.Header().Set("X-Goog-Upload-URL", ts.URL+"/upload-session")
			w.Write([]byte("{}"))

		case r.URL.Path == "/upload-session":
			assert.Equal(t, "upload, finalize", r.Header.Get("X-Goog-Upload-Command"))
			json.NewEncoder(w).Encode(map[string]any{
				"file": map[string]any{
					"name":     "files/abc123",
					"uri":      ts.URL + "/v1beta/files/abc123",
					"mimeType": "video/mp4",
					"state":    "ACTIVE",
				},
			})

		case strings.Contains(r.URL.Path, ":streamGenerateContent"):
			w.Header().Set("Content-Type", "text/event-stream")
			w.Write([]byte(sseChunk(t, map[string]any{"thought": true, "text": "Considering the phrasing."})))
			w.Write([]byte(sseChunk(t, map[string]any{"text": `{"overall_score":88,`})))
			w.Write([]byte(sseChunk(t, map[string]any{
				"text":             `"summary":"Strong take","feedback_items":[]}`,
				"thoughtSignature": sigB64,
			})))

		case r.Method == http.MethodDelete:
			w.Write([]byte("{}"))

		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	g := NewGemini(GeminiOptions{APIKey: "test-key", BaseURL: ts.URL}, silentLog())

	ch, err := g.AnalyzeVideo(context.Background(), AnalysisRequest{
		VideoPath: tempVideo(t),
		Kind:      AnalyzePerformance,
		Prompt:    AnalysisPrompt,
	})
	require.NoError(t, err)

	events := collect(t, ch)
	require.GreaterOrEqual(t, len(events), 5)
	assert.Equal(t, "Uploading video to AI...", events[0].Content)
	assert.Equal(t, "Analyzing performance...", events[1].Content)
	assert.Equal(t, EventThinking, events[2].Type)
	assert.Equal(t, "Considering the phrasing.", events[2].Content)
	assert.Equal(t, EventDelta, events[3].Type)

	res, err := domain.ParseAnalysisResult(completeEvent(t, events).Content)
	require.NoError(t, err)
	assert.Equal(t, 88, res.OverallScore)
	assert.Equal(t, "Strong take", res.Summary)
	assert.Equal(t, wantSig, res.ThoughtSignature)
}

func TestGeminiAnalyzeVideoSynthesizesSignature(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/upload/v1beta/files":
			w.Header().Set("X-Goog-Upload-URL", ts.URL+"/upload-session")
			w.Write([]byte("{}"))
		case r.URL.Path == "/upload-session":
			json.NewEncoder(w).Encode(map[string]any{
				"file": map[string]any{"name": "files/abc123", "uri": "u", "mimeType": "video/mp4", "state": "ACTIVE"},
			})
		case strings.Contains(r.URL.Path, ":streamGenerateContent"):
			w.Write([]byte(sseChunk(t, map[string]any{"thought": true, "text": "thinking text"})))
			w.Write([]byte(sseChunk(t, map[string]any{"text": `{"overall_score":50,"summary":"ok","feedback_items":[]}`})))
		default:
			w.Write([]byte("{}"))
		}
	}))
	defer ts.Close()

	g := NewGemini(GeminiOptions{APIKey: "k", BaseURL: ts.URL}, silentLog())
	ch, err := g.AnalyzeVideo(context.Background(), AnalysisRequest{VideoPath: tempVideo(t), Kind: AnalyzePerformance})
	require.NoError(t, err)

	res, err := domain.ParseAnalysisResult(completeEvent(t, collect(t, ch)).Content)
	require.NoError(t, err)
	assert.Equal(t, SynthSignature("thinking text"), res.ThoughtSignature)
}

func TestGeminiAnalyzeVideoUploadError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upload quota exceeded", http.StatusInternalServerError)
	}))
	defer ts.Close()

	g := NewGemini(GeminiOptions{APIKey: "k", BaseURL: ts.URL}, silentLog())
	ch, err := g.AnalyzeVideo(context.Background(), AnalysisRequest{VideoPath: tempVideo(t)})
	require.NoError(t, err)

	events := collect(t, ch)
	last := events[len(events)-1]
	require.Equal(t, EventError, last.Type)

	var provErr *ProviderError
	require.ErrorAs(t, last.Err, &provErr)
	assert.Equal(t, http.StatusInternalServerError, provErr.Code)
	for _, ev := range events {
		assert.NotEqual(t, EventComplete, ev.Type)
	}
}

func TestGeminiAnalyzeVideoMissingPath(t *testing.T) {
	g := NewGemini(GeminiOptions{APIKey: "k"}, silentLog())
	_, err := g.AnalyzeVideo(context.Background(), AnalysisRequest{})
	assert.Error(t, err)
}

func TestGeminiCoachTurnStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, ":streamGenerateContent")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "systemInstruction")
		assert.Contains(t, body, "tools")

		w.Write([]byte(sseChunk(t, map[string]any{"text": "Let me show you. "})))
		w.Write([]byte(sseChunk(t, map[string]any{
			"functionCall": map[string]any{"name": "seek_video", "args": map[string]any{"timestamp_seconds": 12.5}},
		})))
	}))
	defer ts.Close()

	g := NewGemini(GeminiOptions{APIKey: "k", BaseURL: ts.URL}, silentLog())
	ch, err := g.CoachTurn(context.Background(), CoachRequest{
		System:   DefaultCoachSystem,
		Messages: []Message{{Role: RoleUser, Content: "show me that moment"}},
		Tools: []Tool{{
			Name:        "seek_video",
			Description: "Jump the player to a timestamp",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, EventDelta, events[0].Type)
	assert.Equal(t, "Let me show you. ", events[0].Content)

	require.Equal(t, EventToolCall, events[1].Type)
	require.NotNil(t, events[1].ToolCall)
	assert.Equal(t, "seek_video", events[1].ToolCall.Name)
	assert.Equal(t, 12.5, events[1].ToolCall.Args["timestamp_seconds"])
}

func TestGeminiCoachBody(t *testing.T) {
	g := NewGemini(GeminiOptions{APIKey: "k", MaxTokens: 2048}, silentLog())

	body, err := g.coachBody(CoachRequest{
		System: "persona",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello", ToolCalls: []ToolCall{
				{Name: "seek_video", Args: map[string]any{"timestamp_seconds": 3.0}},
			}},
			{Role: RoleUser, ToolResults: []ToolResult{
				{Name: "seek_video", Result: map[string]any{"ok": true}},
			}},
		},
		Tools: []Tool{{Name: "seek_video", InputSchema: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)

	contents := body["contents"].([]map[string]any)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0]["role"])
	assert.Equal(t, "model", contents[1]["role"])
	assert.Equal(t, "user", contents[2]["role"])

	modelParts := contents[1]["parts"].([]map[string]any)
	require.Len(t, modelParts, 2)
	assert.Contains(t, modelParts[1], "functionCall")

	resultParts := contents[2]["parts"].([]map[string]any)
	require.Len(t, resultParts, 1)
	assert.Contains(t, resultParts[0], "functionResponse")

	tools := body["tools"].([]map[string]any)
	require.Len(t, tools, 1)
	decls := tools[0]["functionDeclarations"].([]map[string]any)
	require.Len(t, decls, 1)
	assert.Equal(t, "seek_video", decls[0]["name"])

	assert.Contains(t, body, "systemInstruction")
	genCfg := body["generationConfig"].(map[string]any)
	assert.Equal(t, 2048, genCfg["maxOutputTokens"])
}

func TestGeminiCoachBodyUnknownRole(t *testing.T) {
	g := NewGemini(GeminiOptions{APIKey: "k"}, silentLog())
	_, err := g.coachBody(CoachRequest{Messages: []Message{{Role: "system", Content: "x"}}})
	assert.Error(t, err)
}

// --- Signature helpers ---

func TestNativeSignature(t *testing.T) {
	long := []byte("0123456789abcdefEXTRA")
	sig := nativeSignature(base64.StdEncoding.EncodeToString(long))
	assert.Equal(t, "gts_"+hex.EncodeToString(long[:16]), sig)

	short := []byte("12345678")
	sig = nativeSignature(base64.StdEncoding.EncodeToString(short))
	assert.Equal(t, "gts_"+hex.EncodeToString(short), sig)

	assert.Equal(t, "", nativeSignature("not-base64!!!"))
	assert.Equal(t, "", nativeSignature(""))
}

func TestInjectSignature(t *testing.T) {
	out := injectSignature(`{"overall_score":5}`, "ts_abc")
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "ts_abc", payload["thought_signature"])
	assert.Equal(t, float64(5), payload["overall_score"])
}

func TestInjectSignatureCodeFence(t *testing.T) {
	fenced := "```json\n{\"overall_score\":5}\n```"
	out := injectSignature(fenced, "ts_abc")
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "ts_abc", payload["thought_signature"])
}

func TestInjectSignaturePassthrough(t *testing.T) {
	raw := "the model refused to produce JSON"
	assert.Equal(t, raw, injectSignature(raw, "ts_abc"))
}
