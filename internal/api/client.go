// Package api is the typed client for the session service's REST surface:
// login, sessions, and the two-step signed-URL upload exchange. Streaming
// analysis lives in internal/ingest; the coach channel in internal/coach.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fermata-app/fermata/internal/domain"
	"github.com/fermata-app/fermata/internal/logging"
)

// Error carries a non-2xx response from the server.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// SignedUpload is the server's answer to a signed-URL request. Filename is
// the blob name (`uploads/<name>`) later handed to analysis requests.
type SignedUpload struct {
	UploadURL   string `json:"upload_url"`
	DownloadURL string `json:"download_url"`
	Filename    string `json:"filename"`
}

// Client talks to the fermata server. Safe for concurrent use once built;
// Login mutates the token and belongs in setup, not steady state.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logging.Logger
}

// NewClient creates a REST client. token may be empty until Login.
func NewClient(baseURL, token string, log *logging.Logger) *Client {
	if log == nil {
		log = logging.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
		log:     log.Sub("api"),
	}
}

// Token returns the bearer token in use.
func (c *Client) Token() string { return c.token }

// Login exchanges credentials for a bearer token and adopts it for
// subsequent requests.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body := map[string]string{"username": username, "password": password}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/login", body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("login: empty token in response")
	}
	c.token = out.Token
	return out.Token, nil
}

// CreateSession starts a new coaching session and returns its id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions", nil, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// ListSessions returns session summaries, newest first.
func (c *Client) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	var out []domain.SessionSummary
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchSessions runs a full-text search over stored feedback.
func (c *Client) SearchSessions(ctx context.Context, query string) ([]domain.SessionSummary, error) {
	var out []domain.SessionSummary
	path := "/api/sessions/search?q=" + url.QueryEscape(query)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession fetches the full session document.
func (c *Client) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var out domain.Session
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SessionContext fetches the coach-facing snapshot of a session.
func (c *Client) SessionContext(ctx context.Context, id string) (*domain.SessionContext, error) {
	var out domain.SessionContext
	path := "/api/sessions/" + url.PathEscape(id) + "/context"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession removes a session server-side.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, nil)
}

// RequestUpload asks for a signed upload/download URL pair.
func (c *Client) RequestUpload(ctx context.Context, filename, contentType string) (*SignedUpload, error) {
	body := map[string]string{"filename": filename, "content_type": contentType}
	var out SignedUpload
	if err := c.doJSON(ctx, http.MethodPost, "/api/upload/signed-url", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Put writes bytes to a signed upload URL. The URL is absolute and already
// carries its authorization, so no bearer header is attached.
func (c *Client) Put(ctx context.Context, uploadURL, contentType string, r io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, r)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.decodeError(resp)
	}
	return nil
}

// UploadFile runs the whole exchange for a local video: signed-URL request,
// then PUT. Returns the signed pair so callers can hand the blob name to
// analysis and the download URL to playback.
func (c *Client) UploadFile(ctx context.Context, path string) (*SignedUpload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	contentType := ContentTypeFor(path)
	signed, err := c.RequestUpload(ctx, filepath.Base(path), contentType)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Str("file", path).Str("blob", signed.Filename).Msg("uploading video")
	if err := c.Put(ctx, signed.UploadURL, contentType, f); err != nil {
		return nil, err
	}
	return signed, nil
}

// ContentTypeFor guesses a video MIME type from the file extension.
func ContentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.decodeError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns an error response into an *Error, preferring the
// server's {"error": …} message over the raw body.
func (c *Client) decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	var wire struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Error != "" {
		msg = wire.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{StatusCode: resp.StatusCode, Message: msg}
}
