package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path"

	"github.com/gorilla/mux"

	"github.com/fermata-app/fermata/internal/blob"
)

// defaultMaxUploadMB caps PUT bodies when the config leaves the limit unset.
const defaultMaxUploadMB = 500

type signedURLRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

type signedURLResponse struct {
	UploadURL   string `json:"upload_url"`
	DownloadURL string `json:"download_url"`
	Filename    string `json:"filename"`
}

// handleSignedURL mints an expiring upload/download URL pair for a new blob.
func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	var req signedURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}

	pair, err := s.blobs.Sign(blob.NewName(req.Filename))
	if err != nil {
		s.log.Error().Err(err).Str("filename", req.Filename).Msg("signing upload")
		writeError(w, http.StatusInternalServerError, "signing upload")
		return
	}

	s.log.Debug().Str("name", pair.Name).Str("content_type", req.ContentType).Msg("upload signed")
	writeJSON(w, http.StatusOK, signedURLResponse{
		UploadURL:   pair.UploadURL,
		DownloadURL: pair.DownloadURL,
		Filename:    pair.Name,
	})
}

// handleUploadPut receives blob bytes against a signed upload URL.
func (s *Server) handleUploadPut(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.verifySigned(w, r, http.MethodPut, name) {
		return
	}

	maxMB := s.cfg.Server.Upload.MaxUploadMB
	if maxMB <= 0 {
		maxMB = defaultMaxUploadMB
	}
	body := http.MaxBytesReader(w, r.Body, int64(maxMB)<<20)

	n, err := s.blobs.Save(name, body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		s.log.Error().Err(err).Str("name", name).Msg("saving upload")
		writeError(w, http.StatusInternalServerError, "saving upload")
		return
	}

	s.log.Info().Str("name", name).Int64("bytes", n).Msg("upload stored")
	writeJSON(w, http.StatusOK, map[string]any{"filename": name, "bytes": n})
}

// handleUploadGet serves blob bytes against a signed download URL.
func (s *Server) handleUploadGet(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.verifySigned(w, r, http.MethodGet, name) {
		return
	}

	f, err := s.blobs.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "no such blob")
			return
		}
		s.log.Error().Err(err).Str("name", name).Msg("opening blob")
		writeError(w, http.StatusInternalServerError, "opening blob")
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		s.log.Error().Err(err).Str("name", name).Msg("stat blob")
		writeError(w, http.StatusInternalServerError, "opening blob")
		return
	}
	http.ServeContent(w, r, path.Base(name), fi.ModTime(), f)
}

// verifySigned checks the HMAC signature and expiry carried in the query.
// The method scopes the signature, so upload links never double as
// download links.
func (s *Server) verifySigned(w http.ResponseWriter, r *http.Request, method, name string) bool {
	q := r.URL.Query()
	err := s.blobs.Verify(method, name, q.Get("exp"), q.Get("sig"))
	switch {
	case err == nil:
		return true
	case errors.Is(err, blob.ErrExpired):
		writeError(w, http.StatusForbidden, "signed link expired")
	default:
		s.log.Warn().Str("name", name).Str("remote", r.RemoteAddr).Msg("bad upload signature")
		writeError(w, http.StatusForbidden, "bad signature")
	}
	return false
}
