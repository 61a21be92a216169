// Package blob stores uploaded videos on local disk and mints HMAC-signed
// expiring URLs for the two-step upload exchange: the client asks for a
// signed pair, PUTs the bytes to the upload URL, and hands the download URL
// to analysis requests.
package blob

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fermata-app/fermata/internal/logging"
)

// Errors returned by Verify.
var (
	ErrBadSignature = errors.New("blob: bad signature")
	ErrExpired      = errors.New("blob: url expired")
	ErrBadName      = errors.New("blob: invalid blob name")
)

// Config describes a blob store.
type Config struct {
	Dir         string        // on-disk root for stored blobs
	BaseURL     string        // public server URL signed links point at
	SigningKey  string        // HMAC key; empty disables the store
	UploadTTL   time.Duration // signed PUT validity
	DownloadTTL time.Duration // signed GET validity
}

// SignedPair is the response to a signed-URL request.
type SignedPair struct {
	UploadURL   string `json:"upload_url"`
	DownloadURL string `json:"download_url"`
	Name        string `json:"filename"`
}

// Store is a local-disk blob store with signed expiring URLs.
type Store struct {
	cfg Config
	key []byte
	log *logging.Logger
	now func() time.Time
}

// New creates a blob store rooted at cfg.Dir.
func New(cfg Config, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Nop()
	}
	if cfg.SigningKey == "" {
		return nil, errors.New("blob: signing key required")
	}
	if cfg.UploadTTL <= 0 {
		cfg.UploadTTL = 15 * time.Minute
	}
	if cfg.DownloadTTL <= 0 {
		cfg.DownloadTTL = time.Hour
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &Store{
		cfg: cfg,
		key: []byte(cfg.SigningKey),
		log: log.Sub("blob"),
		now: time.Now,
	}, nil
}

// NewName builds a fresh blob name under uploads/, keeping the original
// file extension.
func NewName(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return "uploads/" + uuid.New().String() + ext
}

// LoadOrCreateKey returns the signing key stored at path, generating and
// persisting a random one on first use so signed URLs survive restarts.
func LoadOrCreateKey(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		if key := strings.TrimSpace(string(data)); key != "" {
			return key, nil
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	key := hex.EncodeToString(buf)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0o600); err != nil {
		return "", err
	}
	return key, nil
}

// Sign mints an upload/download URL pair for a blob name.
func (s *Store) Sign(name string) (SignedPair, error) {
	if err := checkName(name); err != nil {
		return SignedPair{}, err
	}
	now := s.now()
	return SignedPair{
		UploadURL:   s.signedURL("PUT", name, now.Add(s.cfg.UploadTTL)),
		DownloadURL: s.signedURL("GET", name, now.Add(s.cfg.DownloadTTL)),
		Name:        name,
	}, nil
}

// DownloadURL mints a fresh signed GET link for an existing blob.
func (s *Store) DownloadURL(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return s.signedURL("GET", name, s.now().Add(s.cfg.DownloadTTL)), nil
}

func (s *Store) signedURL(method, name string, exp time.Time) string {
	expStr := strconv.FormatInt(exp.Unix(), 10)
	q := url.Values{}
	q.Set("exp", expStr)
	q.Set("sig", s.signature(method, name, expStr))

	segment := "get"
	if method == "PUT" {
		segment = "put"
	}
	return strings.TrimSuffix(s.cfg.BaseURL, "/") + "/api/upload/" + segment + "/" + name + "?" + q.Encode()
}

func (s *Store) signature(method, name, exp string) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s\n%s\n%s", method, name, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signed request: signature must match and the expiry must
// not have passed. The method scopes the signature, so an upload link can
// never be replayed as a download.
func (s *Store) Verify(method, name, exp, sig string) error {
	if err := checkName(name); err != nil {
		return err
	}
	want := s.signature(method, name, exp)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return ErrExpired
	}
	return nil
}

// Save streams blob bytes to disk under the store root.
func (s *Store) Save(name string, r io.Reader) (int64, error) {
	p, err := s.path(name)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return 0, fmt.Errorf("creating blob subdirectory: %w", err)
	}

	f, err := os.Create(p)
	if err != nil {
		return 0, fmt.Errorf("creating blob file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(p)
		return n, fmt.Errorf("writing blob %s: %w", name, err)
	}

	s.log.Debug().Str("name", name).Int64("bytes", n).Msg("blob saved")
	return n, nil
}

// Open returns the stored blob file for serving.
func (s *Store) Open(name string) (*os.File, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Exists reports whether the blob has been uploaded.
func (s *Store) Exists(name string) bool {
	p, err := s.path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Delete removes a stored blob. Missing blobs are not an error.
func (s *Store) Delete(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) path(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.cfg.Dir, filepath.FromSlash(name)), nil
}

// checkName rejects names that could escape the store root.
func checkName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return ErrBadName
	}
	clean := path.Clean(name)
	if clean != name || clean == "." || strings.HasPrefix(clean, "..") {
		return ErrBadName
	}
	return nil
}
