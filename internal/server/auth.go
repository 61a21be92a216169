package server

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fermata-app/fermata/internal/config"
)

// ResolvedAuth holds the resolved auth configuration for the server.
type ResolvedAuth struct {
	Token string
	users map[string]string
}

// ResolveAuth resolves the bearer token and login credentials from config
// and environment. Precedence: config value → env variable → empty.
func ResolveAuth(cfg config.ServerAuth) ResolvedAuth {
	auth := ResolvedAuth{Token: cfg.Token}
	if auth.Token == "" {
		auth.Token = os.Getenv("FERMATA_SERVER_TOKEN")
	}
	auth.users = parseUsers(cfg.Users)
	return auth
}

// parseUsers splits the "user1:pass1,user2:pass2" credential list.
// Malformed entries are dropped.
func parseUsers(raw string) map[string]string {
	users := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		name, pass, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || name == "" || pass == "" {
			continue
		}
		users[name] = pass
	}
	return users
}

// Enabled reports whether a bearer token is configured. Without one every
// authenticated route fails closed.
func (a ResolvedAuth) Enabled() bool {
	return a.Token != ""
}

// CheckToken validates a presented bearer token.
func (a ResolvedAuth) CheckToken(token string) bool {
	return a.Token != "" && token != "" && safeEqual(token, a.Token)
}

// CheckLogin validates a username/password pair against the configured users.
func (a ResolvedAuth) CheckLogin(username, password string) bool {
	want, ok := a.users[username]
	return ok && safeEqual(password, want)
}

// safeEqual performs a constant-time string comparison to prevent timing attacks.
// It avoids early-return on length mismatch to prevent leaking secret length via timing.
func safeEqual(a, b string) bool {
	return subtle.ConstantTimeSelect(
		subtle.ConstantTimeEq(int32(len(a)), int32(len(b))),
		subtle.ConstantTimeCompare([]byte(a), []byte(b)),
		0,
	) == 1
}

// requestToken extracts the bearer token from the Authorization header or,
// for clients that cannot set headers (EventSource, media elements), from
// the token query parameter.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return tok
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// requireAuth guards the API subtree with bearer-token auth. An unset server
// token fails closed rather than open.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			writeError(w, http.StatusServiceUnavailable, "server token not configured")
			return
		}
		if !s.auth.CheckToken(requestToken(r)) {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin exchanges static credentials for the server's bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.loginLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited — too many failed logins")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(s.auth.users) == 0 || !s.auth.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "login not configured")
		return
	}

	if !s.auth.CheckLogin(req.Username, req.Password) {
		s.loginLimiter.recordFailure(r.RemoteAddr)
		s.log.Warn().Str("user", req.Username).Str("remote", r.RemoteAddr).Msg("login rejected")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.log.Info().Str("user", req.Username).Msg("login")
	writeJSON(w, http.StatusOK, map[string]string{"token": s.auth.Token})
}

// loginRateLimiter tracks failed login attempts per IP to prevent
// brute-force attacks. Stale entries are pruned inline on each check.
type loginRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

const (
	loginRateWindow   = 5 * time.Minute
	loginRateMaxFails = 10
	loginRateMaxIPs   = 10000 // max tracked IPs to prevent memory exhaustion
)

func newLoginRateLimiter() *loginRateLimiter {
	return &loginRateLimiter{failures: make(map[string][]time.Time)}
}

func (l *loginRateLimiter) allow(remoteAddr string) bool {
	host := limiterHost(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.pruneLocked(host)
	if len(recent) == 0 {
		delete(l.failures, host)
		return true
	}
	l.failures[host] = recent
	return len(recent) < loginRateMaxFails
}

func (l *loginRateLimiter) recordFailure(remoteAddr string) {
	host := limiterHost(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.failures[host]; !exists && len(l.failures) >= loginRateMaxIPs {
		l.evictOldestLocked()
	}
	l.failures[host] = append(l.pruneLocked(host), time.Now())
}

// pruneLocked drops failures outside the rate window for one host.
func (l *loginRateLimiter) pruneLocked(host string) []time.Time {
	cutoff := time.Now().Add(-loginRateWindow)
	recent := l.failures[host]
	filtered := recent[:0]
	for _, t := range recent {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func (l *loginRateLimiter) evictOldestLocked() {
	var oldestIP string
	var oldestTime time.Time
	for ip, times := range l.failures {
		if len(times) > 0 && (oldestIP == "" || times[0].Before(oldestTime)) {
			oldestIP = ip
			oldestTime = times[0]
		}
	}
	if oldestIP != "" {
		delete(l.failures, oldestIP)
	}
}

func limiterHost(remoteAddr string) string {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		return remoteAddr
	}
	return host
}
