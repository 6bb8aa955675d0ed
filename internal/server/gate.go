package server

import (
	"crypto/subtle"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/repovet/repovet/internal/forge"
)

// Gate rejection reasons. Used as metric labels and audit block reasons.
const (
	reasonUnauthorized = "unauthorized"
	reasonNotAllowed   = "not_allowed"
	reasonRateLimited  = "rate_limited"
)

const (
	// maxTrackedClients bounds the limiter map. When full, idle entries are
	// pruned; if every entry is fresh the map resets outright rather than
	// grow without bound.
	maxTrackedClients = 10000

	// staleClientAge is how long a client may stay idle before its limiter
	// is eligible for pruning.
	staleClientAge = 10 * time.Minute
)

// clientLimiter hands out one token-bucket limiter per client IP.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
}

type clientEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter() *clientLimiter {
	return &clientLimiter{clients: make(map[string]*clientEntry)}
}

// allow reports whether clientIP may submit another scan under the
// per-minute budget. The burst equals the full allowance so a client can
// spend its minute at once; the refill rate spreads it back over the minute.
func (cl *clientLimiter) allow(clientIP string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	e, ok := cl.clients[clientIP]
	if !ok {
		if len(cl.clients) >= maxTrackedClients {
			cl.prune()
		}
		e = &clientEntry{lim: rate.NewLimiter(rate.Limit(float64(perMinute))/60.0, perMinute)}
		cl.clients[clientIP] = e
	}
	e.lastSeen = time.Now()
	return e.lim.Allow()
}

// prune drops idle entries. Caller holds cl.mu.
func (cl *clientLimiter) prune() {
	cutoff := time.Now().Add(-staleClientAge)
	for ip, e := range cl.clients {
		if e.lastSeen.Before(cutoff) {
			delete(cl.clients, ip)
		}
	}
	if len(cl.clients) >= maxTrackedClients {
		// Every tracked client is active. Resetting forgives current
		// budgets but keeps memory bounded.
		cl.clients = make(map[string]*clientEntry)
	}
}

// reset drops all limiter state. Called on config reload so a changed
// rate_per_minute applies immediately instead of only to new clients.
func (cl *clientLimiter) reset() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.clients = make(map[string]*clientEntry)
}

// authorize enforces the optional bearer token. Returns false after writing
// the 401 and recording the rejection. An empty configured token disables
// authentication.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	token := s.cfgPtr.Load().Server.AuthToken
	if token == "" {
		return true
	}

	presented := extractBearerToken(r)
	if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
		w.Header().Set("WWW-Authenticate", `Bearer realm="repovet"`)
		s.reject(w, r, clientIP, reasonUnauthorized, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

// rateAllow enforces the per-client submission rate. Returns false after
// writing the 429.
func (s *Server) rateAllow(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if s.limiter.allow(clientIP, s.cfgPtr.Load().Server.RatePerMinute) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	s.reject(w, r, clientIP, reasonRateLimited, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// repoAllowed checks the parsed owner/name pair against the allowlist globs.
// An empty allowlist admits every repository. Matching is case-insensitive
// because platform owner and repository names are.
func repoAllowed(allowlist []string, ref forge.RepoRef) bool {
	if len(allowlist) == 0 {
		return true
	}
	target := strings.ToLower(ref.String())
	for _, pattern := range allowlist {
		if ok, err := path.Match(strings.ToLower(pattern), target); err == nil && ok {
			return true
		}
	}
	return false
}

// reject records a gate rejection in the audit log, the metrics, and the
// event stream, then writes the error response.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, clientIP, reason string, status int, msg string) {
	s.logger.LogRequestBlocked(r.Method, r.URL.Path, clientIP, reason)
	s.metrics.RecordGateRejection(reason)
	s.emitter.Emit(r.Context(), "request_blocked", map[string]any{
		"method":    r.Method,
		"path":      r.URL.Path,
		"client_ip": clientIP,
		"reason":    reason,
	})
	errorJSON(w, status, msg, "")
}

// extractBearerToken extracts the token from an Authorization: Bearer header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}
