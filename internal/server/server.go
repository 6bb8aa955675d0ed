// Package server exposes the scan API over HTTP: submit a repository for
// scoring, poll or list results, stream service events over WebSocket, and
// inspect health, metrics, and stats. Access control (bearer token,
// repository allowlist, per-client rate limit) runs in front of every scan
// submission.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"

	"github.com/repovet/repovet/internal/audit"
	"github.com/repovet/repovet/internal/config"
	"github.com/repovet/repovet/internal/emit"
	"github.com/repovet/repovet/internal/metrics"
	"github.com/repovet/repovet/internal/pipeline"
	"github.com/repovet/repovet/internal/store"
)

// requestCounter provides monotonic request IDs.
var requestCounter atomic.Uint64

// requestMeta extracts the client IP (port stripped) and a unique request ID
// from the incoming request. The IP keys the per-client rate limiter.
func requestMeta(r *http.Request) (clientIP, requestID string) {
	clientIP = r.RemoteAddr
	if host, _, err := net.SplitHostPort(clientIP); err == nil {
		clientIP = host
	}
	requestID = fmt.Sprintf("req-%d", requestCounter.Add(1))
	return
}

// job is one accepted scan waiting for a worker.
type job struct {
	id      string
	repoURL string
}

// jobQueueDepth bounds accepted-but-unstarted scans. A full queue turns the
// submission into a 503 instead of blocking the handler.
const jobQueueDepth = 256

// Server is the repovet scan API server.
type Server struct {
	cfgPtr     atomic.Pointer[config.Config]
	scannerPtr atomic.Pointer[pipeline.Scanner]
	db         *store.DB
	logger     *audit.Logger
	metrics    *metrics.Metrics
	emitter    *emit.Emitter
	hub        *Hub
	limiter    *clientLimiter
	jobs       chan job
	version    string
	server     *http.Server
	startTime  time.Time
	reloadMu   sync.Mutex // serializes Reload calls
	workerWG   sync.WaitGroup

	// pendingSinks holds WithSinks arguments until New builds the emitter.
	pendingSinks []emit.Sink
}

// Option configures optional Server behavior.
type Option func(*Server)

// WithSinks registers external event sinks (webhook, syslog, OTLP) alongside
// the built-in WebSocket hub.
func WithSinks(sinks ...emit.Sink) Option {
	return func(s *Server) {
		s.pendingSinks = append(s.pendingSinks, sinks...)
	}
}

// New creates a scan API server. The scanner is shared by all workers; the
// store carries scan records across the pending/processing/terminal states.
func New(cfg *config.Config, logger *audit.Logger, sc *pipeline.Scanner, db *store.DB, m *metrics.Metrics, version string, opts ...Option) *Server {
	s := &Server{
		db:        db,
		logger:    logger,
		metrics:   m,
		version:   version,
		jobs:      make(chan job, jobQueueDepth),
		limiter:   newClientLimiter(),
		startTime: time.Now(),
	}
	s.cfgPtr.Store(cfg)
	s.scannerPtr.Store(sc)
	for _, opt := range opts {
		opt(s)
	}

	s.hub = newHub()
	s.emitter = emit.NewEmitter(emit.DefaultInstanceID(), append(s.pendingSinks, s.hub)...)
	s.pendingSinks = nil
	return s
}

// Handler builds the route table. Split out from Start so tests can mount it
// on an httptest server.
func (s *Server) Handler() http.Handler {
	cfg := s.cfgPtr.Load()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/scans", s.handleScans)
	mux.HandleFunc("/api/v1/scans/", s.handleScanByID)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/healthz", s.handleHealth)
	if cfg.MetricsEnabled() {
		mux.Handle("/metrics", s.metrics.PrometheusHandler())
		mux.HandleFunc("/stats", s.metrics.StatsHandler())
	}
	return mux
}

// Start runs the API server and the scan worker pool. It blocks until the
// context is cancelled or the server encounters a fatal error.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfgPtr.Load()

	// Event stream connections outlive any per-connection write timeout,
	// and http.Server arms the write deadline before the upgrade hijacks
	// the conn. WriteTimeout stays 0; the hub enforces its own per-frame
	// deadlines and ReadHeaderTimeout still covers the handshake.
	s.server = &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second, // Slowloris protection
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Listen, err)
	}
	// Cap concurrent connections so a flood of idle clients cannot exhaust
	// file descriptors before the rate gate ever sees a request.
	ln = netutil.LimitListener(ln, cfg.Server.MaxConns)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	s.startWorkers(workerCtx, cfg.Server.Workers)

	// Graceful shutdown on context cancellation. The done channel ensures
	// this goroutine exits if Serve fails immediately.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "repovet: server shutdown: %v\n", err)
			}
		case <-done:
		}
	}()

	s.logger.LogStartup(cfg.Server.Listen, s.version)
	s.emitter.Emit(ctx, "startup", map[string]any{
		"listen":  cfg.Server.Listen,
		"version": s.version,
	})

	err = s.server.Serve(ln)
	close(done) // unblock the shutdown goroutine if Serve failed immediately
	stopWorkers()
	s.workerWG.Wait()

	if errors.Is(err, http.ErrServerClosed) {
		s.logger.LogShutdown("shutdown signal")
		s.emitter.Emit(context.Background(), "shutdown", map[string]any{
			"listen": cfg.Server.Listen,
		})
		return nil
	}
	return err
}

// CurrentConfig returns the currently active config. Used for reload
// comparison.
func (s *Server) CurrentConfig() *config.Config {
	return s.cfgPtr.Load()
}

// Reload atomically swaps the config and scan pipeline for hot-reload
// support. The listen address, connection cap, and worker count are bound in
// Start and are NOT updated by Reload; gate checks and pipeline settings
// take effect on the next request. Per-client limiters reset so a changed
// rate_per_minute applies to every client, not only ones seen afterwards.
func (s *Server) Reload(cfg *config.Config, sc *pipeline.Scanner) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	s.cfgPtr.Store(cfg)
	s.scannerPtr.Store(sc)
	s.limiter.reset()
}

// ReloadSinks replaces the external event sinks, keeping the WebSocket hub
// subscribed. Replaced sinks are closed; connected event stream clients are
// untouched.
func (s *Server) ReloadSinks(sinks []emit.Sink) {
	old := s.emitter.ReloadSinks(append(sinks, emit.Sink(s.hub)))
	for _, snk := range old {
		if snk == emit.Sink(s.hub) {
			continue
		}
		if err := snk.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "repovet: closing replaced sink: %v\n", err)
		}
	}
}

// Close releases resources owned by the server: event sinks and the hub with
// its client connections. Does not stop the HTTP server; cancel the Start
// context for that.
func (s *Server) Close() {
	if err := s.emitter.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "repovet: closing event sinks: %v\n", err)
	}
}

// healthResponse is the JSON response returned by the /healthz endpoint.
type healthResponse struct {
	Status          string  `json:"status"`
	Version         string  `json:"version"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	QueueDepth      int     `json:"queue_depth"`
	AuthEnabled     bool    `json:"auth_enabled"`
	AllowlistActive bool    `json:"allowlist_active"`
	MetricsEnabled  bool    `json:"metrics_enabled"`
	EventClients    int     `json:"event_clients"`
}

// handleHealth reports liveness plus feature flags. Unauthenticated so
// probes work with a token configured.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfgPtr.Load()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "healthy",
		Version:         s.version,
		UptimeSeconds:   time.Since(s.startTime).Seconds(),
		QueueDepth:      len(s.jobs),
		AuthEnabled:     cfg.Server.AuthToken != "",
		AllowlistActive: len(cfg.Server.Allowlist) > 0,
		MetricsEnabled:  cfg.MetricsEnabled(),
		EventClients:    s.hub.ClientCount(),
	})
}

// errorResponse is the JSON error body for every non-2xx API response.
type errorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

func errorJSON(w http.ResponseWriter, status int, msg, category string) {
	writeJSON(w, status, errorResponse{Error: msg, Category: category})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Best effort: header already sent, log to stderr
		fmt.Fprintf(os.Stderr, "repovet: writeJSON encode error: %v\n", err)
	}
}
