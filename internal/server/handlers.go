package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/repovet/repovet/internal/pipeline"
	"github.com/repovet/repovet/internal/store"
)

// maxScanRequestBytes bounds the POST body. A submission is one URL; there
// is no legitimate kilobyte-scale request.
const maxScanRequestBytes = 4096

// scanRequest is the body of POST /api/v1/scans.
type scanRequest struct {
	RepoURL string `json:"repo_url"`
}

// scanAccepted is the 202 response to a queued submission.
type scanAccepted struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// listResponse is the GET /api/v1/scans response.
type listResponse struct {
	Scans  []store.Scan     `json:"scans"`
	Counts map[string]int64 `json:"counts"`
}

// handleScans routes the scan collection endpoint: POST submits, GET lists.
func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateScan(w, r)
	case http.MethodGet:
		s.handleListScans(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCreateScan validates a submission, records it, and queues it for a
// worker. Gate order: token, rate limit, then allowlist once the URL has
// been parsed. Invalid URLs are rejected with no scan record; nothing was
// accepted for processing.
func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	clientIP, _ := requestMeta(r)
	cfg := s.cfgPtr.Load()

	if !s.authorize(w, r, clientIP) {
		return
	}
	if !s.rateAllow(w, r, clientIP) {
		return
	}

	// Parse request body (strict: reject unknown fields).
	var req scanRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxScanRequestBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), pipeline.CategoryInvalidInput)
		return
	}
	if dec.More() {
		errorJSON(w, http.StatusBadRequest, "request body must contain exactly one JSON object", pipeline.CategoryInvalidInput)
		return
	}
	if req.RepoURL == "" {
		errorJSON(w, http.StatusBadRequest, `missing required field "repo_url"`, pipeline.CategoryInvalidInput)
		return
	}

	ref, err := s.scannerPtr.Load().Client().ParseRepoURL(req.RepoURL)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, err.Error(), pipeline.CategoryInvalidInput)
		return
	}

	if !repoAllowed(cfg.Server.Allowlist, ref) {
		s.reject(w, r, clientIP, reasonNotAllowed, http.StatusForbidden, "repository not in allowlist")
		return
	}

	id, err := s.db.CreateScan(req.RepoURL, ref.Owner, ref.Name)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to create scan record", pipeline.CategoryInternalError)
		return
	}

	select {
	case s.jobs <- job{id: id, repoURL: req.RepoURL}:
	default:
		// Queue full. The record already exists, so fail it rather than
		// leave a pending scan no worker will ever pick up.
		if ferr := s.db.FailScan(id, pipeline.CategoryInternalError, "scan queue full"); ferr != nil {
			s.logger.LogScanFailed(ref.String(), id, pipeline.CategoryInternalError, ferr)
		}
		w.Header().Set("Retry-After", "10")
		errorJSON(w, http.StatusServiceUnavailable, "scan queue full", pipeline.CategoryInternalError)
		return
	}

	s.logger.LogRequestAllowed(r.Method, r.URL.Path, clientIP, http.StatusAccepted, time.Since(start))
	writeJSON(w, http.StatusAccepted, scanAccepted{ID: id, Status: store.StatusPending})
}

// handleListScans returns recent scans newest-first plus per-status counts.
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	clientIP, _ := requestMeta(r)
	if !s.authorize(w, r, clientIP) {
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errorJSON(w, http.StatusBadRequest, "limit must be a positive integer", pipeline.CategoryInvalidInput)
			return
		}
		if n > 100 {
			n = 100
		}
		limit = n
	}

	scans, err := s.db.RecentScans(limit)
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to list scans", pipeline.CategoryInternalError)
		return
	}
	counts, err := s.db.CountByStatus()
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, "failed to count scans", pipeline.CategoryInternalError)
		return
	}
	if scans == nil {
		scans = []store.Scan{}
	}

	s.logger.LogRequestAllowed(r.Method, r.URL.Path, clientIP, http.StatusOK, time.Since(start))
	writeJSON(w, http.StatusOK, listResponse{Scans: scans, Counts: counts})
}

// handleScanByID returns one scan record, including the full result JSON
// once the scan has completed.
func (s *Server) handleScanByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	clientIP, _ := requestMeta(r)
	if !s.authorize(w, r, clientIP) {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/scans/")
	if id == "" || strings.Contains(id, "/") {
		errorJSON(w, http.StatusNotFound, "scan not found", "")
		return
	}

	rec, err := s.db.GetScan(id)
	if err != nil {
		if errors.Is(err, store.ErrScanNotFound) {
			errorJSON(w, http.StatusNotFound, "scan not found", "")
			return
		}
		errorJSON(w, http.StatusInternalServerError, "failed to load scan", pipeline.CategoryInternalError)
		return
	}

	s.logger.LogRequestAllowed(r.Method, r.URL.Path, clientIP, http.StatusOK, time.Since(start))
	writeJSON(w, http.StatusOK, rec)
}
