// Package store provides SQLite persistence for repovet scan records.
package store

import (
	"encoding/json"
	"errors"
	"time"
)

// Status values for a scan record. A record moves pending -> processing ->
// completed or failed; failed is terminal, a re-scan gets a fresh id.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var (
	// ErrScanNotFound is returned when no scan record exists for an id.
	ErrScanNotFound = errors.New("scan not found")

	// ErrInvalidTransition is returned when a status update is attempted
	// from a state that does not permit it.
	ErrInvalidTransition = errors.New("invalid scan status transition")
)

// Scan represents a scan record in the database. Score columns are zero
// until the scan completes; Result holds the full scoring artifact as JSON.
type Scan struct {
	ID              string          `json:"id"`
	RepoURL         string          `json:"repo_url"`
	Owner           string          `json:"owner,omitempty"`
	Repo            string          `json:"repo,omitempty"`
	Status          string          `json:"status"`
	ErrorCategory   string          `json:"error_category,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	SafetyScore     int             `json:"safety_score"`
	LegitimacyScore int             `json:"legitimacy_score"`
	OverallScore    int             `json:"overall_score"`
	Confidence      int             `json:"confidence"`
	Result          json.RawMessage `json:"result,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       string          `json:"started_at,omitempty"`
	FinishedAt      string          `json:"finished_at,omitempty"`
}
