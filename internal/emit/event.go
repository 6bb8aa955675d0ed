package emit

import (
	"os"
	"strings"
	"time"
)

// Severity represents the importance level of an emitted event.
type Severity int

const (
	SeverityInfo     Severity = iota // Normal operations
	SeverityWarn                     // Degraded or refused work, worth investigating
	SeverityCritical                 // Needs immediate attention
)

// String returns the lowercase string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// ParseSeverity converts a string to a Severity level.
// The comparison is case-insensitive. Returns SeverityInfo for unrecognized values.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(s) {
	case "warn":
		return SeverityWarn
	case "critical":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Event represents a structured scan-service event for external emission.
type Event struct {
	Severity   Severity
	Type       string // Event type ("scan_completed", "scan_failed", etc.)
	Timestamp  time.Time
	InstanceID string         // Repovet instance identifier
	Fields     map[string]any // Structured fields carried to the sink
}

// DefaultInstanceID returns the hostname or "repovet" as fallback.
func DefaultInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "repovet"
}

// EventSeverity maps event type strings to their severity level.
// Severity is hardcoded; users control emission threshold, not event severity.
var EventSeverity = map[string]Severity{
	// Warn: degraded or refused work, worth investigating
	"scan_failed":     SeverityWarn,
	"fetch_degraded":  SeverityWarn,
	"analyzer_error":  SeverityWarn,
	"request_blocked": SeverityWarn,
	"error":           SeverityWarn,

	// Info: normal operations
	// Note: scan_completed severity depends on what the scan found,
	// handled by the caller via ScanOutcomeSeverity.
	"scan_completed":  SeverityInfo,
	"request_allowed": SeverityInfo,
	"config_reload":   SeverityInfo,
	"startup":         SeverityInfo,
	"shutdown":        SeverityInfo,
}

// ScanOutcomeSeverity returns the severity for a scan_completed event based
// on what the scan found. Critical findings make the event critical; a
// critical-risk overall score warns.
func ScanOutcomeSeverity(overall, criticalFindings int) Severity {
	if criticalFindings > 0 {
		return SeverityCritical
	}
	if overall < 25 {
		return SeverityWarn
	}
	return SeverityInfo
}
