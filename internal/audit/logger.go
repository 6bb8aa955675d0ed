// Package audit provides structured JSON audit logging for all repovet events.
package audit

import (
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// sanitizeString strips control characters and ANSI escape sequences from a
// string before logging. Repository names, descriptions, and error text come
// from untrusted remote metadata; a crafted value must not be able to inject
// terminal escapes into tailed audit logs.
func sanitizeString(s string) string {
	// Fast path: most strings have no control characters.
	clean := true
	for _, r := range s {
		if r != '\t' && r != '\n' && (unicode.IsControl(r) || r == '\x1b') {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for _, r := range s {
		if inEscape {
			// ANSI escape sequences end with a letter (A-Z, a-z).
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				inEscape = false
			}
			continue
		}
		if r == '\x1b' {
			inEscape = true
			continue
		}
		// Allow tabs and newlines but strip other control chars.
		if r != '\t' && r != '\n' && unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EventType describes the kind of audit event.
type EventType string

// Event type constants for structured audit log entries.
const (
	EventScanStarted    EventType = "scan_started"
	EventScanCompleted  EventType = "scan_completed"
	EventScanFailed     EventType = "scan_failed"
	EventFetchDegraded  EventType = "fetch_degraded"
	EventAnalyzerError  EventType = "analyzer_error"
	EventRequestAllowed EventType = "request_allowed"
	EventRequestBlocked EventType = "request_blocked"
	EventConfigReload   EventType = "config_reload"
	EventStartup        EventType = "startup"
	EventShutdown       EventType = "shutdown"
)

// Logger handles structured audit logging using zerolog.
type Logger struct {
	zl             zerolog.Logger
	includeAllowed bool
	fileHandle     *os.File // non-nil if logging to file
}

// New creates a new audit logger. The caller should call Close when done.
// includeAllowed controls whether request_allowed events are written; blocked
// requests and scan lifecycle events are always logged.
func New(format, output, filePath string, includeAllowed bool) (*Logger, error) {
	var writers []io.Writer

	if output == "stdout" || output == "both" {
		if format == "console" {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	var fileHandle *os.File
	if output == "file" || output == "both" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path validated by config layer
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
		fileHandle = f
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(w).With().
		Timestamp().
		Str("component", "repovet").
		Logger()

	return &Logger{
		zl:             zl,
		includeAllowed: includeAllowed,
		fileHandle:     fileHandle,
	}, nil
}

// NewNop returns a no-op logger that discards all events.
func NewNop() *Logger {
	return &Logger{
		zl: zerolog.Nop(),
	}
}

// NewWriter returns a logger writing JSON events to w. Used by tests to
// capture output.
func NewWriter(w io.Writer) *Logger {
	return &Logger{
		zl:             zerolog.New(w).With().Timestamp().Str("component", "repovet").Logger(),
		includeAllowed: true,
	}
}

// LogScanStarted logs the beginning of a repository scan.
func (l *Logger) LogScanStarted(repo, scanID string) {
	l.zl.Info().
		Str("event", string(EventScanStarted)).
		Str("repo", sanitizeString(repo)).
		Str("scan_id", scanID).
		Msg("scan started")
}

// LogScanCompleted logs a finished scan with its headline scores.
func (l *Logger) LogScanCompleted(repo, scanID string, overall, safety, legitimacy, confidence, findings int, duration time.Duration) {
	l.zl.Info().
		Str("event", string(EventScanCompleted)).
		Str("repo", sanitizeString(repo)).
		Str("scan_id", scanID).
		Int("overall_score", overall).
		Int("safety_score", safety).
		Int("legitimacy_score", legitimacy).
		Int("confidence", confidence).
		Int("findings", findings).
		Dur("duration_ms", duration).
		Msg("scan completed")
}

// LogScanFailed logs a scan that ended in a terminal failure.
func (l *Logger) LogScanFailed(repo, scanID, category string, err error) {
	l.zl.Error().
		Str("event", string(EventScanFailed)).
		Str("repo", sanitizeString(repo)).
		Str("scan_id", scanID).
		Str("category", category).
		Err(err).
		Msg("scan failed")
}

// LogFetchDegraded logs a secondary fetch failure that was absorbed.
func (l *Logger) LogFetchDegraded(repo, scanID, part string) {
	l.zl.Warn().
		Str("event", string(EventFetchDegraded)).
		Str("repo", sanitizeString(repo)).
		Str("scan_id", scanID).
		Str("part", part).
		Msg("fetch degraded, scoring with defaults")
}

// LogAnalyzerError logs a recovered analyzer failure. The scan continues
// without that analyzer's findings.
func (l *Logger) LogAnalyzerError(repo, analyzer, detail string) {
	l.zl.Error().
		Str("event", string(EventAnalyzerError)).
		Str("repo", sanitizeString(repo)).
		Str("analyzer", analyzer).
		Str("detail", sanitizeString(detail)).
		Msg("analyzer error recovered")
}

// LogRequestAllowed logs an API request that passed the gate.
func (l *Logger) LogRequestAllowed(method, path, clientIP string, status int, duration time.Duration) {
	if !l.includeAllowed {
		return
	}
	l.zl.Info().
		Str("event", string(EventRequestAllowed)).
		Str("method", method).
		Str("path", sanitizeString(path)).
		Str("client_ip", clientIP).
		Int("status_code", status).
		Dur("duration_ms", duration).
		Msg("request allowed")
}

// LogRequestBlocked logs an API request rejected by the gate with the reason.
func (l *Logger) LogRequestBlocked(method, path, clientIP, reason string) {
	l.zl.Warn().
		Str("event", string(EventRequestBlocked)).
		Str("method", method).
		Str("path", sanitizeString(path)).
		Str("client_ip", clientIP).
		Str("reason", sanitizeString(reason)).
		Msg("request blocked")
}

// LogConfigReload logs a configuration reload event.
func (l *Logger) LogConfigReload(status, detail string) {
	l.zl.Info().
		Str("event", string(EventConfigReload)).
		Str("status", status).
		Str("detail", sanitizeString(detail)).
		Msg("configuration reloaded")
}

// LogStartup logs that the service has started.
func (l *Logger) LogStartup(listenAddr, version string) {
	l.zl.Info().
		Str("event", string(EventStartup)).
		Str("listen", listenAddr).
		Str("version", version).
		Msg("repovet started")
}

// LogShutdown logs that the service is shutting down.
func (l *Logger) LogShutdown(reason string) {
	l.zl.Info().
		Str("event", string(EventShutdown)).
		Str("reason", reason).
		Msg("repovet stopping")
}

// With returns a sub-logger that includes the given key-value pair in every
// log entry. The sub-logger shares the parent's file handle but does not own
// it; only the root logger should be Close()'d.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		zl:             l.zl.With().Str(key, sanitizeString(value)).Logger(),
		includeAllowed: l.includeAllowed,
	}
}

// Close cleans up the logger, flushing and closing any open file handles.
// Close is idempotent and safe to call multiple times.
func (l *Logger) Close() {
	if l.fileHandle != nil {
		_ = l.fileHandle.Sync()
		_ = l.fileHandle.Close()
		l.fileHandle = nil
	}
}
