// Package config handles loading, validating, and defaulting repovet configuration.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Severity constants for custom scan patterns.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Output/format constants for configuration defaults.
const (
	DefaultListen    = "127.0.0.1:8642"
	DefaultLogFormat = "json"
	LogFormatConsole = "console"
	DefaultLogOutput = "stdout"
	OutputFile       = "file"
	OutputBoth       = "both"
)

// Config is the top-level repovet configuration.
type Config struct {
	Version int     `yaml:"version"`
	Log     Log     `yaml:"log"`
	Forge   Forge   `yaml:"forge"`
	Scan    Scan    `yaml:"scan"`
	Server  Server  `yaml:"server"`
	Metrics Metrics `yaml:"metrics"`
	Sentry  Sentry  `yaml:"sentry"`
	Emit    Emit    `yaml:"emit"`
	Store   Store   `yaml:"store"`
	Sandbox Sandbox `yaml:"sandbox"`
}

// Log configures audit logging.
type Log struct {
	Format         string `yaml:"format"` // json, console
	Output         string `yaml:"output"` // stdout, file, both
	File           string `yaml:"file"`
	IncludeAllowed *bool  `yaml:"include_allowed"` // nil = true; false drops request_allowed events
}

// Forge configures the hosting-platform REST client. An empty user_agent
// means "repovet/<version>" composed at startup; set it only to override.
type Forge struct {
	BaseURL        string  `yaml:"base_url"`
	Host           string  `yaml:"host"` // accepted host in repository URLs
	Token          string  `yaml:"token"`
	UserAgent      string  `yaml:"user_agent"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	MaxContentKB   int     `yaml:"max_content_kb"` // per-file content fetch cap
}

// Scan configures the analysis and scoring pipeline.
type Scan struct {
	TimeoutSeconds          int           `yaml:"timeout_seconds"` // whole-scan deadline
	QualityPenalty          *bool         `yaml:"quality_penalty"` // nil = true; low quality deducts from safety
	LegacyLegitimacyWeights bool          `yaml:"legacy_legitimacy_weights"`
	Patterns                []ScanPattern `yaml:"patterns"` // extra code rules on top of the embedded tables
}

// ScanPattern is a custom content rule added to the code pattern detector.
// Exts restricts it to files with the listed extensions; empty means any
// sampled code file.
type ScanPattern struct {
	Name        string   `yaml:"name"`
	Regex       string   `yaml:"regex"`
	Severity    string   `yaml:"severity"` // critical, high, medium, low
	Description string   `yaml:"description"`
	CWE         string   `yaml:"cwe"`
	Exts        []string `yaml:"exts"`
}

// Server configures the HTTP API for serve mode.
type Server struct {
	Listen        string   `yaml:"listen"`
	AuthToken     string   `yaml:"auth_token"` // empty = no authentication
	Allowlist     []string `yaml:"allowlist"`  // owner/repo globs; empty = any repository
	RatePerMinute int      `yaml:"rate_per_minute"`
	MaxConns      int      `yaml:"max_conns"`
	Workers       int      `yaml:"workers"` // concurrent scans
}

// Metrics configures the Prometheus endpoint in serve mode.
type Metrics struct {
	Enabled *bool `yaml:"enabled"` // nil = true
}

// Sentry configures optional error reporting. Inactive when DSN is empty.
type Sentry struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// Emit configures event delivery to external sinks.
type Emit struct {
	Webhook Webhook `yaml:"webhook"`
	OTLP    OTLP    `yaml:"otlp"`
	Syslog  Syslog  `yaml:"syslog"`
}

// Webhook configures signed JSON event delivery. Inactive when URL is empty.
type Webhook struct {
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"` // HMAC signing key; empty = unsigned
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	QueueSize      int    `yaml:"queue_size"`
}

// OTLP configures log export to an OpenTelemetry collector. Inactive when
// Endpoint is empty.
type OTLP struct {
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Syslog configures event delivery to a syslog server. Inactive when
// Address is empty. Not available on Windows.
type Syslog struct {
	Address     string `yaml:"address"` // udp://host:port or tcp://host:port
	Facility    string `yaml:"facility"`
	Tag         string `yaml:"tag"`
	MinSeverity string `yaml:"min_severity"`
}

// Store configures scan-record persistence.
type Store struct {
	Path string `yaml:"path"`
}

// Sandbox configures kernel-level filesystem restriction for serve mode.
// Supported on Linux via Landlock; silently unavailable elsewhere.
type Sandbox struct {
	Enabled bool `yaml:"enabled"`
}

// QualityPenaltyEnabled returns whether low code quality deducts from the
// safety score. Defaults to true when not set in config.
func (c *Config) QualityPenaltyEnabled() bool {
	return c.Scan.QualityPenalty == nil || *c.Scan.QualityPenalty
}

// MetricsEnabled returns whether the /metrics and /stats endpoints are
// served. Defaults to true when not set in config.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Enabled == nil || *c.Metrics.Enabled
}

// LogsAllowedRequests returns whether request_allowed events are written.
// Defaults to true when not set in config.
func (c *Config) LogsAllowedRequests() bool {
	return c.Log.IncludeAllowed == nil || *c.Log.IncludeAllowed
}

// Load reads, parses, defaults, and validates a repovet config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path from caller
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	// Resolve relative file paths relative to the config file directory.
	if cfg.Log.File != "" && !filepath.IsAbs(cfg.Log.File) {
		cfg.Log.File = filepath.Join(filepath.Dir(path), cfg.Log.File)
	}
	if cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(filepath.Dir(path), cfg.Store.Path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Log.Output == "" {
		c.Log.Output = DefaultLogOutput
	}
	if c.Log.IncludeAllowed == nil {
		c.Log.IncludeAllowed = ptrBool(true)
	}
	if c.Forge.BaseURL == "" {
		c.Forge.BaseURL = "https://api.github.com"
	}
	if c.Forge.Host == "" {
		c.Forge.Host = "github.com"
	}
	if c.Forge.TimeoutSeconds <= 0 {
		c.Forge.TimeoutSeconds = 10
	}
	if c.Forge.RequestsPerSec <= 0 {
		c.Forge.RequestsPerSec = 8
	}
	if c.Forge.MaxContentKB <= 0 {
		c.Forge.MaxContentKB = 1024
	}
	if c.Scan.TimeoutSeconds <= 0 {
		c.Scan.TimeoutSeconds = 120
	}
	if c.Scan.QualityPenalty == nil {
		c.Scan.QualityPenalty = ptrBool(true)
	}
	for i := range c.Scan.Patterns {
		if c.Scan.Patterns[i].Severity == "" {
			c.Scan.Patterns[i].Severity = SeverityMedium
		}
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.RatePerMinute <= 0 {
		c.Server.RatePerMinute = 30
	}
	if c.Server.MaxConns <= 0 {
		c.Server.MaxConns = 256
	}
	if c.Server.Workers <= 0 {
		c.Server.Workers = 4
	}
	if c.Metrics.Enabled == nil {
		c.Metrics.Enabled = ptrBool(true)
	}
	if c.Emit.Webhook.TimeoutSeconds <= 0 {
		c.Emit.Webhook.TimeoutSeconds = 10
	}
	if c.Emit.Webhook.QueueSize <= 0 {
		c.Emit.Webhook.QueueSize = 64
	}
	if c.Emit.OTLP.TimeoutSeconds <= 0 {
		c.Emit.OTLP.TimeoutSeconds = 10
	}
	if c.Store.Path == "" {
		c.Store.Path = "repovet.db"
	}
}

// Validate checks the config for errors. Must be called after ApplyDefaults.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case DefaultLogFormat, LogFormatConsole:
		// valid
	default:
		return fmt.Errorf("invalid log format %q: must be json or console", c.Log.Format)
	}

	switch c.Log.Output {
	case DefaultLogOutput, OutputFile, OutputBoth:
		// valid
	default:
		return fmt.Errorf("invalid log output %q: must be stdout, file, or both", c.Log.Output)
	}

	if (c.Log.Output == OutputFile || c.Log.Output == OutputBoth) && c.Log.File == "" {
		return fmt.Errorf("log.file is required when output is %q", c.Log.Output)
	}

	u, err := url.Parse(c.Forge.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("forge.base_url %q must be an absolute http(s) URL", c.Forge.BaseURL)
	}

	if strings.Contains(c.Forge.Host, "/") {
		return fmt.Errorf("forge.host %q must be a bare hostname, not a URL", c.Forge.Host)
	}

	if c.Forge.TimeoutSeconds <= 0 {
		return fmt.Errorf("forge.timeout_seconds must be positive")
	}
	if c.Forge.RequestsPerSec <= 0 {
		return fmt.Errorf("forge.requests_per_sec must be positive")
	}
	if c.Forge.MaxContentKB <= 0 {
		return fmt.Errorf("forge.max_content_kb must be positive")
	}

	if c.Scan.TimeoutSeconds <= 0 {
		return fmt.Errorf("scan.timeout_seconds must be positive")
	}

	// Validate custom scan patterns compile as valid regexes
	for _, p := range c.Scan.Patterns {
		if p.Name == "" {
			return fmt.Errorf("scan pattern missing name")
		}
		if p.Regex == "" {
			return fmt.Errorf("scan pattern %q missing regex", p.Name)
		}
		if _, err := regexp.Compile(p.Regex); err != nil {
			return fmt.Errorf("scan pattern %q has invalid regex: %w", p.Name, err)
		}
		switch p.Severity {
		case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
			// valid
		default:
			return fmt.Errorf("scan pattern %q has invalid severity %q: must be critical, high, medium, or low", p.Name, p.Severity)
		}
		for _, ext := range p.Exts {
			if !strings.HasPrefix(ext, ".") {
				return fmt.Errorf("scan pattern %q extension %q must start with a dot", p.Name, ext)
			}
		}
	}

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("invalid server.listen %q: %w", c.Server.Listen, err)
	}

	// Auth tokens short enough to brute-force are worse than none at all.
	if c.Server.AuthToken != "" && len(c.Server.AuthToken) < 16 {
		return fmt.Errorf("server.auth_token must be at least 16 characters")
	}

	// Validate allowlist globs are well-formed
	for _, pattern := range c.Server.Allowlist {
		if pattern == "" {
			return fmt.Errorf("empty server.allowlist entry")
		}
		if _, err := path.Match(pattern, "owner/repo"); err != nil {
			return fmt.Errorf("invalid server.allowlist glob %q: %w", pattern, err)
		}
	}

	if c.Server.RatePerMinute <= 0 {
		return fmt.Errorf("server.rate_per_minute must be positive")
	}
	if c.Server.MaxConns <= 0 {
		return fmt.Errorf("server.max_conns must be positive")
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("server.workers must be positive")
	}

	if c.Emit.Webhook.URL != "" {
		wu, err := url.Parse(c.Emit.Webhook.URL)
		if err != nil || (wu.Scheme != "http" && wu.Scheme != "https") || wu.Host == "" {
			return fmt.Errorf("emit.webhook.url %q must be an absolute http(s) URL", c.Emit.Webhook.URL)
		}
	}
	if c.Emit.Webhook.Secret != "" && c.Emit.Webhook.URL == "" {
		return fmt.Errorf("emit.webhook.secret is set but emit.webhook.url is empty")
	}
	if c.Emit.OTLP.Endpoint != "" {
		ou, err := url.Parse(c.Emit.OTLP.Endpoint)
		if err != nil || (ou.Scheme != "http" && ou.Scheme != "https") || ou.Host == "" {
			return fmt.Errorf("emit.otlp.endpoint %q must be an absolute http(s) URL", c.Emit.OTLP.Endpoint)
		}
	}
	if c.Emit.Syslog.Address != "" {
		su, err := url.Parse(c.Emit.Syslog.Address)
		if err != nil || (su.Scheme != "udp" && su.Scheme != "tcp") || su.Host == "" {
			return fmt.Errorf("emit.syslog.address %q must be udp://host:port or tcp://host:port", c.Emit.Syslog.Address)
		}
		if _, _, err := net.SplitHostPort(su.Host); err != nil {
			return fmt.Errorf("invalid emit.syslog.address %q: %w", c.Emit.Syslog.Address, err)
		}
	}
	switch c.Emit.Syslog.MinSeverity {
	case "", "info", "warn", "critical":
		// valid
	default:
		return fmt.Errorf("invalid emit.syslog.min_severity %q (use info, warn, or critical)", c.Emit.Syslog.MinSeverity)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}

	// Warn if the scan API is exposed beyond loopback without authentication.
	// NOTE: these warnings print to stderr as a side effect.
	if c.Server.AuthToken == "" {
		if host, _, err := net.SplitHostPort(c.Server.Listen); err == nil {
			ip := net.ParseIP(host)
			if ip != nil && !ip.IsLoopback() {
				fmt.Fprintf(os.Stderr, "WARNING: server.listen %s is not loopback and no auth_token is set - the scan API will accept requests from the network\n", c.Server.Listen)
			}
			if host == "" || host == "0.0.0.0" || host == "::" {
				fmt.Fprintf(os.Stderr, "WARNING: server.listen %s binds to all interfaces - consider 127.0.0.1 or setting server.auth_token\n", c.Server.Listen)
			}
		}
	}

	return nil
}

// ReloadWarning describes a potential security downgrade from a config reload.
type ReloadWarning struct {
	Field   string
	Message string
}

// ValidateReload compares old and new configs and returns warnings for
// potential security downgrades. Warnings don't block the reload.
func ValidateReload(old, updated *Config) []ReloadWarning {
	var warnings []ReloadWarning

	// API authentication removed
	if old.Server.AuthToken != "" && updated.Server.AuthToken == "" {
		warnings = append(warnings, ReloadWarning{
			Field:   "server.auth_token",
			Message: "auth token removed; the scan API no longer requires authentication",
		})
	}

	// Repository allowlist emptied
	if len(old.Server.Allowlist) > 0 && len(updated.Server.Allowlist) == 0 {
		warnings = append(warnings, ReloadWarning{
			Field:   "server.allowlist",
			Message: "repository allowlist emptied; any public repository may be submitted",
		})
	}

	// Rate limit loosened
	if updated.Server.RatePerMinute > old.Server.RatePerMinute {
		warnings = append(warnings, ReloadWarning{
			Field:   "server.rate_per_minute",
			Message: fmt.Sprintf("rate limit raised from %d to %d requests per minute", old.Server.RatePerMinute, updated.Server.RatePerMinute),
		})
	}

	// Custom scan patterns removed
	if len(updated.Scan.Patterns) < len(old.Scan.Patterns) {
		warnings = append(warnings, ReloadWarning{
			Field:   "scan.patterns",
			Message: fmt.Sprintf("custom scan patterns reduced from %d to %d", len(old.Scan.Patterns), len(updated.Scan.Patterns)),
		})
	}

	// Quality penalty disabled
	if old.QualityPenaltyEnabled() && !updated.QualityPenaltyEnabled() {
		warnings = append(warnings, ReloadWarning{
			Field:   "scan.quality_penalty",
			Message: "code quality penalty disabled; low-quality repositories score higher",
		})
	}

	// Sandbox disabled
	if old.Sandbox.Enabled && !updated.Sandbox.Enabled {
		warnings = append(warnings, ReloadWarning{
			Field:   "sandbox.enabled",
			Message: "filesystem sandbox disabled",
		})
	}

	// Webhook signing removed while deliveries continue
	if old.Emit.Webhook.Secret != "" && updated.Emit.Webhook.Secret == "" && updated.Emit.Webhook.URL != "" {
		warnings = append(warnings, ReloadWarning{
			Field:   "emit.webhook.secret",
			Message: "webhook signing key removed; deliveries will be unsigned",
		})
	}

	return warnings
}

// Defaults returns a Config with sensible defaults for anonymous scanning
// against the public API.
func Defaults() *Config {
	cfg := &Config{
		Version: 1,
		Log: Log{
			Format:         DefaultLogFormat,
			Output:         DefaultLogOutput,
			IncludeAllowed: ptrBool(true),
		},
		Forge: Forge{
			BaseURL:        "https://api.github.com",
			Host:           "github.com",
			TimeoutSeconds: 10,
			RequestsPerSec: 8,
			MaxContentKB:   1024,
		},
		Scan: Scan{
			TimeoutSeconds: 120,
			QualityPenalty: ptrBool(true),
		},
		Server: Server{
			Listen:        DefaultListen,
			RatePerMinute: 30,
			MaxConns:      256,
			Workers:       4,
		},
		Metrics: Metrics{
			Enabled: ptrBool(true),
		},
		Emit: Emit{
			Webhook: Webhook{TimeoutSeconds: 10, QueueSize: 64},
			OTLP:    OTLP{TimeoutSeconds: 10},
		},
		Store: Store{
			Path: "repovet.db",
		},
	}
	return cfg
}

func ptrBool(v bool) *bool { return &v }
