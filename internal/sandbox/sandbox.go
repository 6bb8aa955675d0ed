// Package sandbox confines the serve process to the filesystem paths it
// actually needs. On Linux this uses Landlock; the kernel then refuses
// access to everything else even if the process is later compromised
// through a malicious repository. Other platforms report ErrUnsupported
// and run unconfined.
package sandbox

import (
	"errors"
	"path/filepath"

	"github.com/repovet/repovet/internal/config"
)

// ErrUnsupported is returned by Apply on platforms without Landlock.
// Callers treat it as a skipped sandbox, not a failure.
var ErrUnsupported = errors.New("sandbox not supported on this platform")

// Paths lists the filesystem access the process keeps after Apply. Dirs
// cover their whole subtree. Paths that do not exist are skipped.
type Paths struct {
	ReadDirs  []string
	ReadFiles []string
	WriteDirs []string
}

// ForConfig derives the path set a serve process needs. System TLS and DNS
// data stay readable so outbound platform API calls keep working, the config
// directory stays readable for hot reload, and only the scan store and log
// file directories stay writable.
func ForConfig(cfg *config.Config, configPath string) Paths {
	p := Paths{
		ReadDirs: []string{
			"/etc/ssl",
			"/etc/pki",
			"/etc/ca-certificates",
			"/usr/share/ca-certificates",
			"/usr/local/share/ca-certificates",
		},
		ReadFiles: []string{
			"/etc/resolv.conf",
			"/etc/hosts",
			"/etc/nsswitch.conf",
			"/etc/ca-certificates.conf",
			"/dev/urandom",
		},
		// SQLite may spill large sorts to temporary files.
		WriteDirs: []string{"/tmp"},
	}

	if configPath != "" {
		// The reloader watches the directory, not just the file, so renames
		// from editors and configmap updates are picked up.
		p.ReadDirs = append(p.ReadDirs, filepath.Dir(absPath(configPath)))
	}
	if cfg.Store.Path != "" {
		// The WAL and shared-memory files live next to the database.
		p.WriteDirs = append(p.WriteDirs, filepath.Dir(absPath(cfg.Store.Path)))
	}
	if cfg.Log.File != "" && (cfg.Log.Output == config.OutputFile || cfg.Log.Output == config.OutputBoth) {
		p.WriteDirs = append(p.WriteDirs, filepath.Dir(absPath(cfg.Log.File)))
	}
	return p
}

// Apply restricts the current process to p. Kernels with an older Landlock
// ABI enforce what they can; kernels without Landlock at all enforce
// nothing. Both are better served degraded than crashed.
func Apply(p Paths) error {
	return apply(p)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
