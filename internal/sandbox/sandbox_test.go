package sandbox

import (
	"path/filepath"
	"testing"

	"github.com/repovet/repovet/internal/config"
)

func contains(paths []string, want string) bool {
	for _, p := range paths {
		if p == want {
			return true
		}
	}
	return false
}

func TestForConfigDerivesPaths(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Path = "/var/lib/repovet/scans.db"
	cfg.Log.Output = config.OutputFile
	cfg.Log.File = "/var/log/repovet/audit.log"

	p := ForConfig(cfg, "/etc/repovet/config.yml")

	if !contains(p.ReadDirs, "/etc/repovet") {
		t.Errorf("config dir missing from ReadDirs: %v", p.ReadDirs)
	}
	if !contains(p.ReadDirs, "/etc/ssl") {
		t.Errorf("cert dir missing from ReadDirs: %v", p.ReadDirs)
	}
	if !contains(p.ReadFiles, "/etc/resolv.conf") {
		t.Errorf("resolver config missing from ReadFiles: %v", p.ReadFiles)
	}
	if !contains(p.WriteDirs, "/var/lib/repovet") {
		t.Errorf("store dir missing from WriteDirs: %v", p.WriteDirs)
	}
	if !contains(p.WriteDirs, "/var/log/repovet") {
		t.Errorf("log dir missing from WriteDirs: %v", p.WriteDirs)
	}
}

func TestForConfigStdoutLoggingGrantsNoLogDir(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Path = "/var/lib/repovet/scans.db"
	cfg.Log.File = "/var/log/repovet/audit.log" // ignored: output is stdout

	p := ForConfig(cfg, "/etc/repovet/config.yml")

	if contains(p.WriteDirs, "/var/log/repovet") {
		t.Errorf("stdout logging must not grant the log dir: %v", p.WriteDirs)
	}
}

func TestForConfigResolvesRelativePaths(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Path = "data/scans.db"

	p := ForConfig(cfg, "config.yml")

	for _, dir := range p.WriteDirs {
		if !filepath.IsAbs(dir) {
			t.Errorf("WriteDirs entry %q is not absolute", dir)
		}
	}
	for _, dir := range p.ReadDirs {
		if !filepath.IsAbs(dir) {
			t.Errorf("ReadDirs entry %q is not absolute", dir)
		}
	}
}

func TestForConfigWithoutConfigFile(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Path = "/var/lib/repovet/scans.db"

	p := ForConfig(cfg, "")

	// No config file: nothing extra readable beyond the system paths.
	for _, dir := range p.ReadDirs {
		if dir == "." || dir == "" {
			t.Errorf("empty config path leaked into ReadDirs: %v", p.ReadDirs)
		}
	}
}
