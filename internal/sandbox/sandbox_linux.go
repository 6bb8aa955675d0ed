//go:build linux

package sandbox

import (
	"fmt"

	"github.com/landlock-lsm/go-landlock/landlock"
)

// apply installs the Landlock ruleset best-effort: the newest ABI the
// kernel supports is used, and missing paths are skipped rather than
// treated as errors.
func apply(p Paths) error {
	rules := make([]landlock.Rule, 0, 3)
	if len(p.ReadDirs) > 0 {
		rules = append(rules, landlock.RODirs(p.ReadDirs...).IgnoreIfMissing())
	}
	if len(p.ReadFiles) > 0 {
		rules = append(rules, landlock.ROFiles(p.ReadFiles...).IgnoreIfMissing())
	}
	if len(p.WriteDirs) > 0 {
		rules = append(rules, landlock.RWDirs(p.WriteDirs...).IgnoreIfMissing())
	}
	if err := landlock.V5.BestEffort().RestrictPaths(rules...); err != nil {
		return fmt.Errorf("landlock restrict: %w", err)
	}
	return nil
}
