// Package cli implements the repovet command-line interface using cobra.
package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// Build metadata, set via ldflags by the release build.
var (
	Version   = "0.1.0-dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// ExitError carries a process exit code through the cobra error path so
// main can distinguish "operation failed" from "scan found problems".
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCodeError wraps err with an exit code. Returns nil when err is nil.
func ExitCodeError(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Err: err, Code: code}
}

// ExitCodeOf returns the exit code carried by err, defaulting to 1 for
// plain errors.
func ExitCodeOf(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repovet",
		Short: "Repository trust scoring before you depend on the code",
		Long: `Repovet scores a repository before you install it, vendor it, or let an
agent run its code. Every scan produces two 0-100 scores from the hosting
platform's public data:

  Safety      - dependency risks, code security patterns, configuration
                hygiene, code quality, maintenance posture
  Legitimacy  - working evidence, transparency, community signals, author
                reputation, licensing

Quick start:
  repovet scan https://github.com/owner/repo
  repovet scan --json https://github.com/owner/repo
  repovet serve --config repovet.yaml
  repovet check --config repovet.yaml`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		scanCmd(),
		serveCmd(),
		checkCmd(),
		versionCmd(),
	)

	return cmd
}
