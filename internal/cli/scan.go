package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/repovet/repovet/internal/analyze"
	"github.com/repovet/repovet/internal/audit"
	"github.com/repovet/repovet/internal/config"
	"github.com/repovet/repovet/internal/pipeline"
	"github.com/repovet/repovet/internal/sbom"
)

func scanCmd() *cobra.Command {
	var configFile string
	var token string
	var failOn string
	var sbomFile string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan <repository-url>",
		Short: "Score one repository and print the report",
		Long: `Scan a repository and print its safety and legitimacy scores.

The scan fetches the repository's metadata, file listing, manifests, and
sampled code through the hosting platform's REST API; nothing is cloned or
executed. Output is a text report by default, the full scoring artifact
with --json.

Examples:
  repovet scan https://github.com/owner/repo
  repovet scan --json https://github.com/owner/repo | jq .overall_score
  repovet scan --fail-on high https://github.com/owner/repo
  repovet scan --sbom repo.cdx.json https://github.com/owner/repo`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch failOn {
			case "none", "low", "medium", "high", "critical":
			default:
				return fmt.Errorf("invalid --fail-on %q: must be none, low, medium, high, or critical", failOn)
			}

			var cfg *config.Config
			var err error
			if configFile != "" {
				cfg, err = config.Load(configFile)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
			} else {
				cfg = config.Defaults()
			}
			if token != "" {
				cfg.Forge.Token = token
			}

			// One-shot scans report through stdout; the audit stream is a
			// serve-mode concern.
			sc := pipeline.New(cfg, Version, audit.NewNop())

			ctx, cancel := signal.NotifyContext(
				context.Background(),
				syscall.SIGINT,
				syscall.SIGTERM,
			)
			defer cancel()

			out, err := sc.Scan(ctx, uuid.NewString(), args[0])
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(out.Result); err != nil {
					return fmt.Errorf("encoding result: %w", err)
				}
			} else {
				printReport(cmd.OutOrStdout(), out)
			}

			if sbomFile != "" {
				bom := sbom.Build(ctx, sc.Client(), out.Snapshot, Version)
				f, err := os.Create(sbomFile) //nolint:gosec // G304: path from caller
				if err != nil {
					return fmt.Errorf("creating SBOM file: %w", err)
				}
				if err := sbom.Write(f, bom); err != nil {
					_ = f.Close()
					return fmt.Errorf("writing SBOM: %w", err)
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("writing SBOM: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "SBOM written to %s\n", sbomFile)
			}

			if n := findingsAtOrAbove(out.Result.Summary, failOn); n > 0 {
				return ExitCodeError(2, fmt.Errorf("%d findings at or above %s severity", n, failOn))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&token, "token", "", "platform API token (overrides config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full scoring artifact as JSON")
	cmd.Flags().StringVar(&sbomFile, "sbom", "", "write a CycloneDX SBOM of the parsed dependencies to this file")
	cmd.Flags().StringVar(&failOn, "fail-on", "none", "exit 2 when findings at or above this severity exist: none, low, medium, high, critical")

	return cmd
}

// findingsAtOrAbove counts findings at or above the given severity floor.
// "none" disables the check.
func findingsAtOrAbove(sum analyze.Summary, floor string) int {
	switch floor {
	case "critical":
		return sum.CriticalCount
	case "high":
		return sum.CriticalCount + sum.HighCount
	case "medium":
		return sum.CriticalCount + sum.HighCount + sum.MediumCount
	case "low":
		return sum.TotalCount
	}
	return 0
}

func printReport(w io.Writer, out *pipeline.Outcome) {
	res := out.Result
	fmt.Fprintf(w, "repovet v%s  %s\n\n", Version, out.Snapshot.Ref.String())
	fmt.Fprintf(w, "  Safety:      %3d/100\n", res.SafetyScore)
	fmt.Fprintf(w, "  Legitimacy:  %3d/100\n", res.LegitimacyScore)
	fmt.Fprintf(w, "  Overall:     %3d/100  (%s)\n", res.OverallScore, res.Grade())
	fmt.Fprintf(w, "  Confidence:  %3d/100\n", res.Confidence)

	if res.Summary.TotalCount > 0 {
		fmt.Fprintf(w, "\n  Findings: %d (%d critical, %d high, %d medium, %d low)\n",
			res.Summary.TotalCount,
			res.Summary.CriticalCount,
			res.Summary.HighCount,
			res.Summary.MediumCount,
			res.Summary.LowCount,
		)
		for _, v := range res.Vulnerabilities {
			fmt.Fprintf(w, "    [%s] %s (%s)\n", strings.ToUpper(string(v.Severity)), v.Description, v.Location)
		}
	}

	if len(res.RiskFactors) > 0 {
		fmt.Fprintf(w, "\n  Risk factors:\n")
		for _, r := range res.RiskFactors {
			fmt.Fprintf(w, "    - %s\n", r)
		}
	}
	if len(res.PositiveIndicators) > 0 {
		fmt.Fprintf(w, "\n  Positive indicators:\n")
		for _, p := range res.PositiveIndicators {
			fmt.Fprintf(w, "    - %s\n", p)
		}
	}
	if len(out.Degraded) > 0 {
		fmt.Fprintf(w, "\n  Warning: %s unavailable; scores computed from partial data\n",
			strings.Join(out.Degraded, ", "))
	}
}
