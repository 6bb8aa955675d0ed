package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/repovet/repovet/internal/config"
	"github.com/repovet/repovet/internal/forge"
)

// ErrURLRejected is returned when check --repo-url rejects the URL.
var ErrURLRejected = errors.New("repository url rejected")

func checkCmd() *cobra.Command {
	var configFile string
	var repoURL string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate config or test a repository URL",
		Long: `Validate a repovet config file and optionally test whether a repository
URL would be accepted for scanning.

Examples:
  repovet check --config repovet.yaml
  repovet check --config repovet.yaml --repo-url https://github.com/owner/repo
  repovet check --repo-url https://github.com/owner/repo.git`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			if configFile != "" {
				var err error
				cfg, err = config.Load(configFile)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Config validation FAILED: %v\n", err)
					return err
				}
				cmd.Println("Config validation: OK")
			} else {
				cfg = config.Defaults()
				cmd.Println("Using default config (no --config specified)")
			}

			auth := "disabled"
			if cfg.Server.AuthToken != "" {
				auth = "enabled"
			}
			allowlist := "any repository"
			if n := len(cfg.Server.Allowlist); n > 0 {
				allowlist = fmt.Sprintf("%d patterns", n)
			}
			cmd.Printf("  Platform:        %s (%s)\n", cfg.Forge.Host, cfg.Forge.BaseURL)
			cmd.Printf("  Listen:          %s\n", cfg.Server.Listen)
			cmd.Printf("  Auth:            %s\n", auth)
			cmd.Printf("  Allowlist:       %s\n", allowlist)
			cmd.Printf("  Rate limit:      %d/minute per client\n", cfg.Server.RatePerMinute)
			cmd.Printf("  Workers:         %d\n", cfg.Server.Workers)
			cmd.Printf("  Scan timeout:    %ds\n", cfg.Scan.TimeoutSeconds)
			cmd.Printf("  Store:           %s\n", cfg.Store.Path)
			cmd.Printf("  Custom patterns: %d\n", len(cfg.Scan.Patterns))

			if repoURL != "" {
				ref, err := forge.ParseRepoURL(repoURL, cfg.Forge.Host)
				if err != nil {
					cmd.Printf("\nRepository URL: REJECTED\n  %v\n", err)
					return ErrURLRejected
				}
				cmd.Printf("\nRepository URL: OK (%s)\n", ref.String())
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path to validate")
	cmd.Flags().StringVar(&repoURL, "repo-url", "", "repository URL to test against the URL rules")

	return cmd
}
