package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/repovet/repovet/internal/audit"
	"github.com/repovet/repovet/internal/config"
	"github.com/repovet/repovet/internal/emit"
	"github.com/repovet/repovet/internal/metrics"
	"github.com/repovet/repovet/internal/pipeline"
	"github.com/repovet/repovet/internal/sandbox"
	"github.com/repovet/repovet/internal/server"
	"github.com/repovet/repovet/internal/store"
)

func serveCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan API server",
		Long: `Run the HTTP API that accepts scan submissions, processes them with a
worker pool, and serves results and a WebSocket event stream.

The config file is watched for changes; edits and SIGHUP apply gate,
pipeline, and sink settings without restart. The listen address, worker
count, and log settings are bound at startup.

Examples:
  repovet serve
  repovet serve --config repovet.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			// Confine before opening anything: every file the process needs
			// from here on lives under a path the sandbox grants.
			if cfg.Sandbox.Enabled {
				if err := sandbox.Apply(sandbox.ForConfig(cfg, configFile)); err != nil {
					if !errors.Is(err, sandbox.ErrUnsupported) {
						return fmt.Errorf("applying sandbox: %w", err)
					}
					fmt.Fprintln(os.Stderr, "repovet: sandbox enabled but unsupported on this platform; continuing unconfined")
				}
			}

			logger, err := audit.New(cfg.Log.Format, cfg.Log.Output, cfg.Log.File, cfg.LogsAllowedRequests())
			if err != nil {
				return fmt.Errorf("creating audit logger: %w", err)
			}
			defer logger.Close()

			if cfg.Sentry.DSN != "" {
				err := sentry.Init(sentry.ClientOptions{
					Dsn:         cfg.Sentry.DSN,
					Environment: cfg.Sentry.Environment,
					Release:     "repovet@" + Version,
				})
				if err != nil {
					return fmt.Errorf("initializing sentry: %w", err)
				}
				defer sentry.Flush(2 * time.Second)
			}

			db, err := store.Open(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("opening scan store: %w", err)
			}
			defer func() { _ = db.Close() }()

			sc := pipeline.New(cfg, Version, logger)
			m := metrics.New()
			srv := server.New(cfg, logger, sc, db, m, Version,
				server.WithSinks(buildSinks(cfg)...))
			defer srv.Close()

			ctx, cancel := signal.NotifyContext(
				context.Background(),
				syscall.SIGINT,
				syscall.SIGTERM,
			)
			defer cancel()

			if configFile != "" {
				watchConfig(ctx, configFile, srv, logger)
			}

			fmt.Fprintf(os.Stderr, "repovet v%s starting\n", Version)
			fmt.Fprintf(os.Stderr, "  Platform: %s (%s)\n", cfg.Forge.Host, cfg.Forge.BaseURL)
			fmt.Fprintf(os.Stderr, "  Listen:   %s\n", cfg.Server.Listen)
			fmt.Fprintf(os.Stderr, "  API:      http://%s/api/v1/scans\n", cfg.Server.Listen)
			fmt.Fprintf(os.Stderr, "  Events:   ws://%s/api/v1/events\n", cfg.Server.Listen)
			fmt.Fprintf(os.Stderr, "  Health:   http://%s/healthz\n", cfg.Server.Listen)
			if cfg.MetricsEnabled() {
				fmt.Fprintf(os.Stderr, "  Metrics:  http://%s/metrics\n", cfg.Server.Listen)
			}

			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}

			fmt.Fprintln(os.Stderr, "\nrepovet stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")

	return cmd
}

// watchConfig starts the file watcher and applies validated reloads to the
// running server. Reload warnings (security downgrades) go to stderr; a
// reload never blocks or restarts the server.
func watchConfig(ctx context.Context, configFile string, srv *server.Server, logger *audit.Logger) {
	rel := config.NewReloader(configFile)
	go func() {
		if err := rel.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "repovet: config watcher: %v\n", err)
		}
	}()
	go func() {
		for newCfg := range rel.Changes() {
			for _, w := range config.ValidateReload(srv.CurrentConfig(), newCfg) {
				fmt.Fprintf(os.Stderr, "WARNING: %s: %s\n", w.Field, w.Message)
			}
			srv.Reload(newCfg, pipeline.New(newCfg, Version, logger))
			srv.ReloadSinks(buildSinks(newCfg))
			logger.LogConfigReload("applied", configFile)
		}
	}()
}

// buildSinks constructs the configured external event sinks. A sink that
// cannot be constructed is skipped with a warning; event delivery is
// best-effort and must not keep the service down.
func buildSinks(cfg *config.Config) []emit.Sink {
	var sinks []emit.Sink

	if cfg.Emit.Webhook.URL != "" {
		opts := []emit.WebhookOption{
			emit.WithQueueSize(cfg.Emit.Webhook.QueueSize),
			emit.WithWebhookTimeout(time.Duration(cfg.Emit.Webhook.TimeoutSeconds) * time.Second),
		}
		if cfg.Emit.Webhook.Secret != "" {
			opts = append(opts, emit.WithSigningSecret(cfg.Emit.Webhook.Secret))
		}
		sinks = append(sinks, emit.NewWebhookSink(cfg.Emit.Webhook.URL, opts...))
	}

	if cfg.Emit.Syslog.Address != "" {
		snk, err := emit.NewSyslogSinkFromConfig(
			cfg.Emit.Syslog.Address,
			cfg.Emit.Syslog.Facility,
			cfg.Emit.Syslog.Tag,
			cfg.Emit.Syslog.MinSeverity,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "repovet: syslog sink unavailable: %v\n", err)
		} else {
			sinks = append(sinks, snk)
		}
	}

	if cfg.Emit.OTLP.Endpoint != "" {
		snk, err := emit.NewOTLPSink(
			cfg.Emit.OTLP.Endpoint,
			emit.WithOTLPTimeout(time.Duration(cfg.Emit.OTLP.TimeoutSeconds)*time.Second),
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "repovet: otlp sink unavailable: %v\n", err)
		} else {
			sinks = append(sinks, snk)
		}
	}

	return sinks
}
