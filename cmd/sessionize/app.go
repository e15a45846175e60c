package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/szaher/sessionize/internal/config"
	"github.com/szaher/sessionize/internal/events"
	"github.com/szaher/sessionize/internal/output"
	"github.com/szaher/sessionize/internal/secrets"
	"github.com/szaher/sessionize/internal/source"
	"github.com/szaher/sessionize/internal/telemetry"
)

// app bundles what every command needs: the effective config, a logger,
// metrics, an event emitter, and a cancellable run context.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	redactor *secrets.Redactor
	metrics  *telemetry.Metrics
	emitter  events.Emitter
	ctx      context.Context

	cleanup []func()
}

// newApp loads the config and builds the shared run state. Callers must
// call close when done.
func newApp(cmd *cobra.Command) (*app, error) {
	if len(envFiles) > 0 {
		if err := config.LoadEnvFiles(envFiles...); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	level := telemetry.ParseLevel(cfg.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}

	base := telemetry.NewLoggerFormat(cmd.ErrOrStderr(), level, cfg.LogFormat)
	a := &app{
		cfg:      cfg,
		redactor: secrets.NewRedactor(base.Handler()),
		metrics:  telemetry.NewMetrics(),
		emitter:  events.NoopEmitter{},
	}
	a.logger = slog.New(a.redactor)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	a.ctx = telemetry.WithRunID(ctx, runID)
	a.cleanup = append(a.cleanup, stop)

	if eventsFile != "" {
		w, closeEvents, err := openEvents(cmd, eventsFile)
		if err != nil {
			a.close()
			return nil, err
		}
		a.emitter = events.NewJSONEmitter(w)
		a.cleanup = append(a.cleanup, closeEvents)
	}

	a.logger = a.logger.With("run_id", telemetry.RunID(a.ctx))
	return a, nil
}

func openEvents(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "-" {
		return cmd.ErrOrStderr(), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening events file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// writeMetrics writes the metrics textfile when one is configured.
func (a *app) writeMetrics() error {
	if a.cfg.MetricsFile == "" {
		return nil
	}
	if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
}

// opener returns a source opener configured from the effective config.
func (a *app) opener() *source.Opener {
	ua := a.cfg.HTTP.UserAgent
	if ua == "" {
		ua = "sessionize/" + version
	}
	return source.NewOpener(a.cfg.S3,
		source.WithRateLimit(a.cfg.HTTP.RateLimit),
		source.WithUserAgent(ua),
	)
}

// resolveOutput maps the "postgres" output keyword to the configured DSN,
// resolving env(...) and file(...) references. Connection strings are
// registered for redaction from logs.
func (a *app) resolveOutput(target string) (string, error) {
	if target == "postgres" {
		if a.cfg.Postgres.DSN == "" {
			return "", fmt.Errorf("output is postgres but no postgres.dsn is configured")
		}
		dsn, err := secrets.Resolve(a.ctx, secrets.NewRefResolver(), a.cfg.Postgres.DSN)
		if err != nil {
			return "", fmt.Errorf("resolving postgres.dsn: %w", err)
		}
		target = dsn
	}
	if output.IsPostgres(target) {
		a.redactor.AddDSN(target)
	}
	return target, nil
}
