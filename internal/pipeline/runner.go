// Package pipeline drives access logs through the parser, the request
// filter, and a session tracker into an output sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/szaher/sessionize/internal/config"
	"github.com/szaher/sessionize/internal/events"
	"github.com/szaher/sessionize/internal/filter"
	"github.com/szaher/sessionize/internal/parser"
	"github.com/szaher/sessionize/internal/session"
	"github.com/szaher/sessionize/internal/telemetry"
)

// Stats summarizes one processed log.
type Stats struct {
	Requests int `json:"requests"`
	Skipped  int `json:"skipped"`
	Filtered int `json:"filtered"`
	Sessions int `json:"sessions"`
}

// Lines returns the number of data lines read.
func (s Stats) Lines() int {
	return s.Requests + s.Skipped + s.Filtered
}

// Runner sessionizes logs. A Runner may be shared by concurrent runs; each
// run gets its own tracker.
type Runner struct {
	Threshold time.Duration
	Layout    string
	Filter    *filter.Filter
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
	Events    events.Emitter
}

// NewRunner builds a Runner from cfg. Logger, metrics and emitter may be nil.
func NewRunner(cfg config.Config, logger *slog.Logger, metrics *telemetry.Metrics, emitter events.Emitter) (*Runner, error) {
	threshold, err := cfg.Threshold()
	if err != nil {
		return nil, err
	}
	f, err := filter.Compile(cfg.Filter)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		Threshold: threshold,
		Layout:    cfg.TimeLayout,
		Filter:    f,
		Logger:    logger,
		Metrics:   metrics,
		Events:    emitter,
	}
	r.setDefaults()
	return r, nil
}

func (r *Runner) setDefaults() {
	if r.Logger == nil {
		r.Logger = slog.New(slog.DiscardHandler)
	}
	if r.Metrics == nil {
		r.Metrics = telemetry.NewMetrics()
	}
	if r.Events == nil {
		r.Events = events.NoopEmitter{}
	}
	if r.Layout == "" {
		r.Layout = parser.DefaultLayout
	}
}

// countingSink counts rows on their way to the real sink.
type countingSink struct {
	next  session.Sink
	count int
}

func (c *countingSink) Emit(row session.Row) error {
	c.count++
	return c.next.Emit(row)
}

// Run reads the log in, named name for diagnostics, and emits every session
// to sink in closure order. The tracker is finalized exactly once when the
// input is exhausted. On cancellation or error no final flush happens and
// the sessions still open are discarded.
func (r *Runner) Run(ctx context.Context, name string, in io.Reader, sink session.Sink) (Stats, error) {
	r.setDefaults()
	logger := telemetry.RunLogger(r.Logger, ctx, name)

	var stats Stats
	opts := []parser.Option{
		parser.WithFile(name),
		parser.WithLayout(r.Layout),
		parser.OnSkip(func(e *parser.LineError) {
			stats.Skipped++
			r.Metrics.RecordSkipped(e.Reason)
			logger.Warn("skipping malformed line", "line", e.Line, "reason", e.Reason, "error", e.Message)
		}),
	}
	if r.Filter.NeedsFields() {
		opts = append(opts, parser.WithFields())
	}

	reader, err := parser.NewReader(in, opts...)
	if err != nil {
		return stats, fmt.Errorf("%s: %w", name, err)
	}

	counter := &countingSink{next: sink}
	tracker, err := session.NewTracker(r.Threshold,
		session.WithSink(counter),
		session.WithLogger(logger),
		session.WithObserver(r.Metrics),
	)
	if err != nil {
		return stats, err
	}
	defer func() {
		if n := tracker.Discard(); n > 0 {
			logger.Warn("run aborted with open sessions", "discarded", n)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			stats.Sessions = counter.count
			return stats, err
		}

		req, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			stats.Sessions = counter.count
			return stats, fmt.Errorf("%s: %w", name, err)
		}

		drop, err := r.Filter.Match(req)
		if err != nil {
			stats.Sessions = counter.count
			return stats, err
		}
		if drop {
			stats.Filtered++
			r.Metrics.RecordFiltered()
			continue
		}

		if err := tracker.Process(req); err != nil {
			stats.Sessions = counter.count
			return stats, fmt.Errorf("%s: %w", name, err)
		}
		stats.Requests++
		r.Metrics.RecordRequest()
	}

	if err := tracker.Finalize(); err != nil {
		stats.Sessions = counter.count
		return stats, fmt.Errorf("%s: %w", name, err)
	}
	stats.Sessions = counter.count

	logger.Info("log sessionized",
		"requests", stats.Requests,
		"sessions", stats.Sessions,
		"skipped", stats.Skipped,
		"filtered", stats.Filtered,
	)
	return stats, nil
}
