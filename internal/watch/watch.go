// Package watch sessionizes log files as they appear in a directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/szaher/sessionize/internal/config"
	"github.com/szaher/sessionize/internal/output"
	"github.com/szaher/sessionize/internal/pipeline"
	"github.com/szaher/sessionize/internal/state"
)

// DefaultSettle is how long a file must go without writes before it is
// processed.
const DefaultSettle = 2 * time.Second

// Options configures a Watcher.
type Options struct {
	// Dir is the directory watched for new logs.
	Dir string
	// OutDir receives one "<name>.sessions.<ext>" file per log.
	OutDir string
	// Settle overrides DefaultSettle.
	Settle time.Duration
	// Existing processes logs already present in Dir on Run.
	Existing bool
	Output   output.Options
	Runner   *pipeline.Runner
	Opener   pipeline.Opener
	Logger   *slog.Logger
	// State, if set, records processed logs. Logs it holds as completed
	// are never processed again.
	State state.Backend
	// OnDone, if set, is called after each file is processed.
	OnDone func(pipeline.FileResult)
}

// Watcher processes each new log in a directory until it completes once.
type Watcher struct {
	opts    Options
	fs      *fsnotify.Watcher
	pending map[string]time.Time
	done    map[string]bool
}

// New validates opts and starts watching opts.Dir. Events that arrive
// before Run are queued by fsnotify.
func New(opts Options) (*Watcher, error) {
	if opts.Dir == "" || opts.OutDir == "" {
		return nil, errors.New("watch: input and output directories are required")
	}
	if opts.Runner == nil || opts.Opener == nil {
		return nil, errors.New("watch: runner and opener are required")
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(opts.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Add(opts.Dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", opts.Dir, err)
	}
	w := &Watcher{
		opts:    opts,
		fs:      fw,
		pending: make(map[string]time.Time),
		done:    make(map[string]bool),
	}
	if opts.State != nil {
		entries, err := opts.State.Load()
		if err != nil {
			_ = fw.Close()
			return nil, err
		}
		for _, e := range entries {
			if e.Status == state.StatusCompleted {
				w.done[e.Input] = true
			}
		}
	}
	return w, nil
}

// Run processes files until ctx is cancelled. It closes the underlying
// watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fs.Close() }()

	if w.opts.Existing {
		entries, err := os.ReadDir(w.opts.Dir)
		if err != nil {
			return fmt.Errorf("listing %s: %w", w.opts.Dir, err)
		}
		now := time.Now()
		for _, e := range entries {
			if !e.IsDir() {
				w.queue(filepath.Join(w.opts.Dir, e.Name()), now)
			}
		}
	}

	tick := time.NewTicker(max(w.opts.Settle/4, 10*time.Millisecond))
	defer tick.Stop()

	w.opts.Logger.Info("watching for logs", "dir", w.opts.Dir, "out_dir", w.opts.OutDir)
	for {
		select {
		case <-ctx.Done():
			w.opts.Logger.Info("watcher stopped", "processed", len(w.done), "pending", len(w.pending))
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				w.queue(ev.Name, time.Now())
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				delete(w.pending, ev.Name)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.opts.Logger.Warn("watch error", "error", err)

		case now := <-tick.C:
			for path, last := range w.pending {
				if now.Sub(last) < w.opts.Settle {
					continue
				}
				delete(w.pending, path)
				if w.process(ctx, path) {
					w.done[path] = true
				}
			}
		}
	}
}

func (w *Watcher) queue(path string, at time.Time) {
	if w.done[path] || !IsLog(path) {
		return
	}
	w.pending[path] = at
}

// process sessionizes path and reports whether it completed. A log that
// failed is picked up again when it is next written.
func (w *Watcher) process(ctx context.Context, path string) bool {
	job := pipeline.Job{Input: path, Output: OutputPath(w.opts.OutDir, path, w.opts.Output.Format)}
	res := w.opts.Runner.RunJob(ctx, w.opts.Opener, job, w.opts.Output)

	logger := w.opts.Logger.With("input", job.Input, "output", job.Output)
	if res.Status == pipeline.StatusCompleted {
		logger.Info("log sessionized", "sessions", res.Stats.Sessions, "duration", res.Duration)
	} else {
		logger.Error("log failed", "status", res.Status, "error", res.Error)
	}
	if w.opts.State != nil {
		entry := state.Entry{
			Input:       res.Input,
			Output:      res.Output,
			Status:      state.StatusFailed,
			Sessions:    res.Stats.Sessions,
			ProcessedAt: time.Now(),
			Error:       res.Error,
		}
		if res.Status == pipeline.StatusCompleted {
			entry.Status = state.StatusCompleted
		}
		if err := w.opts.State.Record(entry); err != nil {
			logger.Warn("state not recorded", "error", err)
		}
	}
	if w.opts.OnDone != nil {
		w.opts.OnDone(res)
	}
	return res.Status == pipeline.StatusCompleted
}

// IsLog reports whether path names a log the watcher picks up.
func IsLog(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.Contains(base, ".sessions.") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".csv", ".zip":
		return true
	}
	return false
}

// OutputPath returns the session file written for input into dir.
func OutputPath(dir, input, format string) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	ext := "csv"
	if format == config.FormatJSONL {
		ext = "jsonl"
	}
	return filepath.Join(dir, base+".sessions."+ext)
}
