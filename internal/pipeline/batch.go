package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/szaher/sessionize/internal/events"
	"github.com/szaher/sessionize/internal/output"
	"github.com/szaher/sessionize/internal/telemetry"
)

// File statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Opener resolves an input URI to a log stream.
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Job pairs one input log with its output target.
type Job struct {
	Input  string
	Output string
}

// FileResult holds the outcome of one job.
type FileResult struct {
	Input    string        `json:"input"`
	Output   string        `json:"output"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Stats    Stats         `json:"stats"`
	Error    string        `json:"error,omitempty"`
}

// BatchResult holds the outcome of RunFiles.
type BatchResult struct {
	Files         []FileResult  `json:"files"`
	Status        string        `json:"status"`
	TotalDuration time.Duration `json:"total_duration"`
}

// RunFiles sessionizes every job with its own tracker, running up to
// workers jobs at once. The first failure cancels the jobs still running.
// Results are reported in job order.
func (r *Runner) RunFiles(ctx context.Context, opener Opener, jobs []Job, opts output.Options, workers int) (*BatchResult, error) {
	r.setDefaults()
	start := time.Now()
	runID := telemetry.RunID(ctx)

	result := &BatchResult{
		Files:  make([]FileResult, len(jobs)),
		Status: StatusCompleted,
	}
	r.Events.Emit(events.New(events.RunStarted, runID).WithData("files", len(jobs)))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	var mu sync.Mutex
	for i, job := range jobs {
		result.Files[i] = FileResult{Input: job.Input, Output: job.Output, Status: StatusCancelled}
		g.Go(func() error {
			fr := r.RunJob(gctx, opener, job, opts)
			mu.Lock()
			result.Files[i] = fr
			mu.Unlock()
			if fr.Status == StatusFailed {
				return fmt.Errorf("%s: %s", job.Input, fr.Error)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	result.TotalDuration = time.Since(start)
	if err != nil {
		result.Status = StatusFailed
	}
	r.Events.Emit(events.New(events.RunCompleted, runID).
		WithData("status", result.Status).
		WithData("duration_ms", result.TotalDuration.Milliseconds()))
	return result, err
}

// RunJob sessionizes a single job and reports its outcome. Failures are
// recorded in the result rather than returned.
func (r *Runner) RunJob(ctx context.Context, opener Opener, job Job, opts output.Options) FileResult {
	start := time.Now()
	runID := telemetry.RunID(ctx)
	fr := FileResult{Input: job.Input, Output: job.Output}

	fail := func(err error) FileResult {
		fr.Duration = time.Since(start)
		fr.Status = StatusFailed
		if ctx.Err() != nil {
			fr.Status = StatusCancelled
		}
		fr.Error = err.Error()
		r.Metrics.RecordFile(fr.Status)
		r.Events.Emit(events.New(events.FileFailed, runID).
			WithData("input", job.Input).
			WithData("error", fr.Error))
		return fr
	}

	if ctx.Err() != nil {
		fr.Status = StatusCancelled
		return fr
	}
	r.Events.Emit(events.New(events.FileStarted, runID).WithData("input", job.Input))

	in, err := opener.Open(ctx, job.Input)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = in.Close() }()

	w, err := output.Open(ctx, job.Output, opts)
	if err != nil {
		return fail(err)
	}

	stats, err := r.Run(ctx, job.Input, in, w)
	fr.Stats = stats
	if err != nil {
		_ = w.Close()
		return fail(err)
	}
	if err := w.Close(); err != nil {
		return fail(fmt.Errorf("closing %s: %w", job.Output, err))
	}

	fr.Duration = time.Since(start)
	fr.Status = StatusCompleted
	r.Metrics.RecordFile(fr.Status)
	r.Events.Emit(events.New(events.FileCompleted, runID).
		WithData("input", job.Input).
		WithData("output", job.Output).
		WithData("sessions", stats.Sessions).
		WithData("duration_ms", fr.Duration.Milliseconds()))
	return fr
}
