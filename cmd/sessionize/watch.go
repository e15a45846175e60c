package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/szaher/sessionize/internal/output"
	"github.com/szaher/sessionize/internal/pipeline"
	"github.com/szaher/sessionize/internal/state"
	"github.com/szaher/sessionize/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var (
		dir         string
		outDir      string
		settle      time.Duration
		existing    bool
		metricsAddr string
		stateFile   string
	)

	cmd := &cobra.Command{
		Use:   "watch --dir IN --out-dir OUT",
		Short: "Sessionize logs as they arrive in a directory",
		Long:  "Watches a directory for new .csv and .zip logs and sessionizes each one once it stops changing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.cfg.Validate(); err != nil {
				return err
			}
			runner, err := pipeline.NewRunner(a.cfg, a.logger, a.metrics, a.emitter)
			if err != nil {
				return err
			}

			var st state.Backend
			if stateFile != "" {
				st = state.NewLocalBackend(stateFile)
			}

			w, err := watch.New(watch.Options{
				Dir:      dir,
				OutDir:   outDir,
				Settle:   settle,
				Existing: existing,
				Output:   output.OptionsFromConfig(a.cfg),
				Runner:   runner,
				Opener:   a.opener(),
				Logger:   a.logger,
				State:    st,
				OnDone: func(pipeline.FileResult) {
					if err := a.writeMetrics(); err != nil {
						a.logger.Warn("metrics not written", "error", err)
					}
				},
			})
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", a.metrics.Handler())
				srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					a.logger.Info("serving metrics", "addr", metricsAddr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics server stopped", "error", err)
					}
				}()
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(ctx)
				}()
			}

			return w.Run(a.ctx)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "Directory to watch")
	cmd.Flags().StringVar(&outDir, "out-dir", "sessions", "Directory for session files")
	cmd.Flags().DurationVar(&settle, "settle", watch.DefaultSettle, "Quiet time before a file is processed")
	cmd.Flags().BoolVar(&existing, "existing", false, "Also process logs already in the directory")
	cmd.Flags().StringVar(&stateFile, "state", "", "Record processed logs in this JSON file and skip them on restart")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}
