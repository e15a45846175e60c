package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/szaher/sessionize/internal/events"
	"github.com/szaher/sessionize/internal/output"
	"github.com/szaher/sessionize/internal/pipeline"
	"github.com/szaher/sessionize/internal/source"
	"github.com/szaher/sessionize/internal/watch"
)

func newBatchCmd() *cobra.Command {
	var (
		outDir   string
		workers  int
		eventLog string
	)

	cmd := &cobra.Command{
		Use:   "batch --out-dir DIR [logs...]",
		Short: "Sessionize several logs in parallel",
		Long:  "Each log gets its own session tracker and its own <name>.sessions.csv in the output directory. The first failure cancels the rest.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			cfg := a.cfg
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg

			collector := &events.CollectorEmitter{}
			runner, err := pipeline.NewRunner(cfg, a.logger, a.metrics, events.Tee(a.emitter, collector))
			if err != nil {
				return err
			}

			jobs, err := batchJobs(args, outDir, cfg.Format)
			if err != nil {
				return err
			}

			res, runErr := runner.RunFiles(a.ctx, a.opener(), jobs, output.OptionsFromConfig(cfg), cfg.Workers)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, f := range res.Files {
				fmt.Fprintf(tw, "%s\t%s\t%d sessions\t%s\n", f.Input, f.Status, f.Stats.Sessions, f.Output)
			}
			_ = tw.Flush()

			if eventLog != "" {
				if err := events.ExportLog(collector.Events, eventLog); err != nil {
					return fmt.Errorf("writing event log: %w", err)
				}
			}
			if err := a.writeMetrics(); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&outDir, "out-dir", ".", "Directory for session files")
	cmd.Flags().IntVar(&workers, "workers", 4, "Logs processed at once")
	cmd.Flags().StringVar(&eventLog, "event-log", "", "Write all run events to this JSON file")

	return cmd
}

// batchJobs maps each input to its session file in outDir. Two inputs that
// would share a session file are rejected.
func batchJobs(inputs []string, outDir, format string) ([]pipeline.Job, error) {
	jobs := make([]pipeline.Job, len(inputs))
	seen := make(map[string]string, len(inputs))
	for i, in := range inputs {
		out := watch.OutputPath(outDir, source.Name(in), format)
		if prev, ok := seen[out]; ok {
			return nil, fmt.Errorf("%s and %s would both write %s", prev, in, out)
		}
		seen[out] = in
		jobs[i] = pipeline.Job{Input: in, Output: out}
	}
	return jobs, nil
}
