package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/szaher/sessionize/internal/output"
	"github.com/szaher/sessionize/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	var (
		inactivity  time.Duration
		out         string
		format      string
		filterExpr  string
		metricsFile string
		timeLayout  string
		header      bool
	)

	cmd := &cobra.Command{
		Use:   "run [log] [inactivity_period.txt] [output]",
		Short: "Sessionize one access log",
		Long: `Reads a log (a path, http(s):// or s3:// URL, zip archive, or - for
standard input) and writes one row per session in closure order.

The optional second argument names a file holding the inactivity period in
whole seconds. The output may be a path, - for standard output, a
postgres:// URL, or the word postgres to use the configured DSN.`,
		Args: cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			cfg := a.cfg
			input := "-"
			if len(args) > 0 {
				input = args[0]
			}
			if len(args) > 1 {
				cfg.InactivityFile = args[1]
			}
			if len(args) > 2 {
				cfg.Output = args[2]
			}

			flags := cmd.Flags()
			if flags.Changed("inactivity") {
				cfg.InactivityPeriod = inactivity
				cfg.InactivityFile = ""
			}
			if flags.Changed("output") {
				cfg.Output = out
			}
			if flags.Changed("format") {
				cfg.Format = format
			}
			if flags.Changed("filter") {
				cfg.Filter = filterExpr
			}
			if flags.Changed("metrics-file") {
				cfg.MetricsFile = metricsFile
			}
			if flags.Changed("time-layout") {
				cfg.TimeLayout = timeLayout
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg

			target, err := a.resolveOutput(cfg.Output)
			if err != nil {
				return err
			}
			runner, err := pipeline.NewRunner(cfg, a.logger, a.metrics, a.emitter)
			if err != nil {
				return err
			}

			opts := output.OptionsFromConfig(cfg)
			opts.Header = header
			opener := a.opener()

			res, err := runner.RunFiles(a.ctx, opener, []pipeline.Job{{Input: input, Output: target}}, opts, 1)
			if merr := a.writeMetrics(); err == nil {
				err = merr
			}
			if err != nil {
				return err
			}

			stats := res.Files[0].Stats
			a.logger.Info("run completed",
				"input", input,
				"threshold", runner.Threshold.String(),
				"requests", stats.Requests,
				"skipped", stats.Skipped,
				"filtered", stats.Filtered,
				"sessions", stats.Sessions,
				"duration", res.TotalDuration)
			return nil
		},
	}

	cmd.Flags().DurationVar(&inactivity, "inactivity", 0, "Inactivity period (overrides the inactivity file)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output target")
	cmd.Flags().StringVar(&format, "format", "", "Output format (csv|jsonl)")
	cmd.Flags().StringVar(&filterExpr, "filter", "", "Drop requests for which this expression is true")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file")
	cmd.Flags().StringVar(&timeLayout, "time-layout", "", "Layout of \"<date> <time>\" in the log")
	cmd.Flags().BoolVar(&header, "header", false, "Write a header row (csv only)")

	return cmd
}
