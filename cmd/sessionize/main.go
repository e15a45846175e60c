// Package main is the entry point for the sessionize CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "0.1.0"

// Global flags.
var (
	configFile string
	envFiles   []string
	verbose    bool
	logFormat  string
	eventsFile string
	runID      string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sessionize",
		Short: "Group web access logs into user sessions",
		Long: `Sessionize reads EDGAR-style access logs in time order, groups each
client's requests into sessions separated by an inactivity period, and
writes one row per session as soon as the session ends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Load variables from these dotenv files before reading the config")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (json|text)")
	root.PersistentFlags().StringVar(&eventsFile, "events", "", "Append lifecycle events as JSON lines to this file (- for stderr)")
	root.PersistentFlags().StringVar(&runID, "run-id", "", "Set explicit run ID")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newBatchCmd())
	root.AddCommand(newFetchCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newConfigCmd())

	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
