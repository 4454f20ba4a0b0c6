package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/vfscache/internal/logger"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOut    bool
	logLevel   string
	logJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "fcachectl",
	Short: "Exercise and inspect the file buffer cache",
	Long: `fcachectl drives the file buffer cache and its arena allocator outside
of a real file system. It can replay synthetic read workloads against the cache
and stress the allocator with random allocation patterns.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/fcache/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output and diagnostics")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Diagnostic log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit diagnostics as JSON")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging routes cache diagnostics to the command's error output. They
// stay silent unless --verbose or an explicit --log-level is given.
func initLogging(cmd *cobra.Command) {
	levelSet := cmd.Flags().Changed("log-level")
	level := logger.ParseLevel(logLevel)
	if verbose && !levelSet {
		level = logger.ParseLevel("debug")
	}
	logger.Init(logger.Options{
		Enabled: verbose || levelSet,
		Level:   level,
		JSON:    logJSON,
		Writer:  cmd.ErrOrStderr(),
	})
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(w io.Writer, format string, args ...any) {
	if verbose {
		fmt.Fprintf(w, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
