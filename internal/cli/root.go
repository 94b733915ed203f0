// Package cli implements the docasync command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile  string
	logLevel    string
	logFormat   string
	engineType  string
	dataDir     string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "docasync",
	Short: "docasync - asynchronous access to embedded document databases",
	Long: `docasync runs document database operations on a shared worker pool and
delivers every outcome exactly once. The CLI offers an interactive shell over
the sqlite and pebble engines and a load generator that checks delivery.`,
	Version:       "0.1.0-dev",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file path (yaml, toml or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
	rootCmd.PersistentFlags().StringVarP(&engineType, "engine", "e", "", "storage engine: sqlite or pebble")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "dir", "d", "", "database directory")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9102")
}
