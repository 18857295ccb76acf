// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	apiAddr    string
	apiTimeout time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "netdash",
	Short: "netdash - live network traffic dashboard engine",
	Long: `netdash captures frames from a network interface (or replays a pcap file),
decodes L2-L4 headers, aggregates per-protocol and per-flow counters over rolling
time windows, and publishes periodic snapshots to the local API, Kafka or NATS.

The daemon is started with "netdash run"; the other commands talk to it over
its HTTP API.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and NETDASH_* env vars when empty)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "127.0.0.1:8080",
		"daemon API address")
	rootCmd.PersistentFlags().DurationVar(&apiTimeout, "timeout", 10*time.Second,
		"API request timeout")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(interfacesCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(shutdownCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
