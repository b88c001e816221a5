package main

import (
	"fmt"
	"os"

	"github.com/cuemby/hostctl/internal/obslog"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build).
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "hostctl",
	Short:   "hostctl drives a host agent's convergence loop, load balancer, and application prepare routine",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("hostctl version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(lbCmd)
	rootCmd.AddCommand(prepareCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")

	obslog.Init(obslog.Config{
		Level:      obslog.Level(level),
		JSONOutput: jsonOutput,
	})
}
