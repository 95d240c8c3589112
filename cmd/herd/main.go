package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "herd",
	Short: "Herd - GPU task scheduler for shared workstations",
	Long: `Herd runs queues of shell tasks on a shared multi-GPU machine.

Tasks in one queue run strictly in order; queues run in parallel,
each claiming the least loaded free device before launching its next
task. Failing tasks retry with periodic backoff until an operator
stops the scheduler.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Herd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(gpusCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(schedulerCmd)
}
