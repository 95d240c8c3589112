package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/herdctl/herd/pkg/client"
	"github.com/herdctl/herd/pkg/types"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Control schedulers on a running daemon",
}

func init() {
	schedulerCmd.PersistentFlags().String("api", "http://localhost:8080", "Control API base URL")

	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerStopCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerStatusCmd)
}

func apiClient(cmd *cobra.Command) *client.Client {
	base, _ := cmd.Flags().GetString("api")
	return client.NewClient(base)
}

func parseIdentityArgs(args []string) (types.Mode, int, error) {
	mode := types.Mode(args[0])
	if !mode.Valid() {
		return "", 0, fmt.Errorf("unknown mode %q", args[0])
	}
	index := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return "", 0, fmt.Errorf("invalid config index %q", args[1])
		}
		index = n
	}
	return mode, index, nil
}

var schedulerStartCmd = &cobra.Command{
	Use:   "start <mode> [config-index]",
	Short: "Start a scheduler",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, index, err := parseIdentityArgs(args)
		if err != nil {
			return err
		}

		result, err := apiClient(cmd).StartScheduler(mode, index)
		if err != nil {
			return err
		}
		fmt.Printf("started %s (pid %d)\n", result.Identity, result.PID)
		return nil
	},
}

var schedulerStopCmd = &cobra.Command{
	Use:   "stop <mode> [config-index]",
	Short: "Stop a scheduler",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, index, err := parseIdentityArgs(args)
		if err != nil {
			return err
		}

		if err := apiClient(cmd).StopScheduler(mode, index); err != nil {
			return err
		}
		fmt.Printf("stop requested for %s/%d\n", mode, index)
		return nil
	},
}

var schedulerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live schedulers",
	RunE: func(cmd *cobra.Command, args []string) error {
		snaps, err := apiClient(cmd).ListSchedulers()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("no live schedulers")
			return nil
		}

		fmt.Printf("%-12s %-10s %-8s %-16s %s\n", "IDENTITY", "STATE", "PID", "DEVICES", "TASKS (P/R/C/F)")
		for _, s := range snaps {
			fmt.Printf("%-12s %-10s %-8d %-16v %d/%d/%d/%d\n",
				s.Identity().String(), s.State, s.PID, s.ChosenDevices,
				s.Counters.Pending, s.Counters.Running, s.Counters.Completed, s.Counters.Failed)
		}
		return nil
	},
}

var schedulerStatusCmd = &cobra.Command{
	Use:   "status <mode> [config-index]",
	Short: "Show one scheduler's queues and tasks",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, index, err := parseIdentityArgs(args)
		if err != nil {
			return err
		}

		snap, err := apiClient(cmd).GetScheduler(mode, index)
		if err != nil {
			return err
		}

		fmt.Printf("%s: %s, devices %v, started %s\n",
			snap.Identity().String(), snap.State, snap.ChosenDevices,
			snap.StartedAt.Format("2006-01-02 15:04:05"))
		for _, q := range snap.Queues {
			fmt.Printf("  queue %d [%s] %d/%d done\n", q.ID, q.State, q.Counters.Completed, q.Counters.Total)
			for _, t := range q.Processes {
				line := fmt.Sprintf("    task %d [%s]", t.ID, t.State)
				if len(t.Devices) > 0 {
					line += fmt.Sprintf(" on %v", t.Devices)
				}
				if t.RetryCount > 0 {
					line += fmt.Sprintf(" retries=%d", t.RetryCount)
				}
				if t.LastError != "" {
					line += " (" + t.LastError + ")"
				}
				fmt.Println(line)
			}
		}
		return nil
	},
}
