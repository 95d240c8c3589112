package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/herdctl/herd/pkg/gpu"
	"github.com/herdctl/herd/pkg/log"
)

var gpusCmd = &cobra.Command{
	Use:   "gpus",
	Short: "Show the current state of all devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Init(log.Config{Level: log.WarnLevel})

		probe := gpu.NewSMIProbe()
		ids, err := probe.ListDevices()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("no devices visible")
			return nil
		}

		fmt.Printf("%-4s %-28s %6s %8s %10s %10s %8s\n",
			"ID", "NAME", "TEMP", "UTIL", "MEM USED", "MEM FREE", "PROCS")
		for _, id := range ids {
			snap, err := probe.Device(id)
			if err != nil {
				fmt.Printf("%-4d probe failed: %v\n", id, err)
				continue
			}
			fmt.Printf("%-4d %-28s %5.0fC %7.0f%% %8.1fGB %8.1fGB %8d\n",
				snap.Index, snap.Name, snap.Temperature, snap.UtilizationPct,
				snap.MemoryUsedGB, snap.MemoryFreeGB, len(snap.Processes))
		}
		return nil
	},
}
