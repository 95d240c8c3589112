package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/herdctl/herd/pkg/command"
	"github.com/herdctl/herd/pkg/types"
)

var checkCmd = &cobra.Command{
	Use:   "check <mode> <command-file>",
	Short: "Validate a command file",
	Long: `Parse a command file and print the tasks it defines without
starting anything. Mode is "single" or "multi".`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := types.Mode(args[0])
		if !mode.Valid() {
			return fmt.Errorf("unknown mode %q", args[0])
		}

		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}

		defs, err := command.Parse(mode, data)
		if err != nil {
			return err
		}

		fmt.Printf("%d task(s)\n", len(defs))
		for i, def := range defs {
			fmt.Printf("task %d: queue %d, %d command(s), %dGB", i, def.QueueID, len(def.Commands), def.MemoryGB)
			if mode == types.ModeMulti {
				fmt.Printf(", %d gpu(s)", def.GPUCount)
			}
			fmt.Println()
		}
		return nil
	},
}
