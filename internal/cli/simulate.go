package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"host-sentinel/internal/app"
)

var (
	simulateCPU       string
	simulateMemory    string
	simulateDisk      string
	simulateStep      time.Duration
	simulateCSVPath   string
	simulateMaxPoints int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay scripted usage series through the monitoring pipeline",
	Long: `Replay scripted usage series through the monitoring pipeline.

Series are comma separated percentages; "VALUExN" repeats a value N times,
for example --cpu 10x55,95x5. Shorter series hold their last value.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateCPU == "" && simulateMemory == "" && simulateDisk == "" {
			return errors.New("at least one of --cpu, --memory or --disk must be provided")
		}
		if simulateStep <= 0 {
			return errors.New("--step must be positive")
		}

		opts := app.SimulateOptions{
			CPU:       simulateCPU,
			Memory:    simulateMemory,
			Disk:      simulateDisk,
			Step:      simulateStep,
			CSVPath:   simulateCSVPath,
			MaxPoints: simulateMaxPoints,
			Out:       cmd.OutOrStdout(),
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCPU, "cpu", "", "CPU usage series")
	simulateCmd.Flags().StringVar(&simulateMemory, "memory", "", "Memory usage series")
	simulateCmd.Flags().StringVar(&simulateDisk, "disk", "", "Disk usage series")
	simulateCmd.Flags().DurationVar(&simulateStep, "step", time.Second, "Simulated time between samples")
	simulateCmd.Flags().StringVar(&simulateCSVPath, "csv", "", "Path to write per-tick CSV")
	simulateCmd.Flags().IntVar(&simulateMaxPoints, "max-points", 0, "Maximum rows to write to the CSV (0 keeps all)")
}
