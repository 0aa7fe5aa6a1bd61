package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"host-sentinel/internal/app"
)

var (
	showLimit    int
	showVerdicts bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recently persisted alert events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:    showLimit,
			Verdicts: showVerdicts,
		}

		return getApp().Show(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
	showCmd.Flags().BoolVar(&showVerdicts, "verdicts", false, "Show anomaly verdicts instead of alert events")
}
