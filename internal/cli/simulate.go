package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"arb-radar/internal/app"
)

var (
	simulateTicks   int
	simulateVenues  []string
	simulateSeed    uint64
	simulateLimit   int
	simulateFutures bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the engine against a seeded random-walk market",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateTicks <= 0 {
			return fmt.Errorf("--ticks must be greater than zero")
		}

		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Ticks:   simulateTicks,
			Venues:  simulateVenues,
			Seed:    simulateSeed,
			Limit:   simulateLimit,
			Futures: simulateFutures,
		})
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateTicks, "ticks", 10, "Number of ticks to run")
	simulateCmd.Flags().StringSliceVar(&simulateVenues, "venues", nil, "Venues to simulate (defaults to a demo set)")
	simulateCmd.Flags().Uint64Var(&simulateSeed, "seed", 1, "Random seed")
	simulateCmd.Flags().IntVar(&simulateLimit, "limit", 5, "Rows to print per list")
	simulateCmd.Flags().BoolVar(&simulateFutures, "futures", true, "Also quote perpetual futures")
}
