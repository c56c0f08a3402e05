package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"arb-radar/internal/app"
)

var (
	replayFile   string
	replayLimit  int
	replayRecord bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay captured feed events in event time",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayFile == "" {
			return fmt.Errorf("--file must be provided")
		}

		return getApp().Replay(cmd.Context(), app.ReplayOptions{
			File:   replayFile,
			Limit:  replayLimit,
			Record: replayRecord,
		})
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayFile, "file", "", "JSON-lines file of feed events")
	replayCmd.Flags().IntVar(&replayLimit, "limit", 5, "Rows to print per list")
	replayCmd.Flags().BoolVar(&replayRecord, "record", false, "Record publications to the database")
}
