package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"arb-radar/internal/app"
	"arb-radar/internal/opportunity"
)

var (
	showKind  string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recently recorded opportunities",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		kind, err := opportunity.ParseKind(showKind)
		if err != nil {
			return err
		}

		return getApp().Show(cmd.Context(), app.ShowOptions{
			Kind:  kind,
			Limit: showLimit,
		})
	},
}

func init() {
	showCmd.Flags().StringVar(&showKind, "kind", string(opportunity.KindDirect), "Opportunity kind: direct, triangular or futures")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of opportunities to display")
}
