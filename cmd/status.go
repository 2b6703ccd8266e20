package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/gatherstone/venuescout/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline statistics",
	Long:  "Display venue, tile, pre-vetting, and enrichment counts from the store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		counts, err := st.Count(ctx)
		if err != nil {
			return eris.Wrap(err, "count")
		}

		fmt.Println("=== Pipeline Status ===")
		fmt.Printf("Venues:           %d\n", counts.Venues)
		fmt.Printf("Tiles collected:  %d\n", counts.Tiles)
		fmt.Printf("Enriched:         %d\n", counts.Enriched)
		fmt.Println()

		fmt.Println("Pre-vetting:")
		for _, status := range []model.PrevetStatus{
			model.PrevetPending, model.PrevetYes, model.PrevetNo, model.PrevetNeedsConfirmation,
		} {
			fmt.Printf("  %-20s %d\n", status, counts.Prevet[status])
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
