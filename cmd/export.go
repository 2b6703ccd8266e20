package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gatherstone/venuescout/internal/export"
	"github.com/gatherstone/venuescout/internal/model"
)

var (
	exportOut          string
	exportStatus       string
	exportEnrichedOnly bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export venues to an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("export"); err != nil {
			return err
		}

		if exportStatus != "" {
			switch model.PrevetStatus(exportStatus) {
			case model.PrevetPending, model.PrevetYes, model.PrevetNo, model.PrevetNeedsConfirmation:
			default:
				return eris.Errorf("invalid --status value: %s", exportStatus)
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		n, err := export.WriteWorkbook(ctx, st, exportOut, export.Options{
			EnrichedOnly: exportEnrichedOnly,
			Status:       model.PrevetStatus(exportStatus),
		})
		if err != nil {
			return err
		}

		zap.L().Info("export complete", zap.String("path", exportOut), zap.Int("venues", n))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "venues.xlsx", "output workbook path")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "limit to one pre-vetting bucket")
	exportCmd.Flags().BoolVar(&exportEnrichedOnly, "enriched-only", false, "only export venues with a validated extraction")
	rootCmd.AddCommand(exportCmd)
}
