package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gatherstone/venuescout/internal/pipeline"
)

var (
	runBBox      string
	runShapefile string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline end to end",
	Long:  "Executes collect, prevet, crawl, images, enrich, and verify in order. The first stage error aborts the run.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		bounds, err := resolveBounds(runBBox, runShapefile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Store.Close()
		env.Bounds = bounds

		return runStages(ctx, env, pipeline.AllStages()...)
	},
}

func init() {
	runCmd.Flags().StringVar(&runBBox, "bbox", "", "search area as minLon,minLat,maxLon,maxLat")
	runCmd.Flags().StringVar(&runShapefile, "shapefile", "", "shapefile whose bounding box defines the search area")
	rootCmd.AddCommand(runCmd)
}
