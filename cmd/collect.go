package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gatherstone/venuescout/internal/pipeline"
)

var (
	collectBBox      string
	collectShapefile string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect candidate venues from OpenStreetMap",
	Long:  "Tiles the search area and queries Overpass for venue-like elements, upserting them into the store. Completed tiles are skipped on re-runs.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		bounds, err := resolveBounds(collectBBox, collectShapefile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "collect")
		if err != nil {
			return err
		}
		defer env.Store.Close()
		env.Bounds = bounds

		return runStages(ctx, env, &pipeline.CollectStage{})
	},
}

func init() {
	collectCmd.Flags().StringVar(&collectBBox, "bbox", "", "search area as minLon,minLat,maxLon,maxLat")
	collectCmd.Flags().StringVar(&collectShapefile, "shapefile", "", "shapefile whose bounding box defines the search area")
	rootCmd.AddCommand(collectCmd)
}
