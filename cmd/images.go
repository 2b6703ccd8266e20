package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gatherstone/venuescout/internal/pipeline"
)

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Download image galleries from crawled documents",
	Long:  "Extracts image URLs from each venue's crawled document and downloads them to per-venue gallery directories, skipping files below the size floor.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "images")
		if err != nil {
			return err
		}
		defer env.Store.Close()

		return runStages(ctx, env, &pipeline.ImagesStage{})
	},
}

func init() {
	rootCmd.AddCommand(imagesCmd)
}
