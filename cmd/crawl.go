package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gatherstone/venuescout/internal/pipeline"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl vetted venue websites into markdown documents",
	Long:  "Renders each vetted venue's homepage and same-domain subpages through the browser endpoint and assembles a source-annotated markdown document.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "crawl")
		if err != nil {
			return err
		}
		defer env.Store.Close()

		return runStages(ctx, env, &pipeline.CrawlStage{})
	},
}

func init() {
	rootCmd.AddCommand(crawlCmd)
}
