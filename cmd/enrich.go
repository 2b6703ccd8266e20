package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gatherstone/venuescout/internal/pipeline"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Extract structured venue attributes via Claude",
	Long:  "Sends each crawled document through schema-constrained Claude extraction, retrying with higher temperature on malformed output.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "enrich")
		if err != nil {
			return err
		}
		defer env.Store.Close()

		return runStages(ctx, env, &pipeline.EnrichStage{})
	},
}

func init() {
	rootCmd.AddCommand(enrichCmd)
}
