package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gatherstone/venuescout/internal/pipeline"
)

var prevetCmd = &cobra.Command{
	Use:   "prevet",
	Short: "Pre-vet collected venues by homepage keywords",
	Long:  "Fetches each pending venue's homepage and buckets it into yes / no / needs_confirmation based on keyword matches and source tags.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "prevet")
		if err != nil {
			return err
		}
		defer env.Store.Close()

		return runStages(ctx, env, &pipeline.PrevetStage{})
	},
}

func init() {
	rootCmd.AddCommand(prevetCmd)
}
