package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gatherstone/venuescout/internal/pipeline"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Remove logo and watermark images from galleries",
	Long:  "Scores each downloaded image against logo/photo labels via the CLIP ranking API and deletes confident logo matches.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "verify")
		if err != nil {
			return err
		}
		defer env.Store.Close()

		return runStages(ctx, env, &pipeline.VerifyStage{})
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
