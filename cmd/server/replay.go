package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var replayBatch int64

var replayCmd = &cobra.Command{
	Use:   "replay-failed",
	Short: "Replay events parked on the retry list once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rt, err := connectRedisNATS(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		if replayBatch > 0 {
			cfg.Pipeline.RetryBatch = replayBatch
		}
		publisher, failures := newPublisher(rt)
		sweeper := newRetrySweeper(rt, publisher, failures)

		replayed, err := sweeper.SweepOnce(ctx)
		log.Info("replay finished", zap.Int("replayed", replayed), zap.Error(err))
		fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events\n", replayed)
		return err
	},
}

func init() {
	replayCmd.Flags().Int64Var(&replayBatch, "batch", 0, "maximum events to replay (defaults to pipeline.retry_batch)")
	rootCmd.AddCommand(replayCmd)
}
