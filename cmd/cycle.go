package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cycleOrgID string

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one prospecting cycle now",
	Long:  "Discovers, extracts, scores, and sends for every active organization, or a single one with --org.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if cycleOrgID != "" {
			summary, err := env.Engine.RunCycle(ctx, cycleOrgID)
			if err != nil {
				return err
			}
			zap.L().Info("cycle summary",
				zap.String("org_id", cycleOrgID),
				zap.Int("found", summary.Found),
				zap.Int("sent", summary.Sent),
				zap.Int("deferred", summary.Deferred),
				zap.Strings("errors", summary.Errors),
			)
			return nil
		}

		return env.Engine.RunAllCycles(ctx)
	},
}

func init() {
	cycleCmd.Flags().StringVar(&cycleOrgID, "org", "", "run only this organization")
	rootCmd.AddCommand(cycleCmd)
}
